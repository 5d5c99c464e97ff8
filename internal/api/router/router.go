package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskbid/taskbid-backend/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "taskbid-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	bidHandler := handler.NewBidHandler(deps)
	escrowHandler := handler.NewEscrowHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("/nearby", jobHandler.NearbyJobs)
			jobs.PATCH("/:job_id", jobHandler.UpdateJob)
			jobs.POST("/:job_id/status", jobHandler.UpdateStatus)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)

			jobs.POST("/:job_id/codes", escrowHandler.GenerateCodes)
			jobs.POST("/:job_id/codes/regenerate", escrowHandler.RegenerateCodes)
			jobs.POST("/:job_id/codes/verify-start", escrowHandler.VerifyStartCode)
			jobs.POST("/:job_id/codes/verify-release", escrowHandler.VerifyReleaseCode)
			jobs.POST("/:job_id/escrow", escrowHandler.LockEscrow)
			jobs.POST("/:job_id/escrow/release", escrowHandler.ReleasePayment)
		}

		bids := v1.Group("/bids")
		{
			bids.POST("", bidHandler.PlaceBid)
			bids.POST("/:bid_id/accept", bidHandler.AcceptBid)
			bids.POST("/:bid_id/handshake", bidHandler.Handshake)
		}
	}

	return r
}
