package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskbid/taskbid-backend/internal/bidding"
	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/escrow"
	"github.com/taskbid/taskbid-backend/internal/geosync"
	"github.com/taskbid/taskbid-backend/internal/lifecycle"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Lifecycle *lifecycle.Service
	Bidding   *bidding.Service
	Escrow    *escrow.Service
	GeoSync   *geosync.Service
}

// actorID extracts the authenticated caller set by the auth middleware
// (authentication itself is an upstream concern).
func actorID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

// respondError maps the domain error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError

	switch domain.KindOf(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict:
		status = http.StatusConflict
	case domain.KindForbidden:
		status = http.StatusForbidden
	default:
		logger.Error("Internal error",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
