package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskbid/taskbid-backend/internal/api/dto"
	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/geosync"
	"github.com/taskbid/taskbid-backend/internal/lifecycle"
)

// JobHandler handles job lifecycle and discovery HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	lifecycle *lifecycle.Service
	geoSync   *geosync.Service
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		lifecycle: deps.Lifecycle,
		geoSync:   deps.GeoSync,
	}
}

func jobToResponse(job *domain.Job) dto.JobResponse {
	return dto.JobResponse{
		JobID:       job.JobID,
		Title:       job.Title,
		Description: job.Description,
		Status:      string(job.Status),
		AddressID:   job.AddressID,
		Price:       job.Price,
		Urgency:     job.Urgency,
		CreatedBy:   job.CreatedBy,
		AssignedTo:  job.AssignedTo,
		CreatedAt:   formatTime(job.CreatedAt),
		UpdatedAt:   formatTime(job.UpdatedAt),
	}
}

// CreateJob handles POST /api/v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.lifecycle.CreateJob(c.Request.Context(), actorID(c), lifecycle.CreateJobRequest{
		Title:          req.Title,
		Description:    req.Description,
		AddressID:      req.AddressID,
		Price:          req.Price,
		Urgency:        req.Urgency,
		RequiredSkills: req.RequiredSkills,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, jobToResponse(job))
}

// UpdateJob handles PATCH /api/v1/jobs/:job_id
func (h *JobHandler) UpdateJob(c *gin.Context) {
	var req dto.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.lifecycle.UpdateJob(c.Request.Context(), c.Param("job_id"), actorID(c), lifecycle.UpdateJobPatch{
		Title:       req.Title,
		Description: req.Description,
		AddressID:   req.AddressID,
		Price:       req.Price,
		Urgency:     req.Urgency,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// UpdateStatus handles POST /api/v1/jobs/:job_id/status
func (h *JobHandler) UpdateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	target, err := domain.ParseJobStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.lifecycle.UpdateStatus(c.Request.Context(), c.Param("job_id"), actorID(c), target)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	if err := h.lifecycle.DeleteJob(c.Request.Context(), c.Param("job_id"), actorID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// NearbyJobs handles GET /api/v1/jobs/nearby?lat=..&lon=..&radius_km=..&limit=..
func (h *JobHandler) NearbyJobs(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lat"})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lon"})
		return
	}

	radiusKm, _ := strconv.ParseFloat(c.DefaultQuery("radius_km", "25"), 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	members, err := h.geoSync.FindNearby(c.Request.Context(), lat, lon, radiusKm, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	results := make([]dto.NearbyJobResponse, 0, len(members))
	for _, m := range members {
		results = append(results, dto.NearbyJobResponse{
			JobID:      m.JobID,
			DistanceKm: m.DistanceKm,
		})
	}
	c.JSON(http.StatusOK, gin.H{"jobs": results})
}
