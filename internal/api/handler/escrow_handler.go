package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskbid/taskbid-backend/internal/api/dto"
	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/escrow"
)

// EscrowHandler handles confirmation-code and payment HTTP requests
type EscrowHandler struct {
	logger *slog.Logger
	escrow *escrow.Service
}

// NewEscrowHandler creates a new EscrowHandler instance
func NewEscrowHandler(deps *Dependencies) *EscrowHandler {
	return &EscrowHandler{
		logger: deps.Logger,
		escrow: deps.Escrow,
	}
}

func codesToResponse(code *domain.ConfirmationCode) dto.CodesResponse {
	return dto.CodesResponse{
		JobID:       code.JobID,
		StartCode:   code.StartCode,
		ReleaseCode: code.ReleaseCode,
		Status:      string(code.Status),
		ExpiresAt:   formatTime(code.ExpiresAt),
	}
}

func paymentToResponse(tr *domain.PaymentTransaction) dto.PaymentResponse {
	return dto.PaymentResponse{
		TransactionID: tr.TransactionID,
		JobID:         tr.JobID,
		ClientID:      tr.ClientID,
		WorkerID:      tr.WorkerID,
		Amount:        tr.Amount,
		Status:        string(tr.Status),
	}
}

// GenerateCodes handles POST /api/v1/jobs/:job_id/codes
func (h *EscrowHandler) GenerateCodes(c *gin.Context) {
	code, err := h.escrow.GenerateCodes(c.Request.Context(), c.Param("job_id"), actorID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, codesToResponse(code))
}

// RegenerateCodes handles POST /api/v1/jobs/:job_id/codes/regenerate
func (h *EscrowHandler) RegenerateCodes(c *gin.Context) {
	code, err := h.escrow.RegenerateCodes(c.Request.Context(), c.Param("job_id"), actorID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, codesToResponse(code))
}

// VerifyStartCode handles POST /api/v1/jobs/:job_id/codes/verify-start
func (h *EscrowHandler) VerifyStartCode(c *gin.Context) {
	var req dto.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.escrow.VerifyStartCode(c.Request.Context(), c.Param("job_id"), actorID(c), req.Code); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "work_started"})
}

// VerifyReleaseCode handles POST /api/v1/jobs/:job_id/codes/verify-release
func (h *EscrowHandler) VerifyReleaseCode(c *gin.Context) {
	var req dto.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.escrow.VerifyReleaseCode(c.Request.Context(), c.Param("job_id"), actorID(c), req.Code); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "release_authorized"})
}

// LockEscrow handles POST /api/v1/jobs/:job_id/escrow
func (h *EscrowHandler) LockEscrow(c *gin.Context) {
	var req dto.LockEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	tr, err := h.escrow.LockEscrow(c.Request.Context(), c.Param("job_id"), actorID(c), req.Amount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, paymentToResponse(tr))
}

// ReleasePayment handles POST /api/v1/jobs/:job_id/escrow/release
func (h *EscrowHandler) ReleasePayment(c *gin.Context) {
	tr, err := h.escrow.ReleasePayment(c.Request.Context(), c.Param("job_id"), actorID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, paymentToResponse(tr))
}
