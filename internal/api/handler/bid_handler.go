package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskbid/taskbid-backend/internal/api/dto"
	"github.com/taskbid/taskbid-backend/internal/bidding"
	"github.com/taskbid/taskbid-backend/internal/domain"
)

// BidHandler handles bid negotiation HTTP requests
type BidHandler struct {
	logger  *slog.Logger
	bidding *bidding.Service
}

// NewBidHandler creates a new BidHandler instance
func NewBidHandler(deps *Dependencies) *BidHandler {
	return &BidHandler{
		logger:  deps.Logger,
		bidding: deps.Bidding,
	}
}

func bidToResponse(bid *domain.Bid) dto.BidResponse {
	return dto.BidResponse{
		BidID:    bid.BidID,
		JobID:    bid.JobID,
		WorkerID: bid.WorkerID,
		Amount:   bid.Amount,
		Status:   string(bid.Status),
	}
}

// PlaceBid handles POST /api/v1/bids
func (h *BidHandler) PlaceBid(c *gin.Context) {
	var req dto.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	bid, err := h.bidding.PlaceBid(c.Request.Context(), req.JobID, actorID(c), req.Amount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, bidToResponse(bid))
}

// AcceptBid handles POST /api/v1/bids/:bid_id/accept
func (h *BidHandler) AcceptBid(c *gin.Context) {
	bid, err := h.bidding.AcceptBid(c.Request.Context(), c.Param("bid_id"), actorID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, bidToResponse(bid))
}

// Handshake handles POST /api/v1/bids/:bid_id/handshake
func (h *BidHandler) Handshake(c *gin.Context) {
	var req dto.HandshakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.bidding.Handshake(c.Request.Context(), c.Param("bid_id"), actorID(c), req.Accepted)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}
