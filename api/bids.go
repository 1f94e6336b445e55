package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mandi/market"
)

type placeBidRequest struct {
	CropID  uuid.UUID       `json:"crop_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required,gt=0"`
	Message string          `json:"message" binding:"max=500"`
}

type respondRequest struct {
	BidID         uuid.UUID        `json:"bid_id" binding:"required"`
	Action        string           `json:"action" binding:"required,oneof=accept reject counter"`
	CounterAmount *decimal.Decimal `json:"counter_amount"`
}

// Place a bid on a crop
// (POST /api/bids)
func (s *Server) PostBid(c *gin.Context) {
	const op = "PostBid"
	var request placeBidRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBindError(c, err)
		return
	}
	bid, err := s.engine.PlaceBid(c.Request.Context(), market.PlaceBidRequest{
		CropID:  request.CropID,
		BuyerID: currentUserID(c),
		Amount:  request.Amount,
		Message: request.Message,
	})
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Bid placed successfully",
		"bid":     bid,
	})
}

// Respond to a bid (accept, reject or counter)
// (POST /api/bids/respond)
func (s *Server) PostBidResponse(c *gin.Context) {
	const op = "PostBidResponse"
	var request respondRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBindError(c, err)
		return
	}
	result, err := s.resolver.Respond(c.Request.Context(), market.RespondRequest{
		BidID:         request.BidID,
		ResponderID:   currentUserID(c),
		Action:        market.Action(request.Action),
		CounterAmount: request.CounterAmount,
	})
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// List bids placed by the current buyer
// (GET /api/my-bids)
func (s *Server) GetMyBids(c *gin.Context) {
	const op = "GetMyBids"
	bids, err := s.catalog.BidsByBuyer(c.Request.Context(), currentUserID(c))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": bids})
}

// Get statistics of the current buyer
// (GET /api/stats/buyer)
func (s *Server) GetBuyerStats(c *gin.Context) {
	const op = "GetBuyerStats"
	stats, err := s.catalog.BuyerStats(c.Request.Context(), currentUserID(c))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
