package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"mandi/market"
	"mandi/models"
)

// Get market price history of a crop
// (GET /api/prices/history)
func (s *Server) GetPriceHistory(c *gin.Context) {
	const op = "GetPriceHistory"
	var query struct {
		Crop     string `form:"crop" binding:"required,max=100"`
		Location string `form:"location" binding:"max=100"`
		Days     int    `form:"days" binding:"gte=0,lte=365"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindError(c, err)
		return
	}
	history, err := s.advisor.PriceHistory(c.Request.Context(), query.Crop, query.Location, query.Days)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"crop":     query.Crop,
		"location": query.Location,
		"history":  history,
	})
}

// Get a recommended price for a crop
// (GET /api/prices/recommend)
func (s *Server) GetRecommendedPrice(c *gin.Context) {
	const op = "GetRecommendedPrice"
	var query struct {
		Crop     string `form:"crop" binding:"required,max=100"`
		Quality  string `form:"quality" binding:"omitempty,grade"`
		Location string `form:"location" binding:"max=100"`
		Quantity string `form:"quantity"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindError(c, err)
		return
	}
	quantity, err := parseOptionalDecimal(op, "quantity", query.Quantity)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	amount := decimal.Zero
	if quantity != nil {
		amount = *quantity
	}
	grade := models.QualityGrade(query.Quality)
	if grade == "" {
		grade = models.GradeB
	}
	price, err := s.advisor.RecommendPrice(c.Request.Context(), market.PriceQuery{
		Crop:     query.Crop,
		Quality:  grade,
		Location: query.Location,
		Quantity: amount,
	})
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	if price == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "not enough market data to recommend a price"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommended_price": price})
}
