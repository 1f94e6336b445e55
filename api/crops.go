package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"mandi/market"
	"mandi/models"
)

type createCropRequest struct {
	Name         string           `json:"name" binding:"required,max=100"`
	Variety      string           `json:"variety" binding:"max=100"`
	Quantity     decimal.Decimal  `json:"quantity" binding:"required,gt=0"`
	Unit         string           `json:"unit" binding:"max=20"`
	QualityGrade string           `json:"quality_grade" binding:"omitempty,grade"`
	MinPrice     decimal.Decimal  `json:"min_price" binding:"required,gt=0"`
	CurrentPrice *decimal.Decimal `json:"current_price" binding:"omitempty,gt=0"`
	Description  string           `json:"description" binding:"max=5000"`
	District     string           `json:"district" binding:"max=100"`
	State        string           `json:"state" binding:"max=100"`
	Images       []string         `json:"images" binding:"max=10,dive,url"`
	HarvestDate  *time.Time       `json:"harvest_date"`
	ExpiryDate   *time.Time       `json:"expiry_date"`
	BidEndDate   *time.Time       `json:"bid_end_date"`
	Publish      bool             `json:"publish"`
}

type listCropsQuery struct {
	Search   string `form:"search" binding:"max=100"`
	MinPrice string `form:"min_price"`
	MaxPrice string `form:"max_price"`
	Quality  string `form:"quality" binding:"omitempty,grade"`
	Location string `form:"location" binding:"max=100"`
	FarmerID string `form:"farmer_id" binding:"omitempty,uuid"`
	Status   string `form:"status"`
	Page     int    `form:"page" binding:"gte=0"`
	Limit    int    `form:"limit" binding:"gte=0"`
}

func parseOptionalDecimal(op, field, raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, market.InvalidInput(op, field+" must be a number")
	}
	return &value, nil
}

func (q listCropsQuery) filter() (market.CropFilter, error) {
	const op = "ListCrops"
	minPrice, err := parseOptionalDecimal(op, "min_price", q.MinPrice)
	if err != nil {
		return market.CropFilter{}, err
	}
	maxPrice, err := parseOptionalDecimal(op, "max_price", q.MaxPrice)
	if err != nil {
		return market.CropFilter{}, err
	}
	filter := market.CropFilter{
		Search:   strings.TrimSpace(q.Search),
		MinPrice: minPrice,
		MaxPrice: maxPrice,
		Quality:  models.QualityGrade(q.Quality),
		Location: strings.TrimSpace(q.Location),
		Status:   models.CropStatus(q.Status),
		Page:     q.Page,
		Limit:    q.Limit,
	}
	if q.FarmerID != "" {
		filter.FarmerID = lo.ToPtr(uuid.MustParse(q.FarmerID))
	}
	return filter, nil
}

func cropIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid crop id"})
		return uuid.Nil, false
	}
	return id, true
}

// List crops
// (GET /api/crops)
func (s *Server) GetCrops(c *gin.Context) {
	const op = "GetCrops"
	var query listCropsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindError(c, err)
		return
	}
	filter, err := query.filter()
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	page, err := s.catalog.ListCrops(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// List popular crops
// (GET /api/crops/popular)
func (s *Server) GetPopularCrops(c *gin.Context) {
	const op = "GetPopularCrops"
	crops, err := s.catalog.PopularCrops(c.Request.Context())
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crops": crops})
}

// Get crop details
// (GET /api/crops/{id})
func (s *Server) GetCrop(c *gin.Context) {
	const op = "GetCrop"
	id, ok := cropIDParam(c)
	if !ok {
		return
	}
	details, err := s.catalog.GetCropDetails(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// Add a new crop listing
// (POST /api/crops)
func (s *Server) PostCrop(c *gin.Context) {
	const op = "PostCrop"
	var request createCropRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBindError(c, err)
		return
	}
	crop, err := s.lifecycle.CreateCrop(c.Request.Context(), currentUserID(c), market.CropDraft{
		Name:         request.Name,
		Variety:      request.Variety,
		Quantity:     request.Quantity,
		Unit:         request.Unit,
		QualityGrade: models.QualityGrade(request.QualityGrade),
		MinPrice:     request.MinPrice,
		CurrentPrice: request.CurrentPrice,
		Description:  request.Description,
		District:     request.District,
		State:        request.State,
		Images:       request.Images,
		HarvestDate:  request.HarvestDate,
		ExpiryDate:   request.ExpiryDate,
		BidEndDate:   request.BidEndDate,
		Publish:      request.Publish,
	})
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.Header("Location", "/api/crops/"+crop.ID.String())
	c.JSON(http.StatusCreated, gin.H{"crop": crop})
}

// Publish a draft crop
// (POST /api/crops/{id}/publish)
func (s *Server) PostCropPublish(c *gin.Context) {
	const op = "PostCropPublish"
	id, ok := cropIDParam(c)
	if !ok {
		return
	}
	crop, err := s.lifecycle.Publish(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crop": crop})
}

// List crops of the current farmer
// (GET /api/my-crops)
func (s *Server) GetMyCrops(c *gin.Context) {
	const op = "GetMyCrops"
	var query struct {
		Page  int `form:"page" binding:"gte=0"`
		Limit int `form:"limit" binding:"gte=0"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindError(c, err)
		return
	}
	page, err := s.catalog.CropsByFarmer(c.Request.Context(), currentUserID(c), query.Page, query.Limit)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get statistics of the current farmer
// (GET /api/stats/farmer)
func (s *Server) GetFarmerStats(c *gin.Context) {
	const op = "GetFarmerStats"
	stats, err := s.catalog.FarmerStats(c.Request.Context(), currentUserID(c))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
