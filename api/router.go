package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router 建立並註冊所有路由
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())

	router.GET("/healthz", s.GetHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := router.Group("/api")
	public.GET("/crops", s.GetCrops)
	public.GET("/crops/popular", s.GetPopularCrops)
	public.GET("/crops/:id", s.GetCrop)
	public.GET("/crops/:id/events", s.GetCropEvents)
	public.GET("/prices/history", s.GetPriceHistory)

	private := router.Group("/api", s.Authenticate())
	private.POST("/bids", s.PostBid)
	private.POST("/bids/respond", RequireRole(RoleFarmer), s.PostBidResponse)
	private.POST("/crops", RequireRole(RoleFarmer), s.PostCrop)
	private.POST("/crops/:id/publish", RequireRole(RoleFarmer), s.PostCropPublish)
	private.GET("/my-crops", RequireRole(RoleFarmer), s.GetMyCrops)
	private.GET("/my-bids", s.GetMyBids)
	private.GET("/stats/farmer", RequireRole(RoleFarmer), s.GetFarmerStats)
	private.GET("/stats/buyer", RequireRole(RoleBuyer), s.GetBuyerStats)
	private.GET("/prices/recommend", s.GetRecommendedPrice)
	private.POST("/images", s.PostImage)
	return router
}

func (s *Server) accessLog() gin.HandlerFunc {
	logger := s.logger.With(slog.String("caller", "AccessLog"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

// Health check
// (GET /healthz)
func (s *Server) GetHealthz(c *gin.Context) {
	sqlDB, err := s.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		s.logger.Error("database is unreachable", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
