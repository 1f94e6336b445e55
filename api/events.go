package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// livePriceReader 讀取跨實例共享的即時價格
type livePriceReader interface {
	CurrentPrice(ctx context.Context, cropID uuid.UUID) (decimal.Decimal, bool, error)
}

// priceSnapshot 是連線建立時送出的第一個事件
type priceSnapshot struct {
	CropID       uuid.UUID       `json:"crop_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	BidCount     int             `json:"bid_count"`
}

// Track live bid events of a crop
// (GET /api/crops/{id}/events)
func (s *Server) GetCropEvents(c *gin.Context) {
	const op = "GetCropEvents"
	id, ok := cropIDParam(c)
	if !ok {
		return
	}
	// 檢查作物是否存在
	crop, err := s.store.FindCrop(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, op, err)
		return
	}

	ch, err := s.sseManager.Subscribe(id.String())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "server is shutting down"})
		return
	}
	defer s.sseManager.Unsubscribe(id.String(), ch)

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.WriteString(": connected\n\n")
	c.SSEvent("snapshot", s.snapshotOf(c.Request.Context(), crop.ID, crop.CurrentPrice, crop.BidCount))
	w.Flush()

	heartbeat := s.config.Market.SSEHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultSSEHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(event.Kind, event)
			w.Flush()
		// 一段時間沒有事件就送出註解，確保瀏覽器與代理伺服器不會斷開連線
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				s.logger.Debug("sse client gone", slog.String("cropId", id.String()), slog.Any("error", err))
				return
			}
			w.Flush()
		}
	}
}

// snapshotOf 以資料庫的價格為準，redis 記錄到更高的價格時改用 redis 的
func (s *Server) snapshotOf(ctx context.Context, cropID uuid.UUID, price decimal.Decimal, bidCount int) priceSnapshot {
	snapshot := priceSnapshot{CropID: cropID, CurrentPrice: price, BidCount: bidCount}
	if s.livePrices == nil {
		return snapshot
	}
	live, ok, err := s.livePrices.CurrentPrice(ctx, cropID)
	if err != nil {
		s.logger.Warn("fail to read live price", slog.String("cropId", cropID.String()), slog.Any("error", err))
		return snapshot
	}
	if ok && live.GreaterThan(price) {
		snapshot.CurrentPrice = live
	}
	return snapshot
}
