package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"mandi/adapters/s3"
	"mandi/market"
)

// statusOf 將核心錯誤分類轉換為 HTTP 狀態碼
func statusOf(err error) int {
	switch market.KindOf(err) {
	case market.KindNotFound:
		return http.StatusNotFound
	case market.KindInvalidInput, market.KindInvalidOperation:
		return http.StatusBadRequest
	case market.KindInvalidState:
		return http.StatusConflict
	case market.KindForbidden:
		return http.StatusForbidden
	case market.KindTransient:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, s3.ErrRateLimited) {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// writeError 回應錯誤，未分類的錯誤只記錄在日誌中，不回傳細節
func (s *Server) writeError(c *gin.Context, op string, err error) {
	status := statusOf(err)
	message := market.MessageOf(err)
	switch {
	case status == http.StatusTooManyRequests:
		message = err.Error()
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed", slog.String("op", op), slog.Any("error", err))
	default:
		s.logger.Debug("request rejected", slog.String("op", op), slog.Any("error", err))
	}
	c.JSON(status, gin.H{"message": message})
}

// writeBindError 回應請求格式錯誤，列出驗證失敗的欄位
func writeBindError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string, len(validationErrors))
		for _, fe := range validationErrors {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request", "fields": fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request"})
}
