package notify

import (
	"fmt"
	"log/slog"

	"mandi/adapters/redis"
	"mandi/market"
)

// DefaultStream 是通知的 redis stream
const DefaultStream = "mandi:notifications"

// Gateway 把通知放進 redis stream，由 Dispatcher 在背景送出，實作 market.Notifier
type Gateway struct {
	producer redis.IProducer[market.Notification]
	logger   *slog.Logger
}

func NewGateway(producer redis.IProducer[market.Notification], logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		producer: producer,
		logger:   logger.With(slog.String("caller", "NotifyGateway")),
	}
}

// Notify 不會等待 redis 寫入，只在 producer 已關閉或編碼失敗時回傳錯誤
func (g *Gateway) Notify(n market.Notification) error {
	const op = "Gateway.Notify"
	if err := g.producer.Publish(n); err != nil {
		return fmt.Errorf("[%s] Fail to enqueue notification, err=%w", op, err)
	}
	g.logger.Debug("notification queued",
		slog.String("userId", n.UserID.String()),
		slog.String("kind", n.Kind))
	return nil
}
