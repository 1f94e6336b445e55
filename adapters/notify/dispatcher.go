package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mandi/adapters/redis"
	"mandi/market"
	"mandi/models"
)

var dispatchedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mandi_notifications_dispatched_total",
	Help: "Notifications handled by the dispatcher, by result.",
}, []string{"result"})

// UserDirectory 查詢通知對象的聯絡資訊
type UserDirectory interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Dispatcher 從 consumer group 讀取通知，查出使用者電話後交給 Sender 發送。
// 發送失敗的通知會被移到 dead-letter stream。
type Dispatcher struct {
	consumer redis.IGroupConsumer[market.Notification]
	users    UserDirectory
	sender   Sender
	logger   *slog.Logger
}

func NewDispatcher(
	consumer redis.IGroupConsumer[market.Notification],
	users UserDirectory,
	sender Sender,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		consumer: consumer,
		users:    users,
		sender:   sender,
		logger:   logger.With(slog.String("caller", "NotifyDispatcher")),
	}
}

// Run 持續處理通知直到 ctx 結束
func (d *Dispatcher) Run(ctx context.Context) error {
	const op = "Dispatcher.Run"

	if err := d.consumer.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start consumer, err=%w", op, err)
	}
	defer d.consumer.Close()

	d.logger.Info("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopped")
			return nil
		case msg, ok := <-d.consumer.Subscribe():
			if !ok {
				return nil
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg *redis.Message[market.Notification]) {
	n := msg.Data
	logger := d.logger.With(
		slog.String("userId", n.UserID.String()),
		slog.String("kind", n.Kind))

	err := d.deliver(ctx, n)
	switch {
	case errors.Is(err, errNoRecipient):
		dispatchedCounter.WithLabelValues("skipped").Inc()
		logger.Warn("notification skipped", slog.Any("error", err))
		err = msg.Done(ctx)
	case err != nil:
		dispatchedCounter.WithLabelValues("failed").Inc()
		logger.Error("notification delivery failed", slog.Any("error", err))
		err = msg.Fail(ctx, err)
	default:
		dispatchedCounter.WithLabelValues("sent").Inc()
		err = msg.Done(ctx)
	}
	if err != nil {
		logger.Error("failed to ack notification", slog.Any("error", err))
	}
}

var errNoRecipient = errors.New("recipient has no reachable phone number")

func (d *Dispatcher) deliver(ctx context.Context, n market.Notification) error {
	const op = "Dispatcher.deliver"

	user, err := d.users.FindUser(ctx, n.UserID)
	if errors.Is(err, market.ErrNotFound) {
		return fmt.Errorf("[%s] user %s, err=%w", op, n.UserID, errNoRecipient)
	}
	if err != nil {
		return fmt.Errorf("[%s] Fail to find user, err=%w", op, err)
	}
	if user.Phone == "" {
		return fmt.Errorf("[%s] user %s, err=%w", op, n.UserID, errNoRecipient)
	}

	if err := d.sender.Send(ctx, FormatPhone(user.Phone), n.Message); err != nil {
		return fmt.Errorf("[%s] Fail to send sms, err=%w", op, err)
	}
	return nil
}
