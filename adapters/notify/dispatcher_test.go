package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mandi/adapters/notify"
	"mandi/adapters/redis"
	"mandi/market"
	"mandi/models"
)

type directory map[uuid.UUID]*models.User

func (d directory) FindUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := d[id]
	if !ok {
		return nil, market.NotFound("FindUser", "user not found")
	}
	return user, nil
}

type sms struct {
	phone   string
	message string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sms
	fail error
}

func (s *recordingSender) Send(_ context.Context, phone, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, sms{phone: phone, message: message})
	return nil
}

func (s *recordingSender) messages() []sms {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sms(nil), s.sent...)
}

type pipeline struct {
	client  goredis.UniversalClient
	gateway *notify.Gateway
	stop    func()
}

// startPipeline 串起 Gateway -> redis stream -> Dispatcher
func startPipeline(t *testing.T, users directory, sender notify.Sender) *pipeline {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	producer, err := redis.NewProducer[market.Notification](client, notify.DefaultStream)
	require.NoError(t, err)
	producer.Start()

	consumer, err := redis.NewGroupConsumer[market.Notification](client, notify.DefaultStream, "dispatchers", "worker-1",
		redis.WithGroupConsumerCreateGroup(true),
		redis.WithGroupConsumerBlockTimeout(100*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- notify.NewDispatcher(consumer, users, sender, nil).Run(ctx)
	}()

	return &pipeline{
		client:  client,
		gateway: notify.NewGateway(producer, nil),
		stop: func() {
			producer.Close()
			cancel()
			assert.NoError(t, <-done)
			client.Close()
			mr.Close()
		},
	}
}

func TestDispatcher(t *testing.T) {
	farmer := &models.User{ID: uuid.New(), Name: "Ramesh", Phone: "98765 43210", Role: "farmer"}
	silent := &models.User{ID: uuid.New(), Name: "Suresh", Role: "buyer"}

	t.Run("通知會送到使用者正規化後的電話", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		sender := &recordingSender{}
		p := startPipeline(t, directory{farmer.ID: farmer}, sender)
		defer p.stop()

		require.NoError(t, p.gateway.Notify(market.Notification{
			UserID:  farmer.ID,
			Kind:    "new_bid",
			Title:   "New Bid Received",
			Message: "New bid ₹2100.00 placed on your Wheat",
		}))

		require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, 3*time.Second, 20*time.Millisecond)
		got := sender.messages()[0]
		assert.Equal(t, "+919876543210", got.phone)
		assert.Equal(t, "New bid ₹2100.00 placed on your Wheat", got.message)
	})

	t.Run("沒有電話或找不到使用者時略過", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		sender := &recordingSender{}
		p := startPipeline(t, directory{farmer.ID: farmer, silent.ID: silent}, sender)
		defer p.stop()

		require.NoError(t, p.gateway.Notify(market.Notification{UserID: silent.ID, Message: "skip me"}))
		require.NoError(t, p.gateway.Notify(market.Notification{UserID: uuid.New(), Message: "skip me too"}))
		require.NoError(t, p.gateway.Notify(market.Notification{UserID: farmer.ID, Message: "deliver me"}))

		require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, 3*time.Second, 20*time.Millisecond)
		assert.Equal(t, "deliver me", sender.messages()[0].message)

		require.Eventually(t, func() bool {
			pending, err := p.client.XPending(context.Background(), notify.DefaultStream, "dispatchers").Result()
			return err == nil && pending.Count == 0
		}, 3*time.Second, 20*time.Millisecond)
		n, err := p.client.XLen(context.Background(), notify.DefaultStream+":dead-letter").Result()
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("發送失敗的通知移到 dead-letter", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		sender := &recordingSender{fail: errors.New("gateway down")}
		p := startPipeline(t, directory{farmer.ID: farmer}, sender)
		defer p.stop()

		require.NoError(t, p.gateway.Notify(market.Notification{UserID: farmer.ID, Message: "lost"}))

		require.Eventually(t, func() bool {
			n, err := p.client.XLen(context.Background(), notify.DefaultStream+":dead-letter").Result()
			return err == nil && n == 1
		}, 3*time.Second, 20*time.Millisecond)

		dead, err := p.client.XRange(context.Background(), notify.DefaultStream+":dead-letter", "-", "+").Result()
		require.NoError(t, err)
		assert.Contains(t, dead[0].Values["error"], "gateway down")
	})
}

func TestGateway_ClosedProducer(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{})
	defer client.Close()

	producer, err := redis.NewProducer[market.Notification](client, notify.DefaultStream)
	require.NoError(t, err)

	err = notify.NewGateway(producer, nil).Notify(market.Notification{UserID: uuid.New()})
	assert.ErrorIs(t, err, redis.ErrProducerStopped)
}
