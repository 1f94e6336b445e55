package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type options struct {
	logger   *slog.Logger
	now      func() time.Time
	notifier Notifier
	feed     EventFeed
	locker   CropLocker
	advisor  PricingAdvisor
	insights InsightsProvider
	cache    Cache
	sanitize func(string) string
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock 設置取得目前時間的函數 (主要用於測試)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithNotifier 設置通知閘道
func WithNotifier(notifier Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithEventFeed 設置即時事件推送
func WithEventFeed(feed EventFeed) Option {
	return func(o *options) {
		o.feed = feed
	}
}

// WithLocker 設置跨實例的作物鎖
func WithLocker(locker CropLocker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithPricingAdvisor 設置價格建議服務
func WithPricingAdvisor(advisor PricingAdvisor) Option {
	return func(o *options) {
		o.advisor = advisor
	}
}

// WithInsights 設置市場概況服務
func WithInsights(provider InsightsProvider) Option {
	return func(o *options) {
		o.insights = provider
	}
}

// WithCache 設置快取
func WithCache(cache Cache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithSanitizer 設置使用者輸入文字的清理函數
func WithSanitizer(fn func(string) string) Option {
	return func(o *options) {
		o.sanitize = fn
	}
}

func newOptions(opts []Option) options {
	// 默認選項
	o := options{
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		notifier: nopNotifier{},
		feed:     nopFeed{},
		locker:   nopLocker{},
		advisor:  nopAdvisor{},
		insights: nopInsights{},
		cache:    nopCache{},
		sanitize: func(s string) string { return s },
	}
	// 應用自定義選項
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) error { return nil }

type nopFeed struct{}

func (nopFeed) Publish(context.Context, BidEvent) error { return nil }

type nopLocker struct{}

func (nopLocker) Lock(ctx context.Context, _ uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

type nopAdvisor struct{}

func (nopAdvisor) RecommendPrice(context.Context, PriceQuery) (*decimal.Decimal, error) {
	return nil, nil
}

type nopInsights struct{}

func (nopInsights) MarketInsights(context.Context, string, string) (*Insights, error) {
	return nil, nil
}

type nopCache struct{}

func (nopCache) Load(context.Context, string, any) (bool, error) { return false, nil }

func (nopCache) Store(context.Context, string, any, time.Duration) error { return nil }
