package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"mandi/market"
)

// tickerScript 更新作物的即時價格並把事件寫入 stream
//
//	KEYS[1] - 作物價格鍵
//	KEYS[2] - 事件 stream
//	ARGV[1] - 事件中的當前價格
//	ARGV[2] - 價格鍵的存活秒數
//	ARGV[3] - stream 最大長度
//	ARGV[4..] - entry 的欄位與值
//
// 返回值:
//
//	1 - 價格被提高
//	0 - 價格沒有變化 (事件仍然寫入 stream)
//
// 流程:
//   - 1. 讀取目前記錄的價格
//   - 2a. 新價格較高或尚未記錄時覆寫
//   - 2b. 否則只延長存活時間，避免較慢送達的事件把價格調回去
//   - 3. 將事件寫入 stream
var tickerScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]))
local price = tonumber(ARGV[1])
local raised = 0

if current == nil or price > current then
    redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
    raised = 1
else
    redis.call('EXPIRE', KEYS[1], ARGV[2])
end

redis.call('XADD', KEYS[2], 'MAXLEN', '~', ARGV[3], '*', unpack(ARGV, 4))

return raised
`)

// BidFeed 把出價事件寫到 redis stream，實作 market.EventFeed
type BidFeed struct {
	client  redis.UniversalClient
	logger  *slog.Logger
	options bidFeedOptions
}

type bidFeedOptions struct {
	logger      *slog.Logger
	stream      string
	pricePrefix string
	priceTTL    time.Duration
	maxLen      int64
}

type BidFeedOption func(*bidFeedOptions)

// WithBidFeedLogger 設置日誌記錄器
func WithBidFeedLogger(logger *slog.Logger) BidFeedOption {
	return func(o *bidFeedOptions) {
		o.logger = logger
	}
}

// WithBidFeedStream 設置事件 stream 名稱
func WithBidFeedStream(stream string) BidFeedOption {
	return func(o *bidFeedOptions) {
		o.stream = stream
	}
}

// WithBidFeedPriceTTL 設置即時價格鍵的存活時間
func WithBidFeedPriceTTL(d time.Duration) BidFeedOption {
	return func(o *bidFeedOptions) {
		o.priceTTL = d
	}
}

// WithBidFeedMaxLen 設置 stream 的近似最大長度
func WithBidFeedMaxLen(n int64) BidFeedOption {
	return func(o *bidFeedOptions) {
		o.maxLen = n
	}
}

// DefaultBidStream 是出價事件的預設 stream
const DefaultBidStream = "mandi:bids"

func NewBidFeed(client redis.UniversalClient, opts ...BidFeedOption) (*BidFeed, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	options := bidFeedOptions{
		logger:      slog.Default(),
		stream:      DefaultBidStream,
		pricePrefix: "crop:",
		priceTTL:    24 * time.Hour,
		maxLen:      10000,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	return &BidFeed{
		client:  client,
		logger:  options.logger.With(slog.String("caller", "BidFeed"), slog.String("stream", options.stream)),
		options: options,
	}, nil
}

func (f *BidFeed) priceKey(cropID uuid.UUID) string {
	return f.options.pricePrefix + cropID.String() + ":price"
}

// Publish 寫入事件並推進作物的即時價格
func (f *BidFeed) Publish(ctx context.Context, event market.BidEvent) error {
	const op = "BidFeed.Publish"

	entry, err := EncodeEntry(event)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode event, err=%w", op, err)
	}

	ttl := int64(f.options.priceTTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	args := []any{event.CurrentPrice.StringFixed(2), ttl, f.options.maxLen}
	for _, field := range entry.Fields() {
		args = append(args, field)
	}
	raised, err := tickerScript.Run(ctx, f.client,
		[]string{f.priceKey(event.CropID), f.options.stream}, args...,
	).Int()
	if err != nil {
		return fmt.Errorf("[%s] Fail to run ticker script, err=%w", op, err)
	}

	f.logger.Debug("bid event published",
		slog.String("kind", event.Kind),
		slog.String("cropId", event.CropID.String()),
		slog.Bool("priceRaised", raised == 1))
	return nil
}

// CurrentPrice 讀取作物的即時價格，沒有記錄時第二個回傳值為 false
func (f *BidFeed) CurrentPrice(ctx context.Context, cropID uuid.UUID) (decimal.Decimal, bool, error) {
	const op = "BidFeed.CurrentPrice"

	raw, err := f.client.Get(ctx, f.priceKey(cropID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("[%s] Fail to get price, err=%w", op, err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("[%s] Fail to parse price %q, err=%w", op, raw, err)
	}
	return price, true, nil
}

// Stream 回傳事件 stream 名稱，供訂閱端建立 Consumer
func (f *BidFeed) Stream() string {
	return f.options.stream
}
