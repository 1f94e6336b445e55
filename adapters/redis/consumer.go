package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type consumerOptions struct {
	logger       *slog.Logger
	bufferSize   int
	batchSize    int64
	blockTimeout time.Duration
	retryDelay   time.Duration
	startID      string
}

type ConsumerOption func(*consumerOptions)

// WithConsumerLogger 設置日誌記錄器
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.logger = logger
	}
}

// WithConsumerBufferSize 設置下游 channel 的緩衝大小
func WithConsumerBufferSize(size int) ConsumerOption {
	return func(o *consumerOptions) {
		o.bufferSize = size
	}
}

// WithConsumerBlockTimeout 設置每次 XREAD 的阻塞時間
func WithConsumerBlockTimeout(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.blockTimeout = d
	}
}

// WithConsumerRetryDelay 設置 redis 錯誤後重試前的等待時間
func WithConsumerRetryDelay(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.retryDelay = d
	}
}

// WithConsumerStartID 設置從哪一筆 entry 之後開始讀，"$" 代表只讀啟動之後寫入的
func WithConsumerStartID(id string) ConsumerOption {
	return func(o *consumerOptions) {
		o.startID = id
	}
}

// Consumer 以 XREAD 追蹤 stream，所有實例都會讀到同樣的 entry，
// 用來把出價事件送到每個實例上的 SSE 連線
type Consumer[T Payload] struct {
	client  redis.UniversalClient
	stream  string
	logger  *slog.Logger
	options consumerOptions

	mu      sync.Mutex
	out     chan T
	stop    context.CancelFunc
	running bool
	done    sync.WaitGroup
}

func NewConsumer[T Payload](client redis.UniversalClient, stream string, opts ...ConsumerOption) (IConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := consumerOptions{
		logger:       slog.Default(),
		bufferSize:   64,
		batchSize:    16,
		blockTimeout: time.Second,
		retryDelay:   time.Second,
		startID:      "$",
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Consumer[T]{
		client:  client,
		stream:  stream,
		logger:  options.logger.With(slog.String("caller", "Consumer"), slog.String("stream", stream)),
		options: options,
		out:     make(chan T),
	}, nil
}

// Start 啟動讀取 goroutine，重複呼叫不會有作用
func (c *Consumer[T]) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.out = make(chan T, c.options.bufferSize)
	c.stop = cancel
	c.running = true

	c.done.Add(1)
	go c.tail(ctx, c.out)
	c.logger.Info("stream consumer started")
}

func (c *Consumer[T]) tail(ctx context.Context, out chan<- T) {
	defer c.done.Done()
	defer close(out)

	cursor := c.startCursor(ctx)
	for ctx.Err() == nil {
		entries, err := c.read(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fail to read stream", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.options.retryDelay):
			}
			continue
		}

		for _, entry := range entries {
			cursor = entry.ID
			payload, err := DecodeEntry[T](entry.Values)
			if err != nil {
				c.logger.Warn("skip undecodable entry", slog.String("entryId", entry.ID), slog.Any("error", err))
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- payload:
			}
		}
	}
}

// startCursor 把 "$" 換成目前最後一筆 entry 的 ID，
// 之後每次阻塞讀取逾時都從同一個位置繼續，兩次讀取之間寫入的 entry 不會遺失
func (c *Consumer[T]) startCursor(ctx context.Context) string {
	if c.options.startID != "$" {
		return c.options.startID
	}
	last, err := c.client.XRevRangeN(ctx, c.stream, "+", "-", 1).Result()
	switch {
	case err != nil:
		c.logger.Warn("fail to resolve stream tail, only entries after each read are seen", slog.Any("error", err))
		return "$"
	case len(last) == 0:
		return "0-0"
	default:
		return last[0].ID
	}
}

func (c *Consumer[T]) read(ctx context.Context, cursor string) ([]redis.XMessage, error) {
	streams, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.stream, cursor},
		Count:   c.options.batchSize,
		Block:   c.options.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil || len(streams) == 0 {
		return nil, err
	}
	return streams[0].Messages, nil
}

// Subscribe 回傳解碼後的 payload，Close 之後 channel 會被關閉
func (c *Consumer[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out
}

// Close 停止讀取並等待 goroutine 結束
func (c *Consumer[T]) Close() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.stop()
	c.mu.Unlock()

	c.done.Wait()
	c.logger.Info("stream consumer closed")
}
