package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

// ErrProducerStopped 表示 producer 尚未啟動或已經關閉
var ErrProducerStopped = errors.New("producer is not running")

type producerOptions struct {
	logger     *slog.Logger
	bufferSize int
	maxLen     int64
}

type ProducerOption func(*producerOptions)

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置無上限佇列的初始容量
func WithProducerBufferSize(size int) ProducerOption {
	return func(o *producerOptions) {
		o.bufferSize = size
	}
}

// WithProducerMaxLen 以 XADD MAXLEN ~ 限制 stream 長度，0 表示不修剪
func WithProducerMaxLen(maxLen int64) ProducerOption {
	return func(o *producerOptions) {
		o.maxLen = maxLen
	}
}

// Producer 先把 entry 放進記憶體佇列，再由背景 goroutine 依序寫入 stream，
// 呼叫端(例如剛提交交易的出價流程)不會因為 redis 變慢而被卡住
type Producer[T Payload] struct {
	client  redis.UniversalClient
	stream  string
	logger  *slog.Logger
	options producerOptions

	mu      sync.RWMutex
	queue   *chanx.UnboundedChan[Entry]
	stop    context.CancelFunc
	running bool
	done    sync.WaitGroup
}

func NewProducer[T Payload](client redis.UniversalClient, stream string, opts ...ProducerOption) (*Producer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := producerOptions{
		logger:     slog.Default(),
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Producer[T]{
		client:  client,
		stream:  stream,
		logger:  options.logger.With(slog.String("caller", "Producer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

// Start 啟動寫入 goroutine，重複呼叫不會有作用
func (p *Producer[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.queue = chanx.NewUnboundedChan[Entry](ctx, p.options.bufferSize)
	p.stop = cancel
	p.running = true

	p.done.Add(1)
	go p.drain(ctx, p.queue.Out)
	p.logger.Info("stream producer started")
}

func (p *Producer[T]) drain(ctx context.Context, entries <-chan Entry) {
	defer p.done.Done()
	for {
		select {
		case <-ctx.Done():
			if n := p.queue.Len(); n > 0 {
				p.logger.Warn("producer stopped with queued entries", slog.Int("dropped", n))
			}
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			p.write(ctx, entry)
		}
	}
}

func (p *Producer[T]) write(ctx context.Context, entry Entry) {
	args := &redis.XAddArgs{Stream: p.stream, Values: entry.Fields()}
	if p.options.maxLen > 0 {
		args.MaxLen = p.options.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	switch {
	case err == nil:
		p.logger.Debug("entry written", slog.String("entryId", id), slog.String("kind", entry.Kind))
	case ctx.Err() == nil:
		// 寫入失敗只記錄，這裡的 entry 都是提交後的附帶通知，不影響帳本
		p.logger.Error("fail to write entry", slog.String("kind", entry.Kind), slog.Any("error", err))
	}
}

// Publish 編碼 payload 並放進佇列，不等待 redis 回應
func (p *Producer[T]) Publish(payload T) error {
	const op = "Producer.Publish"
	entry, err := EncodeEntry(payload)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode payload, err=%w", op, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return fmt.Errorf("[%s] stream %s, err=%w", op, p.stream, ErrProducerStopped)
	}
	p.queue.In <- entry
	return nil
}

// Close 停止寫入 goroutine，尚未寫出的 entry 會被丟棄
func (p *Producer[T]) Close() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stop()
	p.mu.Unlock()

	p.done.Wait()
	p.logger.Info("stream producer closed")
}
