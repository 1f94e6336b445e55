package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message 是交給 worker 的一筆 entry，處理完必須呼叫 Done 或 Fail 其中之一，
// 同一個 Message 只能由一個 goroutine 操作
type Message[T Payload] struct {
	Data T

	id     string
	values map[string]any
	owner  *GroupConsumer[T]

	settled bool
}

func (m *Message[T]) ID() string {
	return m.id
}

// Done 確認 entry 已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	if m.settled {
		return nil
	}
	if err := m.owner.ack(ctx, m.id); err != nil {
		return fmt.Errorf("[%s] Fail to ack %s, err=%w", op, m.id, err)
	}
	m.settled = true
	return nil
}

// Fail 把 entry 連同失敗原因搬到 dead-letter stream 後再 ack
func (m *Message[T]) Fail(ctx context.Context, cause error) error {
	const op = "Message.Fail"
	if m.settled {
		return nil
	}
	if err := m.owner.bury(ctx, m.id, m.values, cause); err != nil {
		return fmt.Errorf("[%s] Fail to bury %s, err=%w", op, m.id, err)
	}
	m.settled = true
	return nil
}

type groupConsumerOptions struct {
	logger       *slog.Logger
	blockTimeout time.Duration
	retryDelay   time.Duration
	createGroup  bool
}

type GroupConsumerOption func(*groupConsumerOptions)

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger(logger *slog.Logger) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.logger = logger
	}
}

// WithGroupConsumerBlockTimeout 設置 XREADGROUP 的阻塞時間
func WithGroupConsumerBlockTimeout(d time.Duration) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.blockTimeout = d
	}
}

// WithGroupConsumerRetryDelay 設置 redis 錯誤後重試前的等待時間
func WithGroupConsumerRetryDelay(d time.Duration) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.retryDelay = d
	}
}

// WithGroupConsumerCreateGroup 啟動時建立 consumer group，stream 不存在時一併建立
func WithGroupConsumerCreateGroup(create bool) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.createGroup = create
	}
}

// GroupConsumer 以 consumer group 讀取 stream。
// 啟動時先重送自己名下還沒 ack 的 entry，之後才讀新的 entry，
// 所以 notifier 重啟不會漏掉上次讀到一半的通知
type GroupConsumer[T Payload] struct {
	client     redis.UniversalClient
	stream     string
	deadLetter string
	group      string
	consumer   string
	logger     *slog.Logger
	options    groupConsumerOptions

	mu      sync.Mutex
	out     chan *Message[T]
	stop    context.CancelFunc
	running bool
	done    sync.WaitGroup
}

func NewGroupConsumer[T Payload](
	client redis.UniversalClient,
	stream, group, consumer string,
	opts ...GroupConsumerOption,
) (IGroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	options := groupConsumerOptions{
		logger:       slog.Default(),
		blockTimeout: time.Second,
		retryDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &GroupConsumer[T]{
		client:     client,
		stream:     stream,
		deadLetter: stream + ":dead-letter",
		group:      group,
		consumer:   consumer,
		logger: options.logger.With(
			slog.String("caller", "GroupConsumer"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer)),
		options: options,
		out:     make(chan *Message[T]),
	}, nil
}

func (g *GroupConsumer[T]) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil
	}
	if g.options.createGroup {
		if err := g.ensureGroup(context.Background()); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.out = make(chan *Message[T])
	g.stop = cancel
	g.running = true

	g.done.Add(1)
	go g.run(ctx, g.out)
	g.logger.Info("group consumer started")
	return nil
}

// ensureGroup 建立 consumer group，BUSYGROUP 代表已經存在
func (g *GroupConsumer[T]) ensureGroup(ctx context.Context) error {
	const op = "GroupConsumer.ensureGroup"
	err := g.client.XGroupCreateMkStream(ctx, g.stream, g.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("[%s] Fail to create consumer group, err=%w", op, err)
	}
	return nil
}

func (g *GroupConsumer[T]) run(ctx context.Context, out chan<- *Message[T]) {
	defer g.done.Done()
	defer close(out)

	// "0" 讀回自己的 pending list，讀完後換成 ">" 只拿新 entry
	cursor := "0"
	for ctx.Err() == nil {
		backlog := cursor != ">"
		entries, err := g.read(ctx, cursor, backlog)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.logger.Error("fail to read group", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(g.options.retryDelay):
			}
			continue
		}
		if backlog && len(entries) == 0 {
			cursor = ">"
			continue
		}

		for _, entry := range entries {
			if backlog {
				cursor = entry.ID
			}
			msg, ok := g.wrap(ctx, entry)
			if !ok {
				continue
			}
			select {
			case <-ctx.Done():
				// 沒送出去的 entry 留在 pending list，下次啟動時重送
				return
			case out <- msg:
			}
		}
	}
}

func (g *GroupConsumer[T]) read(ctx context.Context, cursor string, backlog bool) ([]redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    g.group,
		Consumer: g.consumer,
		Streams:  []string{g.stream, cursor},
		Count:    16,
		Block:    g.options.blockTimeout,
	}
	if backlog {
		args.Block = -1
	}
	streams, err := g.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil || len(streams) == 0 {
		return nil, err
	}
	return streams[0].Messages, nil
}

// wrap 解碼 entry，解不開的直接進 dead-letter，重試也不會成功
func (g *GroupConsumer[T]) wrap(ctx context.Context, entry redis.XMessage) (*Message[T], bool) {
	if len(entry.Values) == 0 {
		// pending list 裡的 entry 已經被 XTRIM 刪掉
		if err := g.ack(ctx, entry.ID); err != nil {
			g.logger.Error("fail to ack trimmed entry", slog.String("entryId", entry.ID), slog.Any("error", err))
		}
		return nil, false
	}

	data, err := DecodeEntry[T](entry.Values)
	if err != nil {
		g.logger.Error("undecodable entry moved to dead letter", slog.String("entryId", entry.ID), slog.Any("error", err))
		if buryErr := g.bury(ctx, entry.ID, entry.Values, err); buryErr != nil {
			g.logger.Error("fail to move entry to dead letter", slog.String("entryId", entry.ID), slog.Any("error", buryErr))
		}
		return nil, false
	}

	return &Message[T]{Data: data, id: entry.ID, values: entry.Values, owner: g}, true
}

func (g *GroupConsumer[T]) ack(ctx context.Context, id string) error {
	return g.client.XAck(ctx, g.stream, g.group, id).Err()
}

func (g *GroupConsumer[T]) bury(ctx context.Context, id string, values map[string]any, cause error) error {
	dead := make(map[string]any, len(values)+1)
	for k, v := range values {
		dead[k] = v
	}
	dead["error"] = cause.Error()
	if err := g.client.XAdd(ctx, &redis.XAddArgs{Stream: g.deadLetter, Values: dead}).Err(); err != nil {
		return err
	}
	return g.ack(ctx, id)
}

// Subscribe 回傳待處理的 entry，Close 之後 channel 會被關閉
func (g *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.out
}

func (g *GroupConsumer[T]) Close() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	g.stop()
	g.mu.Unlock()

	g.done.Wait()
	g.logger.Info("group consumer closed")
	return nil
}
