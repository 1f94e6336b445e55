package sse

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mandi_sse_subscribers",
		Help: "Number of live SSE subscribers on this instance.",
	})
	droppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mandi_sse_dropped_messages_total",
		Help: "Messages dropped because a subscriber buffer was full.",
	})
)

type managerOptions[T any] struct {
	logger     *slog.Logger
	bufferSize int
	source     Source[T]
	route      func(T) string
}

type ManagerOption[T any] func(*managerOptions[T])

// WithManagerLogger 設置日誌記錄器
func WithManagerLogger[T any](logger *slog.Logger) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.logger = logger
	}
}

// WithManagerBufferSize 設置每個訂閱者的緩衝大小
func WithManagerBufferSize[T any](size int) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.bufferSize = size
	}
}

// WithManagerSource 設置跨實例的訊息來源，route 決定訊息要送到哪個頻道
func WithManagerSource[T any](source Source[T], route func(T) string) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.source = source
		o.route = route
	}
}

// connectionManager 管理多個 SSE 頻道的訂閱與發布。
// 設置了 Source 時，訊息由 Source (通常是 Redis Stream) 帶進來，讓多個服務實例能夠協同運作。
type connectionManager[T any] struct {
	logger *slog.Logger

	mu     sync.RWMutex   // 保護 active 和 channels 的讀寫
	wg     sync.WaitGroup // 用於等待所有 goroutine 完成
	active bool           // 標記 manager 是否正在運作中

	options  managerOptions[T]
	channels map[string]*Channel[T] // 儲存所有活躍的頻道
}

// NewConnectionManager 建立一個新的連線管理器。
func NewConnectionManager[T any](opts ...ManagerOption[T]) IConnectionManager[T] {
	options := managerOptions[T]{
		logger:     slog.Default(),
		bufferSize: 16,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &connectionManager[T]{
		logger:   options.logger.With(slog.String("caller", "ConnectionManager")),
		options:  options,
		channels: make(map[string]*Channel[T]),
		active:   true,
	}
}

// Start 啟動連線管理器，開始處理訊息的接收與廣播。
// 應在呼叫其他方法前先呼叫此方法。
func (cm *connectionManager[T]) Start() {
	if cm.options.source == nil {
		return
	}
	cm.options.source.Start()

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		for msg := range cm.options.source.Subscribe() {
			cm.broadcast(cm.options.route(msg), msg)
		}
	}()
}

func (cm *connectionManager[T]) broadcast(channelName string, msg T) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	channel, ok := cm.channels[channelName]
	if !ok {
		return
	}
	if dropped := channel.Broadcast(msg); dropped > 0 {
		droppedCounter.Add(float64(dropped))
		cm.logger.Warn("subscriber buffer full, message dropped",
			slog.String("channel", channelName),
			slog.Int("dropped", dropped))
	}
}

// Done 停止連線管理器的運作。
func (cm *connectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.mu.Unlock()

	// source 關閉後訊息迴圈才會結束，這段期間 broadcast 仍需要讀鎖
	if cm.options.source != nil {
		cm.options.source.Close()
	}
	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		subscribersGauge.Sub(float64(channel.Len()))
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
}

// Subscribe 訂閱指定的頻道。
// channelName: 要訂閱的頻道名稱
// 返回: 用於接收訊息的唯讀通道，以及可能的錯誤
func (cm *connectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, context.Canceled
	}

	c, ok := cm.channels[channelName]
	if !ok {
		c = NewChannel[T](cm.options.bufferSize)
		cm.channels[channelName] = c
	}
	subscribersGauge.Inc()
	return c.Subscribe(), nil
}

// Publish 將訊息直接廣播給本實例上的訂閱者，不經過 Source。
func (cm *connectionManager[T]) Publish(channelName string, data T) error {
	cm.mu.RLock()
	active := cm.active
	cm.mu.RUnlock()
	if !active {
		return context.Canceled
	}

	cm.broadcast(channelName, data)
	return nil
}

// Unsubscribe 取消訂閱指定的頻道。
func (cm *connectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return
	}

	before := c.Len()
	c.Unsubscribe(ch)
	subscribersGauge.Sub(float64(before - c.Len()))
	if c.IsIdle() {
		delete(cm.channels, channelName)
	}
}
