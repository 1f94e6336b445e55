package sse

import "sync"

// Channel 是一個頻道（例如一個作物的出價動態）上所有 SSE 連線的集合。
// 每條連線有自己的緩衝區，緩衝區滿了就對那條連線丟掉這筆訊息，
// 一個慢的瀏覽器不會卡住同一個作物的其他觀看者
type Channel[T any] struct {
	mu     sync.RWMutex
	conns  map[<-chan T]chan<- T
	buffer int
}

func NewChannel[T any](buffer int) *Channel[T] {
	return &Channel[T]{
		conns:  make(map[<-chan T]chan<- T),
		buffer: max(buffer, 0),
	}
}

// Subscribe 為一條新連線開一個 channel
func (c *Channel[T]) Subscribe() <-chan T {
	ch := make(chan T, c.buffer)
	c.mu.Lock()
	c.conns[ch] = ch
	c.mu.Unlock()
	return ch
}

// Unsubscribe 移除連線並關閉它的 channel，重複呼叫沒有作用
func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.conns[ch]
	if !ok {
		return
	}
	delete(c.conns, ch)
	close(w)
}

// UnsubscribeAll 在關機時關閉所有連線
func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch, w := range c.conns {
		close(w)
		delete(c.conns, ch)
	}
}

// Broadcast 非阻塞地送給每條連線，回傳被丟掉的份數
func (c *Channel[T]) Broadcast(msg T) (dropped int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range c.conns {
		select {
		case w <- msg:
		default:
			dropped++
		}
	}
	return dropped
}

func (c *Channel[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

func (c *Channel[T]) IsIdle() bool {
	return c.Len() == 0
}
