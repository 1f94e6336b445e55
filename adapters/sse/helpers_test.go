package sse_test

import (
	"io"
	"log"
	"sync"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// Message 表示一個 SSE 訊息，包含頻道與資料字段。
type Message struct {
	Channel string `json:"channel"`
	Data    string `json:"data"`
}

// fakeSource 是以 channel 實作的 sse.Source
type fakeSource struct {
	ch        chan Message
	startOnce sync.Once
	closeOnce sync.Once
	started   chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan Message, 8), started: make(chan struct{})}
}

func (s *fakeSource) Start() {
	s.startOnce.Do(func() { close(s.started) })
}

func (s *fakeSource) Subscribe() <-chan Message {
	return s.ch
}

func (s *fakeSource) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}
