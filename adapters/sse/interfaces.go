package sse

// Source 是跨實例的事件來源，adapters/redis 的 Consumer 滿足這個介面
type Source[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// IConnectionManager 把事件依頻道名稱分送給本實例上的 SSE 連線
type IConnectionManager[T any] interface {
	// Start 開始從 Source 讀取事件，沒有設定 Source 時只處理 Publish
	Start()
	// Done 關閉所有連線並停止讀取
	Done()
	Subscribe(channelName string) (<-chan T, error)
	// Publish 直接送給本實例上的訂閱者，不經過 Source
	Publish(channelName string, data T) error
	Unsubscribe(channelName string, ch <-chan T)
}
