package redis

// IProducer 把 payload 非阻塞地送進 stream
type IProducer[T Payload] interface {
	Start()
	Publish(payload T) error
	Close()
}

// IConsumer 以廣播方式讀取 stream，每個實例都會收到全部 entry
type IConsumer[T Payload] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// IGroupConsumer 在 consumer group 中分攤讀取，每筆 entry 只交給一個 worker，處理完要 Done 或 Fail
type IGroupConsumer[T Payload] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}
