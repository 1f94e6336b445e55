package api

import (
	"crypto/ed25519"
	"time"

	"mandi/adapters/ledger"
)

type ServerConfig struct {
	// ID 是此實例的名稱，作為 consumer group 中的 consumer 名稱
	ID     string
	Auth   AuthConfig
	S3     S3Config
	DB     ledger.Config
	Redis  RedisConfig
	Market MarketConfig
}

type AuthConfig struct {
	// PublicKey 驗證 bearer token 的 Ed25519 公鑰，token 由外部的身分服務簽發
	PublicKey ed25519.PublicKey
}

type S3Config struct {
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	Region           string
	Bucket           string
	PublicBaseURL    string
	KeyPrefix        string
	RateLimitPerHour int64
}

// Enabled 回傳是否設定了照片儲存桶
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	StreamKeys RedisStreamKeys
	// ConsumerGroup 是通知派送 worker 使用的 consumer group
	ConsumerGroup string
}

// Enabled 回傳是否設定了 redis，沒有 redis 時快取、跨實例鎖與即時事件只在本機運作
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type RedisStreamKeys struct {
	Bids          string
	Notifications string
}

type MarketConfig struct {
	LockExpiry  time.Duration
	LockMaxWait time.Duration
	// SSEHeartbeat 是沒有事件時送出保持連線註解的間隔
	SSEHeartbeat time.Duration
}
