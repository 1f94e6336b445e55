package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache 以 msgpack 編碼把值存到 redis string，實作 market.Cache
type Cache struct {
	client  redis.UniversalClient
	options cacheOptions
}

type cacheOptions struct {
	prefix string
}

type CacheOption func(*cacheOptions)

// WithCachePrefix 設定 Cache 的 key 前綴
func WithCachePrefix(prefix string) CacheOption {
	return func(o *cacheOptions) {
		o.prefix = prefix
	}
}

// NewCache 建立一個新的 Cache 實例
func NewCache(client redis.UniversalClient, opts ...CacheOption) *Cache {
	options := cacheOptions{prefix: "cache:"}
	for _, opt := range opts {
		opt(&options)
	}

	return &Cache{
		client:  client,
		options: options,
	}
}

// Load 讀取 key 並解碼到 dst，key 不存在時回傳 false
func (c *Cache) Load(ctx context.Context, key string, dst any) (bool, error) {
	const op = "redis.Cache.Load"

	raw, err := c.client.Get(ctx, c.options.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("[%s] Fail to get key, err=%w", op, err)
	}

	if err := msgpack.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("[%s] Fail to decode value, err=%w", op, err)
	}
	return true, nil
}

// Store 編碼 value 後寫入，ttl 為 0 時不設過期時間
func (c *Cache) Store(ctx context.Context, key string, value any, ttl time.Duration) error {
	const op = "redis.Cache.Store"

	raw, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode value, err=%w", op, err)
	}

	if err := c.client.Set(ctx, c.options.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to set key, err=%w", op, err)
	}
	return nil
}
