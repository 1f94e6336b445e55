package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mandi/market"
)

var _ market.Cache = (*Cache)(nil)

func TestCache(t *testing.T) {
	t.Run("寫入後可以讀回相同的值", func(t *testing.T) {
		mr, client, cleanup := setupMiniredis(t)
		defer cleanup()

		cache := NewCache(client, WithCachePrefix("test:"))
		ctx := context.Background()

		avg := decimal.RequireFromString("2150.75")
		want := market.Insights{
			DemandTrend:      "high",
			PriceTrend:       "up",
			BestTimeToSell:   "now",
			MarketSentiment:  "very positive",
			SupplyLevel:      "low",
			AveragePrice:     &avg,
			TransactionCount: 12,
		}
		require.NoError(t, cache.Store(ctx, "insights:wheat:pune", want, 5*time.Minute))

		assert.True(t, mr.Exists("test:insights:wheat:pune"))
		assert.Equal(t, 5*time.Minute, mr.TTL("test:insights:wheat:pune"))

		var got market.Insights
		ok, err := cache.Load(ctx, "insights:wheat:pune", &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want.PriceTrend, got.PriceTrend)
		assert.Equal(t, want.TransactionCount, got.TransactionCount)
		require.NotNil(t, got.AveragePrice)
		assert.True(t, avg.Equal(*got.AveragePrice))
	})

	t.Run("不存在的 key 返回 false", func(t *testing.T) {
		_, client, cleanup := setupMiniredis(t)
		defer cleanup()

		var got market.Insights
		ok, err := NewCache(client).Load(context.Background(), "missing", &got)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("過期後視為未命中", func(t *testing.T) {
		mr, client, cleanup := setupMiniredis(t)
		defer cleanup()

		cache := NewCache(client)
		require.NoError(t, cache.Store(context.Background(), "crops:popular", []string{"wheat"}, time.Hour))
		mr.FastForward(time.Hour + time.Second)

		var got []string
		ok, err := cache.Load(context.Background(), "crops:popular", &got)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("無法解碼的值返回錯誤", func(t *testing.T) {
		mr, client, cleanup := setupMiniredis(t)
		defer cleanup()

		require.NoError(t, mr.Set("cache:broken", "\xc1"))
		var got market.Insights
		ok, err := NewCache(client).Load(context.Background(), "broken", &got)
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("redis 錯誤會被包裝後返回", func(t *testing.T) {
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectGet("cache:crops:popular").SetErr(redis.ErrClosed)

		var got []string
		ok, err := NewCache(client).Load(context.Background(), "crops:popular", &got)
		assert.ErrorIs(t, err, redis.ErrClosed)
		assert.False(t, ok)

		mock.ExpectSet("cache:crops:popular", []byte{0x91, 0xa5, 'w', 'h', 'e', 'a', 't'}, time.Hour).
			SetErr(errors.New("OOM command not allowed"))
		err = NewCache(client).Store(context.Background(), "crops:popular", []string{"wheat"}, time.Hour)
		assert.ErrorContains(t, err, "OOM")
	})
}
