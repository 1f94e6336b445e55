package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mandi/market"
)

var _ market.EventFeed = (*BidFeed)(nil)

func TestNewBidFeed(t *testing.T) {
	_, err := NewBidFeed(nil)
	assert.ErrorContains(t, err, "redis client cannot be nil")

	client := redis.NewClient(&redis.Options{})
	defer client.Close()

	_, err = NewBidFeed(client, WithBidFeedStream(""))
	assert.ErrorContains(t, err, "stream cannot be empty")

	feed, err := NewBidFeed(client)
	require.NoError(t, err)
	assert.Equal(t, DefaultBidStream, feed.Stream())
}

func TestBidFeed_Publish(t *testing.T) {
	mr, client, cleanup := setupMiniredis(t)
	defer cleanup()

	ctx := context.Background()
	feed, err := NewBidFeed(client,
		WithBidFeedStream("test:bids"),
		WithBidFeedPriceTTL(time.Hour),
		WithBidFeedMaxLen(100))
	require.NoError(t, err)

	cropID := uuid.New()
	priceKey := "crop:" + cropID.String() + ":price"

	tests := []struct {
		name      string
		event     market.BidEvent
		wantPrice string
	}{
		{
			name:      "沒有記錄時寫入價格",
			event:     testBidEvent(cropID, "2000.00"),
			wantPrice: "2000.00",
		},
		{
			name:      "較高的價格會覆寫",
			event:     testBidEvent(cropID, "2150.50"),
			wantPrice: "2150.50",
		},
		{
			name:      "較低的價格不會把記錄調回去",
			event:     testBidEvent(cropID, "2100.00"),
			wantPrice: "2150.50",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, feed.Publish(ctx, tt.event))

			got, err := mr.Get(priceKey)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, got)
			assert.Equal(t, time.Hour, mr.TTL(priceKey))

			price, ok, err := feed.CurrentPrice(ctx, cropID)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, decimal.RequireFromString(tt.wantPrice).Equal(price))

			// 每個事件都會寫進 stream，不論價格是否改變
			entries, err := client.XRange(ctx, "test:bids", "-", "+").Result()
			require.NoError(t, err)
			require.Len(t, entries, i+1)

			assert.Equal(t, "bid_event", entries[i].Values["kind"])
			decoded, err := DecodeEntry[market.BidEvent](entries[i].Values)
			require.NoError(t, err)
			assert.Equal(t, tt.event.BidID, decoded.BidID)
			assert.Equal(t, market.BidEventNewBid, decoded.Kind)
		})
	}
}

func TestBidFeed_CurrentPrice(t *testing.T) {
	mr, client, cleanup := setupMiniredis(t)
	defer cleanup()

	feed, err := NewBidFeed(client)
	require.NoError(t, err)

	cropID := uuid.New()
	_, ok, err := feed.CurrentPrice(context.Background(), cropID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set("crop:"+cropID.String()+":price", "abc"))
	_, _, err = feed.CurrentPrice(context.Background(), cropID)
	assert.Error(t, err)
}
