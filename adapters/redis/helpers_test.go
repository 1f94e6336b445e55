package redis

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mandi/market"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

func setupTest(t *testing.T) (redis.UniversalClient, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

// setupMiniredis 啟動 miniredis，cleanup 需要在 goleak 檢查之前呼叫
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client, func() {
		client.Close()
		mr.Close()
	}
}

func testNotification(title string) market.Notification {
	return market.Notification{
		UserID:  uuid.MustParse("0191f3c4-6d1e-7a52-9c11-2b9a3e4f5a61"),
		Kind:    "new_bid",
		Title:   title,
		Message: "New bid ₹2100.00 placed on your Wheat",
		CropID:  uuid.MustParse("0191f3c4-6d1e-7a52-9c11-2b9a3e4f5a62"),
		BidID:   uuid.MustParse("0191f3c4-6d1e-7a52-9c11-2b9a3e4f5a63"),
	}
}

func testBidEvent(cropID uuid.UUID, price string) market.BidEvent {
	p := decimal.RequireFromString(price)
	return market.BidEvent{
		Kind:         market.BidEventNewBid,
		CropID:       cropID,
		BidID:        uuid.New(),
		Amount:       p,
		CurrentPrice: p,
		BidCount:     1,
		At:           time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

// entryValues 模擬從 XRANGE 讀回來的 entry 欄位
func entryValues(entry Entry) map[string]any {
	fields := entry.Fields()
	values := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		values[fields[i]] = fields[i+1]
	}
	return values
}
