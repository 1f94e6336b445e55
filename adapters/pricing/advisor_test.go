package pricing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"mandi/adapters/ledger"
	"mandi/adapters/ledger/ledgertest"
	"mandi/adapters/pricing"
	"mandi/market"
	"mandi/models"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

// memCache 以 msgpack 序列化模擬 redis 快取的行為
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	loads   int
	stores  int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}}
}

func (c *memCache) Load(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, msgpack.Unmarshal(raw, dst)
}

func (c *memCache) Store(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	c.stores++
	c.entries[key] = raw
	return nil
}

func seedListing(t *testing.T, store *ledger.Store, grade models.QualityGrade, price string) *models.Crop {
	t.Helper()
	crop := &models.Crop{
		FarmerID:     uuid.New(),
		Name:         "Onion",
		Quantity:     decimal.NewFromInt(500),
		Unit:         "kg",
		QualityGrade: grade,
		MinPrice:     decimal.RequireFromString(price),
		CurrentPrice: decimal.RequireFromString(price),
		District:     "Nashik",
		Status:       models.CropStatusListed,
	}
	require.NoError(t, store.CreateCrop(context.Background(), crop))
	return crop
}

func seedSale(t *testing.T, store *ledger.Store, price string, completedAt time.Time) {
	t.Helper()
	crop := seedListing(t, store, models.GradeB, price)
	require.NoError(t, store.DB().Model(crop).Update("status", models.CropStatusSold).Error)
	require.NoError(t, store.DB().Create(&models.Transaction{
		CropID:      crop.ID,
		BidID:       uuid.New(),
		FarmerID:    crop.FarmerID,
		BuyerID:     uuid.New(),
		FinalPrice:  decimal.RequireFromString(price),
		Status:      models.TransactionStatusConfirmed,
		CompletedAt: completedAt,
	}).Error)
}

func seedPrice(t *testing.T, store *ledger.Store, price string, date time.Time) {
	t.Helper()
	require.NoError(t, store.DB().Create(&models.PriceHistory{
		CropName:   "Onion",
		MarketName: "Lasalgaon APMC",
		Price:      decimal.RequireFromString(price),
		Date:       date,
		Quality:    "A",
		Region:     "Nashik",
	}).Error)
}

func query(grade models.QualityGrade, quantity int64) market.PriceQuery {
	return market.PriceQuery{
		Crop:     "onion",
		Quality:  grade,
		Location: "nashik",
		Quantity: decimal.NewFromInt(quantity),
	}
}

func TestAdvisor_RecommendPrice(t *testing.T) {
	t.Run("same grade average", func(t *testing.T) {
		store := ledgertest.New(t)
		seedListing(t, store, models.GradeA, "20")
		seedListing(t, store, models.GradeA, "30")
		seedListing(t, store, models.GradeC, "10")
		advisor := pricing.NewAdvisor(store, pricing.WithClock(clock))

		price, err := advisor.RecommendPrice(context.Background(), query(models.GradeA, 500))
		require.NoError(t, err)
		require.NotNil(t, price)
		assert.Equal(t, "25", price.String())
	})

	t.Run("bulk discount", func(t *testing.T) {
		store := ledgertest.New(t)
		seedListing(t, store, models.GradeA, "20")
		advisor := pricing.NewAdvisor(store)

		price, err := advisor.RecommendPrice(context.Background(), query(models.GradeA, 2000))
		require.NoError(t, err)
		assert.Equal(t, "19", price.String())
	})

	t.Run("small quantity premium", func(t *testing.T) {
		store := ledgertest.New(t)
		seedListing(t, store, models.GradeA, "20")
		advisor := pricing.NewAdvisor(store)

		price, err := advisor.RecommendPrice(context.Background(), query(models.GradeA, 50))
		require.NoError(t, err)
		assert.Equal(t, "21", price.String())
	})

	t.Run("other grades only", func(t *testing.T) {
		store := ledgertest.New(t)
		seedListing(t, store, models.GradeB, "10")
		seedListing(t, store, models.GradeC, "15")
		advisor := pricing.NewAdvisor(store)

		price, err := advisor.RecommendPrice(context.Background(), query(models.GradeA, 2000))
		require.NoError(t, err)
		assert.Equal(t, "12.5", price.String())
	})

	t.Run("falls back to market price", func(t *testing.T) {
		store := ledgertest.New(t)
		seedPrice(t, store, "18.50", testNow.AddDate(0, 0, -3))
		seedPrice(t, store, "20", testNow.AddDate(0, 0, -1))
		advisor := pricing.NewAdvisor(store)

		price, err := advisor.RecommendPrice(context.Background(), query(models.GradeA, 500))
		require.NoError(t, err)
		assert.Equal(t, "22", price.String())
	})

	t.Run("no data", func(t *testing.T) {
		store := ledgertest.New(t)
		advisor := pricing.NewAdvisor(store)

		price, err := advisor.RecommendPrice(context.Background(), query(models.GradeA, 500))
		require.NoError(t, err)
		assert.Nil(t, price)
	})
}

func TestAdvisor_MarketInsights(t *testing.T) {
	t.Run("no data", func(t *testing.T) {
		store := ledgertest.New(t)
		advisor := pricing.NewAdvisor(store, pricing.WithClock(clock))

		insights, err := advisor.MarketInsights(context.Background(), "Onion", "Nashik")
		require.NoError(t, err)
		assert.Equal(t, "stable", insights.PriceTrend)
		assert.Equal(t, "low", insights.SupplyLevel)
		assert.Equal(t, "low", insights.BuyerInterest)
		assert.Equal(t, "now", insights.BestTimeToSell)
		assert.Equal(t, "positive", insights.MarketSentiment)
		assert.Nil(t, insights.AveragePrice)
		assert.Zero(t, insights.TransactionCount)
	})

	t.Run("rising prices with low supply", func(t *testing.T) {
		store := ledgertest.New(t)
		seedSale(t, store, "10", testNow.AddDate(0, 0, -20))
		seedSale(t, store, "12", testNow.AddDate(0, 0, -10))
		seedSale(t, store, "20", testNow.AddDate(0, 0, -2))
		// 超過 30 天的成交不列入
		seedSale(t, store, "100", testNow.AddDate(0, 0, -40))
		advisor := pricing.NewAdvisor(store, pricing.WithClock(clock))

		insights, err := advisor.MarketInsights(context.Background(), "onion", "nashik")
		require.NoError(t, err)
		assert.Equal(t, "up", insights.PriceTrend)
		assert.Equal(t, 3, insights.TransactionCount)
		require.NotNil(t, insights.AveragePrice)
		assert.Equal(t, "14", insights.AveragePrice.String())
		assert.Equal(t, "low", insights.SupplyLevel)
		assert.Equal(t, "now", insights.BestTimeToSell)
		assert.Equal(t, "very positive", insights.MarketSentiment)
	})

	t.Run("falling prices with high supply", func(t *testing.T) {
		store := ledgertest.New(t)
		seedSale(t, store, "30", testNow.AddDate(0, 0, -20))
		seedSale(t, store, "20", testNow.AddDate(0, 0, -5))
		for range 21 {
			seedListing(t, store, models.GradeB, "18")
		}
		advisor := pricing.NewAdvisor(store, pricing.WithClock(clock))

		insights, err := advisor.MarketInsights(context.Background(), "Onion", "Nashik")
		require.NoError(t, err)
		assert.Equal(t, "down", insights.PriceTrend)
		assert.Equal(t, "high", insights.SupplyLevel)
		assert.Equal(t, "wait", insights.BestTimeToSell)
		assert.Equal(t, "negative", insights.MarketSentiment)
	})
}

func TestAdvisor_PriceHistory(t *testing.T) {
	t.Run("ordered and windowed", func(t *testing.T) {
		store := ledgertest.New(t)
		seedPrice(t, store, "21", testNow.AddDate(0, 0, -2))
		seedPrice(t, store, "19", testNow.AddDate(0, 0, -5))
		seedPrice(t, store, "15", testNow.AddDate(0, 0, -60))
		advisor := pricing.NewAdvisor(store, pricing.WithClock(clock))

		points, err := advisor.PriceHistory(context.Background(), "onion", "nashik", 30)
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, "19", points[0].Price.String())
		assert.Equal(t, "21", points[1].Price.String())
		assert.Equal(t, "Lasalgaon APMC", points[0].MarketName)
	})

	t.Run("empty history", func(t *testing.T) {
		store := ledgertest.New(t)
		advisor := pricing.NewAdvisor(store, pricing.WithClock(clock))

		points, err := advisor.PriceHistory(context.Background(), "Garlic", "", 0)
		require.NoError(t, err)
		assert.Empty(t, points)
	})

	t.Run("crop required", func(t *testing.T) {
		advisor := pricing.NewAdvisor(ledgertest.New(t))
		_, err := advisor.PriceHistory(context.Background(), "  ", "", 30)
		assert.True(t, errors.Is(err, market.ErrInvalidInput))
	})

	t.Run("cached", func(t *testing.T) {
		store := ledgertest.New(t)
		seedPrice(t, store, "21", testNow.AddDate(0, 0, -2))
		cache := newMemCache()
		advisor := pricing.NewAdvisor(store, pricing.WithClock(clock), pricing.WithCache(cache))

		first, err := advisor.PriceHistory(context.Background(), "Onion", "Nashik", 7)
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.Equal(t, 1, cache.stores)
		assert.Contains(t, cache.entries, "price_history:onion:nashik:7")

		// 新資料在快取過期前不會出現
		seedPrice(t, store, "22", testNow.AddDate(0, 0, -1))
		second, err := advisor.PriceHistory(context.Background(), "Onion", "Nashik", 7)
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.True(t, first[0].Price.Equal(second[0].Price))
		assert.Equal(t, 1, cache.stores)
	})
}
