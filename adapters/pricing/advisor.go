package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"mandi/market"
	"mandi/models"
)

// Source 是價格建議需要的唯讀查詢，由 adapters/ledger.Store 實作
type Source interface {
	RecentListings(ctx context.Context, name, district string, limit int) ([]models.Crop, error)
	CountListings(ctx context.Context, name, district string) (int64, error)
	RecentTransactions(ctx context.Context, name, district string, since time.Time) ([]models.Transaction, error)
	CountBidsSince(ctx context.Context, name string, since time.Time) (int64, error)
	LatestPrice(ctx context.Context, name, region string) (*models.PriceHistory, error)
	PriceHistory(ctx context.Context, name, region string, since time.Time) ([]models.PriceHistory, error)
}

const (
	listingSampleSize  = 20
	insightsWindow     = 30 * 24 * time.Hour
	interestWindow     = 7 * 24 * time.Hour
	priceHistoryTTL    = time.Hour
	defaultHistoryDays = 30
	maxHistoryDays     = 365
)

var (
	bulkQuantity   = decimal.NewFromInt(1000)
	smallQuantity  = decimal.NewFromInt(100)
	bulkDiscount   = decimal.RequireFromString("0.95")
	smallPremium   = decimal.RequireFromString("1.05")
	historicMarkup = decimal.RequireFromString("1.1")
)

type options struct {
	logger *slog.Logger
	clock  func() time.Time
	cache  market.Cache
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock 設置時間來源
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithCache 設置價格歷史的快取
func WithCache(cache market.Cache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// Advisor 以資料庫中的刊登、成交與行情資料提供建議價格與市場概況。
// 實作 market.PricingAdvisor 與 market.InsightsProvider。
type Advisor struct {
	source  Source
	logger  *slog.Logger
	options options
}

func NewAdvisor(source Source, opts ...Option) *Advisor {
	o := options{
		logger: slog.Default(),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Advisor{
		source:  source,
		logger:  o.logger.With(slog.String("caller", "PricingAdvisor")),
		options: o,
	}
}

// RecommendPrice 依同地區刊登中的作物估算價格。
// 同品質的刊登優先，並依數量給予大宗折扣或小量加價；沒有刊登時以最新行情加一成；都沒有資料時回傳 nil。
func (a *Advisor) RecommendPrice(ctx context.Context, query market.PriceQuery) (*decimal.Decimal, error) {
	const op = "Advisor.RecommendPrice"

	listings, err := a.source.RecentListings(ctx, query.Crop, query.Location, listingSampleSize)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load listings, err=%w", op, err)
	}

	if len(listings) == 0 {
		latest, err := a.source.LatestPrice(ctx, query.Crop, query.Location)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to load latest price, err=%w", op, err)
		}
		if latest == nil {
			return nil, nil
		}
		price := latest.Price.Mul(historicMarkup).Round(2)
		return &price, nil
	}

	sameGrade := lo.Filter(listings, func(c models.Crop, _ int) bool {
		return c.QualityGrade == query.Quality
	})
	if len(sameGrade) == 0 {
		price := averagePrice(listings).Round(2)
		return &price, nil
	}

	price := averagePrice(sameGrade)
	switch {
	case query.Quantity.GreaterThan(bulkQuantity):
		price = price.Mul(bulkDiscount)
	case query.Quantity.LessThan(smallQuantity):
		price = price.Mul(smallPremium)
	}
	price = price.Round(2)
	return &price, nil
}

func averagePrice(crops []models.Crop) decimal.Decimal {
	prices := lo.Map(crops, func(c models.Crop, _ int) decimal.Decimal { return c.CurrentPrice })
	return decimal.Avg(prices[0], prices[1:]...)
}

// MarketInsights 以近 30 天的成交與目前的刊登數量推估市場狀況
func (a *Advisor) MarketInsights(ctx context.Context, crop, location string) (*market.Insights, error) {
	const op = "Advisor.MarketInsights"
	now := a.options.clock()

	insights := &market.Insights{
		DemandTrend:     "stable",
		PriceTrend:      "stable",
		BestTimeToSell:  "now",
		BuyerInterest:   "low",
		MarketSentiment: "positive",
	}

	transactions, err := a.source.RecentTransactions(ctx, crop, location, now.Add(-insightsWindow))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load transactions, err=%w", op, err)
	}
	if len(transactions) > 0 {
		prices := lo.Map(transactions, func(t models.Transaction, _ int) decimal.Decimal { return t.FinalPrice })
		avg := decimal.Avg(prices[0], prices[1:]...).Round(2)
		insights.AveragePrice = &avg
		insights.TransactionCount = len(transactions)
		insights.PriceTrend = priceTrend(prices)
	}

	listed, err := a.source.CountListings(ctx, crop, location)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to count listings, err=%w", op, err)
	}
	insights.SupplyLevel = supplyLevel(listed)

	recentBids, err := a.source.CountBidsSince(ctx, crop, now.Add(-interestWindow))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to count bids, err=%w", op, err)
	}
	insights.BuyerInterest = buyerInterest(recentBids)
	if recentBids > listed {
		insights.DemandTrend = "rising"
	}

	switch {
	case insights.PriceTrend == "up" && insights.SupplyLevel == "low":
		insights.BestTimeToSell = "now"
		insights.MarketSentiment = "very positive"
	case insights.PriceTrend == "down" && insights.SupplyLevel == "high":
		insights.BestTimeToSell = "wait"
		insights.MarketSentiment = "negative"
	}
	return insights, nil
}

// priceTrend 比較較新一半與較舊一半的平均成交價，prices 由舊到新排列
func priceTrend(prices []decimal.Decimal) string {
	if len(prices) < 2 {
		return "stable"
	}
	half := len(prices) / 2
	older := decimal.Avg(prices[0], prices[1:half]...)
	newer := decimal.Avg(prices[half], prices[half+1:]...)
	switch newer.Cmp(older) {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "stable"
	}
}

func supplyLevel(listed int64) string {
	switch {
	case listed > 20:
		return "high"
	case listed > 10:
		return "medium"
	default:
		return "low"
	}
}

func buyerInterest(bids int64) string {
	switch {
	case bids > 10:
		return "high"
	case bids > 3:
		return "medium"
	default:
		return "low"
	}
}

// HistoryPoint 是價格走勢圖上的一個點
type HistoryPoint struct {
	Date       time.Time       `json:"date" msgpack:"date"`
	Price      decimal.Decimal `json:"price" msgpack:"price"`
	MarketName string          `json:"market_name,omitempty" msgpack:"market_name"`
	Quality    string          `json:"quality,omitempty" msgpack:"quality"`
}

// PriceHistory 回傳最近 days 天的市場行情，結果快取一小時
func (a *Advisor) PriceHistory(ctx context.Context, crop, region string, days int) ([]HistoryPoint, error) {
	const op = "Advisor.PriceHistory"

	crop = strings.TrimSpace(crop)
	if crop == "" {
		return nil, market.InvalidInput(op, "crop is required")
	}
	if days <= 0 {
		days = defaultHistoryDays
	}
	days = min(days, maxHistoryDays)

	key := fmt.Sprintf("price_history:%s:%s:%d", strings.ToLower(crop), strings.ToLower(region), days)
	if a.options.cache != nil {
		var cached []HistoryPoint
		ok, err := a.options.cache.Load(ctx, key, &cached)
		if err != nil {
			a.logger.Warn("price history cache read failed", slog.String("key", key), slog.Any("error", err))
		} else if ok {
			return cached, nil
		}
	}

	since := a.options.clock().AddDate(0, 0, -days)
	records, err := a.source.PriceHistory(ctx, crop, region, since)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load price history, err=%w", op, err)
	}
	points := lo.Map(records, func(r models.PriceHistory, _ int) HistoryPoint {
		return HistoryPoint{Date: r.Date, Price: r.Price, MarketName: r.MarketName, Quality: r.Quality}
	})

	if a.options.cache != nil {
		if err := a.options.cache.Store(ctx, key, points, priceHistoryTTL); err != nil {
			a.logger.Warn("price history cache write failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return points, nil
}
