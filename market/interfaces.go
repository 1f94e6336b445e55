package market

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mandi/models"
)

// Ledger 定義了核心需要的持久化操作
// 實作必須保證 WithTransaction 內的所有寫入是原子性的，查無資料時回傳可以用
// errors.Is(err, ErrNotFound) 判斷的錯誤，逾時或鎖衝突時回傳 ErrTransient 類錯誤
type Ledger interface {
	// WithTransaction 在單一交易中執行 fn，fn 回傳錯誤時整個交易回滾
	WithTransaction(ctx context.Context, fn func(tx LedgerTx) error) error

	CreateCrop(ctx context.Context, crop *models.Crop) error
	FindCrop(ctx context.Context, id uuid.UUID) (*models.Crop, error)
	FindCropWithFarmer(ctx context.Context, id uuid.UUID) (*CropWithFarmer, error)
	FindBid(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	FindBidsForCrop(ctx context.Context, cropID uuid.UUID) ([]models.Bid, error)
	FindBidsByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Bid, error)
	ListCrops(ctx context.Context, filter CropFilter) ([]models.Crop, int64, error)
	FindSimilarCrops(ctx context.Context, crop *models.Crop, limit int) ([]models.Crop, error)
	IncrementViewCount(ctx context.Context, id uuid.UUID) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	FarmerStats(ctx context.Context, farmerID uuid.UUID) (FarmerStats, error)
	BuyerStats(ctx context.Context, buyerID uuid.UUID) (BuyerStats, error)
}

// LedgerTx 是交易內可用的操作，所有出價相關的寫入都必須先鎖住作物列
type LedgerTx interface {
	// FindCropForUpdate 讀取作物並鎖住該列直到交易結束
	FindCropForUpdate(id uuid.UUID) (*models.Crop, error)
	FindBidForUpdate(id uuid.UUID) (*models.Bid, error)
	// FindBidsForCrop 依建立順序回傳作物的所有出價
	FindBidsForCrop(cropID uuid.UUID) ([]models.Bid, error)
	CreateBid(bid *models.Bid) error
	UpdateCrop(crop *models.Crop, columns ...string) error
	UpdateBid(bid *models.Bid, columns ...string) error
	// SetHighestBid 只讓 bidID 的 is_highest 為 true，bidID 為 nil 時清除該作物所有旗標
	SetHighestBid(cropID uuid.UUID, bidID *uuid.UUID) error
	CreateTransaction(transaction *models.Transaction) error
}

// CropWithFarmer 是作物與刊登農民的組合查詢結果
type CropWithFarmer struct {
	Crop   models.Crop
	Farmer *models.User
}

// CropFilter 是列出作物時的查詢條件
type CropFilter struct {
	Search    string
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Quality   models.QualityGrade
	Location  string
	FarmerID  *uuid.UUID
	Status    models.CropStatus
	AnyStatus bool
	Page      int
	Limit     int
}

type FarmerStats struct {
	ActiveListings int64           `json:"active_listings"`
	TotalSales     int64           `json:"total_sales"`
	PendingBids    int64           `json:"pending_bids"`
	Earnings       decimal.Decimal `json:"earnings"`
}

type BuyerStats struct {
	ActiveBids         int64 `json:"active_bids"`
	CompletedPurchases int64 `json:"completed_purchases"`
}

// Notification 是要送給使用者的通知
type Notification struct {
	UserID  uuid.UUID `msgpack:"user_id"`
	Kind    string    `msgpack:"kind"`
	Title   string    `msgpack:"title"`
	Message string    `msgpack:"message"`
	CropID  uuid.UUID `msgpack:"crop_id"`
	BidID   uuid.UUID `msgpack:"bid_id"`
}

// EntryKind 標記佇列中的通知項目
func (Notification) EntryKind() string { return "notification" }

// Notifier 是通知閘道，Notify 不可以阻塞呼叫端
type Notifier interface {
	Notify(n Notification) error
}

// BidEvent 是出價或回應成立後推送給即時訂閱者的事件
type BidEvent struct {
	Kind         string          `msgpack:"kind" json:"kind"`
	CropID       uuid.UUID       `msgpack:"crop_id" json:"crop_id"`
	BidID        uuid.UUID       `msgpack:"bid_id" json:"bid_id"`
	Action       string          `msgpack:"action" json:"action,omitempty"`
	Amount       decimal.Decimal `msgpack:"amount" json:"amount"`
	CurrentPrice decimal.Decimal `msgpack:"current_price" json:"current_price"`
	BidCount     int             `msgpack:"bid_count" json:"bid_count"`
	At           time.Time       `msgpack:"at" json:"at"`
}

// EntryKind 標記佇列中的出價事件
func (BidEvent) EntryKind() string { return "bid_event" }

const (
	BidEventNewBid   = "new_bid"
	BidEventResponse = "bid_response"
)

// EventFeed 負責把已經提交的變更推送到即時頻道
type EventFeed interface {
	Publish(ctx context.Context, event BidEvent) error
}

// PriceQuery 是價格建議的查詢條件
type PriceQuery struct {
	Crop     string
	Quality  models.QualityGrade
	Location string
	Quantity decimal.Decimal
}

// PricingAdvisor 在農民沒有提供價格時給出建議價格，無法建議時回傳 nil
type PricingAdvisor interface {
	RecommendPrice(ctx context.Context, query PriceQuery) (*decimal.Decimal, error)
}

// Insights 是作物的市場概況
type Insights struct {
	DemandTrend      string           `json:"demand_trend" msgpack:"demand_trend"`
	PriceTrend       string           `json:"price_trend" msgpack:"price_trend"`
	BestTimeToSell   string           `json:"best_time_to_sell" msgpack:"best_time_to_sell"`
	BuyerInterest    string           `json:"buyer_interest" msgpack:"buyer_interest"`
	MarketSentiment  string           `json:"market_sentiment" msgpack:"market_sentiment"`
	SupplyLevel      string           `json:"supply_level" msgpack:"supply_level"`
	AveragePrice     *decimal.Decimal `json:"average_price,omitempty" msgpack:"average_price"`
	TransactionCount int              `json:"transaction_count" msgpack:"transaction_count"`
}

// InsightsProvider 提供作物詳情頁使用的市場概況
type InsightsProvider interface {
	MarketInsights(ctx context.Context, crop, location string) (*Insights, error)
}

// Cache 是帶有 TTL 的 key-value 儲存，未命中時 Load 回傳 false
type Cache interface {
	Load(ctx context.Context, key string, dst any) (bool, error)
	Store(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CropLocker 是跨實例的作物鎖，回傳的 context 會在鎖失效時取消
type CropLocker interface {
	Lock(ctx context.Context, cropID uuid.UUID) (context.Context, func(), error)
}
