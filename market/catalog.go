package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"mandi/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	popularLimit     = 10
	similarLimit     = 4

	popularCacheKey = "crops:popular"
	popularCacheTTL = time.Hour
	insightsTTL     = 5 * time.Minute
)

// Pagination 是分頁資訊
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// CropPage 是列出作物的結果
type CropPage struct {
	Crops      []models.Crop `json:"crops"`
	Pagination Pagination    `json:"pagination"`
}

// CropDetails 是作物詳情頁的資料
type CropDetails struct {
	Crop         models.Crop   `json:"crop"`
	Farmer       *models.User  `json:"farmer,omitempty"`
	Bids         []models.Bid  `json:"bids"`
	Insights     *Insights     `json:"insights"`
	SimilarCrops []models.Crop `json:"similar_crops"`
}

// Catalog 提供作物與出價的查詢
type Catalog struct {
	ledger    Ledger
	lifecycle *Lifecycle
	options   options
	logger    *slog.Logger
}

func NewCatalog(ledger Ledger, lifecycle *Lifecycle, opts ...Option) *Catalog {
	o := newOptions(opts)
	if lifecycle == nil {
		lifecycle = NewLifecycle(ledger, opts...)
	}
	return &Catalog{
		ledger:    ledger,
		lifecycle: lifecycle,
		options:   o,
		logger:    o.logger.With(slog.String("caller", "market.Catalog")),
	}
}

// normalizeFilter 套用預設值並檢查查詢條件
func normalizeFilter(filter CropFilter) (CropFilter, error) {
	const op = "ListCrops"
	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.Limit < 1:
		filter.Limit = defaultPageLimit
	case filter.Limit > maxPageLimit:
		filter.Limit = maxPageLimit
	}
	if filter.Quality != "" && !filter.Quality.Valid() {
		return filter, newError(KindInvalidInput, op, "invalid quality grade")
	}
	if !filter.AnyStatus {
		if filter.Status == "" {
			filter.Status = models.CropStatusListed
		}
		if !filter.Status.Valid() {
			return filter, newError(KindInvalidInput, op, "invalid status")
		}
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MinPrice.GreaterThan(*filter.MaxPrice) {
		return filter, newError(KindInvalidInput, op, "min_price must not exceed max_price")
	}
	return filter, nil
}

// ListCrops 依條件列出作物，列出前會先把已過截止時間的刊登標記為過期
func (c *Catalog) ListCrops(ctx context.Context, filter CropFilter) (*CropPage, error) {
	const op = "ListCrops"
	defer observeDuration("list_crops", time.Now())

	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	if _, err := c.lifecycle.ExpireOverdue(ctx); err != nil {
		c.logger.Warn("failed to expire overdue crops", slog.Any("err", err))
	}

	crops, total, err := c.ledger.ListCrops(ctx, filter)
	if err != nil {
		return nil, storageError(op, err)
	}
	pages := int((total + int64(filter.Limit) - 1) / int64(filter.Limit))
	return &CropPage{
		Crops: crops,
		Pagination: Pagination{
			Page:  filter.Page,
			Limit: filter.Limit,
			Total: total,
			Pages: pages,
		},
	}, nil
}

// PopularCrops 回傳最新的刊登作物，結果會快取一小時
func (c *Catalog) PopularCrops(ctx context.Context) ([]models.Crop, error) {
	var crops []models.Crop
	if ok, err := c.options.cache.Load(ctx, popularCacheKey, &crops); err != nil {
		c.logger.Warn("failed to load popular crops from cache", slog.Any("err", err))
	} else if ok {
		return crops, nil
	}

	page, err := c.ListCrops(ctx, CropFilter{Page: 1, Limit: popularLimit})
	if err != nil {
		return nil, err
	}
	if err := c.options.cache.Store(ctx, popularCacheKey, page.Crops, popularCacheTTL); err != nil {
		c.logger.Warn("failed to store popular crops in cache", slog.Any("err", err))
	}
	return page.Crops, nil
}

// GetCropDetails 回傳作物詳情、出價(依金額由高到低)、市場概況與相似作物
// 瀏覽次數的累加不在交易中進行，失敗也不影響結果
func (c *Catalog) GetCropDetails(ctx context.Context, id uuid.UUID) (*CropDetails, error) {
	const op = "GetCropDetails"
	defer observeDuration("get_crop_details", time.Now())

	found, err := c.ledger.FindCropWithFarmer(ctx, id)
	if err != nil {
		return nil, storageError(op, err)
	}
	crop := found.Crop
	if crop.Status == models.CropStatusListed && crop.BiddingClosedAt(c.options.now()) {
		expired, err := c.lifecycle.ExpireIfOverdue(ctx, crop.ID)
		if err != nil {
			c.logger.Warn("failed to expire crop", slog.String("crop_id", crop.ID.String()), slog.Any("err", err))
		} else if expired {
			crop.Status = models.CropStatusExpired
		}
	}

	bids, err := c.ledger.FindBidsForCrop(ctx, crop.ID)
	if err != nil {
		return nil, storageError(op, err)
	}
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].Amount.GreaterThan(bids[j].Amount)
	})

	if err := c.ledger.IncrementViewCount(ctx, crop.ID); err != nil {
		c.logger.Warn("failed to increment view count", slog.String("crop_id", crop.ID.String()), slog.Any("err", err))
	} else {
		crop.ViewCount++
	}

	similar, err := c.ledger.FindSimilarCrops(ctx, &crop, similarLimit)
	if err != nil {
		c.logger.Warn("failed to find similar crops", slog.String("crop_id", crop.ID.String()), slog.Any("err", err))
		similar = []models.Crop{}
	}

	return &CropDetails{
		Crop:         crop,
		Farmer:       found.Farmer,
		Bids:         bids,
		Insights:     c.insights(ctx, &crop),
		SimilarCrops: similar,
	}, nil
}

func (c *Catalog) insights(ctx context.Context, crop *models.Crop) *Insights {
	key := fmt.Sprintf("insights:%s:%s", crop.Name, crop.District)
	var cached Insights
	if ok, err := c.options.cache.Load(ctx, key, &cached); err == nil && ok {
		return &cached
	}
	insights, err := c.options.insights.MarketInsights(ctx, crop.Name, crop.District)
	if err != nil {
		c.logger.Warn("failed to get market insights", slog.String("crop", crop.Name), slog.Any("err", err))
		return nil
	}
	if insights == nil {
		return nil
	}
	if err := c.options.cache.Store(ctx, key, insights, insightsTTL); err != nil {
		c.logger.Warn("failed to store market insights in cache", slog.Any("err", err))
	}
	return insights
}

// CropsByFarmer 列出農民自己的作物，不限狀態
func (c *Catalog) CropsByFarmer(ctx context.Context, farmerID uuid.UUID, page, limit int) (*CropPage, error) {
	return c.ListCrops(ctx, CropFilter{
		FarmerID:  &farmerID,
		AnyStatus: true,
		Page:      page,
		Limit:     limit,
	})
}

// BidsByBuyer 列出買家的所有出價，最新的在前
func (c *Catalog) BidsByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Bid, error) {
	const op = "BidsByBuyer"
	bids, err := c.ledger.FindBidsByBuyer(ctx, buyerID)
	if err != nil {
		return nil, storageError(op, err)
	}
	return bids, nil
}

func (c *Catalog) FarmerStats(ctx context.Context, farmerID uuid.UUID) (FarmerStats, error) {
	const op = "FarmerStats"
	stats, err := c.ledger.FarmerStats(ctx, farmerID)
	if err != nil {
		return FarmerStats{}, storageError(op, err)
	}
	return stats, nil
}

func (c *Catalog) BuyerStats(ctx context.Context, buyerID uuid.UUID) (BuyerStats, error) {
	const op = "BuyerStats"
	stats, err := c.ledger.BuyerStats(ctx, buyerID)
	if err != nil {
		return BuyerStats{}, storageError(op, err)
	}
	return stats, nil
}
