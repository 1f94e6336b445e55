package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"mandi/market"
	"mandi/models"
)

func (s *Store) CreateCrop(ctx context.Context, crop *models.Crop) error {
	const op = "CreateCrop"
	return classify(op, s.db.WithContext(ctx).Create(crop).Error)
}

func (s *Store) FindCrop(ctx context.Context, id uuid.UUID) (*models.Crop, error) {
	const op = "FindCrop"
	var crop models.Crop
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&crop).Error; err != nil {
		return nil, notFoundOr(op, "crop not found", err)
	}
	return &crop, nil
}

func (s *Store) FindCropWithFarmer(ctx context.Context, id uuid.UUID) (*market.CropWithFarmer, error) {
	const op = "FindCropWithFarmer"
	crop, err := s.FindCrop(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &market.CropWithFarmer{Crop: *crop}
	var farmer models.User
	err = s.db.WithContext(ctx).Where("id = ?", crop.FarmerID).First(&farmer).Error
	switch {
	case err == nil:
		result.Farmer = &farmer
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, classify(op, err)
	}
	return result, nil
}

func (s *Store) FindBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	const op = "FindBid"
	var bid models.Bid
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&bid).Error; err != nil {
		return nil, notFoundOr(op, "bid not found", err)
	}
	return &bid, nil
}

func (s *Store) FindBidsForCrop(ctx context.Context, cropID uuid.UUID) ([]models.Bid, error) {
	const op = "FindBidsForCrop"
	var bids []models.Bid
	if err := s.db.WithContext(ctx).Where("crop_id = ?", cropID).Order("created_at, id").Find(&bids).Error; err != nil {
		return nil, classify(op, err)
	}
	return bids, nil
}

func (s *Store) FindBidsByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Bid, error) {
	const op = "FindBidsByBuyer"
	var bids []models.Bid
	if err := s.db.WithContext(ctx).Where("buyer_id = ?", buyerID).Order("created_at DESC, id DESC").Find(&bids).Error; err != nil {
		return nil, classify(op, err)
	}
	return bids, nil
}

// cropFilterScope 把查詢條件轉換成 gorm scope，計數與查詢共用同一組條件
func cropFilterScope(filter market.CropFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		//  - search
		if search := strings.TrimSpace(filter.Search); search != "" {
			like := "%" + strings.ToLower(search) + "%"
			db = db.Where("(LOWER(name) LIKE ? OR LOWER(variety) LIKE ? OR LOWER(description) LIKE ?)", like, like, like)
		}
		//  - price
		if filter.MinPrice != nil {
			db = db.Where("current_price >= ?", *filter.MinPrice)
		}
		if filter.MaxPrice != nil {
			db = db.Where("current_price <= ?", *filter.MaxPrice)
		}
		//  - quality
		if filter.Quality != "" {
			db = db.Where("quality_grade = ?", filter.Quality)
		}
		//  - location
		if location := strings.TrimSpace(filter.Location); location != "" {
			like := "%" + strings.ToLower(location) + "%"
			db = db.Where("(LOWER(district) LIKE ? OR LOWER(state) LIKE ?)", like, like)
		}
		//  - farmer
		if filter.FarmerID != nil {
			db = db.Where("farmer_id = ?", *filter.FarmerID)
		}
		//  - status
		if !filter.AnyStatus && filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		return db
	}
}

func (s *Store) ListCrops(ctx context.Context, filter market.CropFilter) ([]models.Crop, int64, error) {
	const op = "ListCrops"
	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&models.Crop{}).Scopes(cropFilterScope(filter)).Count(&total).Error; err != nil {
		return nil, 0, classify(op, err)
	}
	crops := make([]models.Crop, 0, filter.Limit)
	if err := db.Scopes(cropFilterScope(filter)).
		Order("created_at DESC, id DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&crops).Error; err != nil {
		return nil, 0, classify(op, err)
	}
	return crops, total, nil
}

// FindSimilarCrops 找出同名稱、仍在刊登中的其他作物
func (s *Store) FindSimilarCrops(ctx context.Context, crop *models.Crop, limit int) ([]models.Crop, error) {
	const op = "FindSimilarCrops"
	crops := make([]models.Crop, 0, limit)
	if err := s.db.WithContext(ctx).
		Where("LOWER(name) = ? AND status = ? AND id <> ?", strings.ToLower(crop.Name), models.CropStatusListed, crop.ID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&crops).Error; err != nil {
		return nil, classify(op, err)
	}
	return crops, nil
}

func (s *Store) IncrementViewCount(ctx context.Context, id uuid.UUID) error {
	const op = "IncrementViewCount"
	result := s.db.WithContext(ctx).Model(&models.Crop{}).Where("id = ?", id).UpdateColumn("view_count", gorm.Expr("view_count + 1"))
	if result.Error != nil {
		return classify(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return market.NotFound(op, "crop not found")
	}
	return nil
}

// ExpireOverdue 以單一 UPDATE 把所有已過截止時間的刊登標記為過期
func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	const op = "ExpireOverdue"
	result := s.db.WithContext(ctx).Model(&models.Crop{}).
		Where("status = ? AND bid_end_date IS NOT NULL AND bid_end_date <= ?", models.CropStatusListed, now).
		Update("status", models.CropStatusExpired)
	if result.Error != nil {
		return 0, classify(op, result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) FarmerStats(ctx context.Context, farmerID uuid.UUID) (market.FarmerStats, error) {
	const op = "FarmerStats"
	db := s.db.WithContext(ctx)
	var stats market.FarmerStats
	if err := db.Model(&models.Crop{}).Where("farmer_id = ? AND status = ?", farmerID, models.CropStatusListed).Count(&stats.ActiveListings).Error; err != nil {
		return stats, classify(op, err)
	}
	if err := db.Model(&models.Transaction{}).Where("farmer_id = ?", farmerID).Count(&stats.TotalSales).Error; err != nil {
		return stats, classify(op, err)
	}
	ownCrops := db.Model(&models.Crop{}).Select("id").Where("farmer_id = ?", farmerID)
	if err := db.Model(&models.Bid{}).Where("status = ? AND crop_id IN (?)", models.BidStatusPending, ownCrops).Count(&stats.PendingBids).Error; err != nil {
		return stats, classify(op, err)
	}
	var earnings decimal.NullDecimal
	if err := db.Model(&models.Transaction{}).Select("SUM(final_price)").Where("farmer_id = ?", farmerID).Row().Scan(&earnings); err != nil {
		return stats, classify(op, err)
	}
	stats.Earnings = earnings.Decimal
	return stats, nil
}

func (s *Store) BuyerStats(ctx context.Context, buyerID uuid.UUID) (market.BuyerStats, error) {
	const op = "BuyerStats"
	db := s.db.WithContext(ctx)
	var stats market.BuyerStats
	if err := db.Model(&models.Bid{}).Where("buyer_id = ? AND status = ?", buyerID, models.BidStatusPending).Count(&stats.ActiveBids).Error; err != nil {
		return stats, classify(op, err)
	}
	if err := db.Model(&models.Transaction{}).Where("buyer_id = ?", buyerID).Count(&stats.CompletedPurchases).Error; err != nil {
		return stats, classify(op, err)
	}
	return stats, nil
}

// FindUser 回傳使用者資料，供通知服務查詢電話號碼
func (s *Store) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "FindUser"
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFoundOr(op, "user not found", err)
	}
	return &user, nil
}

// RecentListings 回傳同名稱、同地區、刊登中的最新作物，供價格建議使用
func (s *Store) RecentListings(ctx context.Context, name, district string, limit int) ([]models.Crop, error) {
	const op = "RecentListings"
	query := s.db.WithContext(ctx).Where("LOWER(name) = ? AND status = ?", strings.ToLower(name), models.CropStatusListed)
	if district != "" {
		query = query.Where("LOWER(district) = ?", strings.ToLower(district))
	}
	var crops []models.Crop
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&crops).Error; err != nil {
		return nil, classify(op, err)
	}
	return crops, nil
}

// CountListings 計算同名稱、刊登中的作物數量
func (s *Store) CountListings(ctx context.Context, name, district string) (int64, error) {
	const op = "CountListings"
	query := s.db.WithContext(ctx).Model(&models.Crop{}).Where("LOWER(name) = ? AND status = ?", strings.ToLower(name), models.CropStatusListed)
	if district != "" {
		query = query.Where("LOWER(district) = ?", strings.ToLower(district))
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, classify(op, err)
	}
	return count, nil
}

// RecentTransactions 依完成時間由舊到新回傳 since 之後成交的同名稱作物交易
func (s *Store) RecentTransactions(ctx context.Context, name, district string, since time.Time) ([]models.Transaction, error) {
	const op = "RecentTransactions"
	db := s.db.WithContext(ctx)
	crops := db.Model(&models.Crop{}).Select("id").Where("LOWER(name) = ?", strings.ToLower(name))
	if district != "" {
		crops = crops.Where("LOWER(district) = ?", strings.ToLower(district))
	}
	var transactions []models.Transaction
	if err := db.Where("crop_id IN (?) AND completed_at >= ?", crops, since).
		Order("completed_at, id").
		Find(&transactions).Error; err != nil {
		return nil, classify(op, err)
	}
	return transactions, nil
}

// CountBidsSince 計算 since 之後同名稱作物收到的出價數
func (s *Store) CountBidsSince(ctx context.Context, name string, since time.Time) (int64, error) {
	const op = "CountBidsSince"
	db := s.db.WithContext(ctx)
	crops := db.Model(&models.Crop{}).Select("id").Where("LOWER(name) = ?", strings.ToLower(name))
	var count int64
	if err := db.Model(&models.Bid{}).Where("crop_id IN (?) AND created_at >= ?", crops, since).Count(&count).Error; err != nil {
		return 0, classify(op, err)
	}
	return count, nil
}

// LatestPrice 回傳作物在該地區最新的一筆市場行情，沒有資料時回傳 nil
func (s *Store) LatestPrice(ctx context.Context, name, region string) (*models.PriceHistory, error) {
	const op = "LatestPrice"
	query := s.db.WithContext(ctx).Where("LOWER(crop_name) = ?", strings.ToLower(name))
	if region != "" {
		query = query.Where("LOWER(region) = ?", strings.ToLower(region))
	}
	var record models.PriceHistory
	if err := query.Order("date DESC, id DESC").First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify(op, err)
	}
	return &record, nil
}

// PriceHistory 依日期由舊到新回傳 since 之後的市場行情
func (s *Store) PriceHistory(ctx context.Context, name, region string, since time.Time) ([]models.PriceHistory, error) {
	const op = "PriceHistory"
	query := s.db.WithContext(ctx).Where("LOWER(crop_name) = ? AND date >= ?", strings.ToLower(name), since)
	if region != "" {
		query = query.Where("LOWER(region) = ?", strings.ToLower(region))
	}
	records := make([]models.PriceHistory, 0)
	if err := query.Order("date, id").Find(&records).Error; err != nil {
		return nil, classify(op, err)
	}
	return records, nil
}

// CreateImage 記錄上傳的作物照片
func (s *Store) CreateImage(ctx context.Context, image *models.Image) error {
	const op = "CreateImage"
	return classify(op, s.db.WithContext(ctx).Create(image).Error)
}

// CountImagesSince 計算使用者在 since 之後上傳的照片數量
func (s *Store) CountImagesSince(ctx context.Context, uploaderID uuid.UUID, since time.Time) (int64, error) {
	const op = "CountImagesSince"
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Image{}).
		Where("uploader_id = ? AND created_at > ?", uploaderID, since).
		Count(&count).Error; err != nil {
		return 0, classify(op, err)
	}
	return count, nil
}
