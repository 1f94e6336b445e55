package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"mandi/models"
)

const (
	msgNotOpenForBidding = "crop is not open for bidding"
	msgBiddingEnded      = "bidding period has ended"
)

// errBiddingEnded 用於辨識因截止時間已過而失敗的出價
var errBiddingEnded = &Error{Kind: KindInvalidState, Message: msgBiddingEnded}

// transitions 是作物狀態允許的轉換，沒有任何狀態可以回到 listed
var transitions = map[models.CropStatus][]models.CropStatus{
	models.CropStatusDraft:    {models.CropStatusListed},
	models.CropStatusListed:   {models.CropStatusReserved, models.CropStatusExpired},
	models.CropStatusReserved: {models.CropStatusSold},
}

// CanTransition 判斷作物狀態是否可以從 from 轉換到 to
func CanTransition(from, to models.CropStatus) bool {
	return lo.Contains(transitions[from], to)
}

// Transition 驗證並套用狀態轉換，只修改記憶體中的 crop
func Transition(crop *models.Crop, to models.CropStatus) error {
	const op = "Transition"
	if !CanTransition(crop.Status, to) {
		return newError(KindInvalidState, op, fmt.Sprintf("cannot move crop from %s to %s", crop.Status, to))
	}
	crop.Status = to
	return nil
}

// CanAcceptBid 判斷作物在 now 這個時間點是否可以出價
func CanAcceptBid(crop *models.Crop, now time.Time) bool {
	return crop.Status == models.CropStatusListed && !crop.BiddingClosedAt(now)
}

// CanRespond 判斷農民是否可以回應這筆出價
func CanRespond(crop *models.Crop, bid *models.Bid) bool {
	return bid.Status == models.BidStatusPending && crop.Status == models.CropStatusListed
}

// CheckBidWindow 檢查出價時段，不可出價時回傳帶有原因的 KindInvalidState 錯誤
func CheckBidWindow(crop *models.Crop, now time.Time) error {
	const op = "CheckBidWindow"
	if crop.Status != models.CropStatusListed {
		return newError(KindInvalidState, op, msgNotOpenForBidding)
	}
	if crop.BiddingClosedAt(now) {
		return newError(KindInvalidState, op, msgBiddingEnded)
	}
	return nil
}

// ValidateListing 檢查作物是否具備刊登所需的欄位
func ValidateListing(crop *models.Crop) error {
	const op = "ValidateListing"
	switch {
	case strings.TrimSpace(crop.Name) == "":
		return newError(KindInvalidInput, op, "crop name is required")
	case !crop.Quantity.IsPositive():
		return newError(KindInvalidInput, op, "quantity must be positive")
	case !crop.MinPrice.IsPositive():
		return newError(KindInvalidInput, op, "minimum price must be positive")
	case !crop.QualityGrade.Valid():
		return newError(KindInvalidInput, op, "invalid quality grade")
	}
	return nil
}

// CropDraft 是農民建立作物時提供的資料
type CropDraft struct {
	Name         string
	Variety      string
	Quantity     decimal.Decimal
	Unit         string
	QualityGrade models.QualityGrade
	MinPrice     decimal.Decimal
	CurrentPrice *decimal.Decimal
	Description  string
	District     string
	State        string
	Images       []string
	HarvestDate  *time.Time
	ExpiryDate   *time.Time
	BidEndDate   *time.Time
	// Publish 為 true 時直接刊登，否則建立為草稿
	Publish bool
}

// Lifecycle 管理作物刊登的狀態轉換
type Lifecycle struct {
	ledger  Ledger
	options options
	logger  *slog.Logger
}

func NewLifecycle(ledger Ledger, opts ...Option) *Lifecycle {
	o := newOptions(opts)
	return &Lifecycle{
		ledger:  ledger,
		options: o,
		logger:  o.logger.With(slog.String("caller", "market.Lifecycle")),
	}
}

// CreateCrop 建立作物，沒有提供目前價格時向價格建議服務取得建議價格
// 目前價格不會低於底價
func (l *Lifecycle) CreateCrop(ctx context.Context, farmerID uuid.UUID, draft CropDraft) (*models.Crop, error) {
	const op = "CreateCrop"
	defer observeDuration("create_crop", time.Now())

	crop := &models.Crop{
		FarmerID:     farmerID,
		Name:         strings.TrimSpace(draft.Name),
		Variety:      draft.Variety,
		Quantity:     draft.Quantity,
		Unit:         lo.Ternary(draft.Unit == "", "kg", draft.Unit),
		QualityGrade: lo.Ternary(draft.QualityGrade == "", models.GradeB, draft.QualityGrade),
		MinPrice:     draft.MinPrice,
		Description:  l.options.sanitize(draft.Description),
		District:     draft.District,
		State:        draft.State,
		Images:       lo.Ternary(draft.Images == nil, []string{}, draft.Images),
		HarvestDate:  draft.HarvestDate,
		ExpiryDate:   draft.ExpiryDate,
		BidEndDate:   draft.BidEndDate,
		Status:       models.CropStatusDraft,
	}
	if !crop.QualityGrade.Valid() {
		return nil, newError(KindInvalidInput, op, "invalid quality grade")
	}
	if crop.Quantity.IsNegative() || crop.MinPrice.IsNegative() {
		return nil, newError(KindInvalidInput, op, "quantity and minimum price must not be negative")
	}

	if err := checkAmount(op, "quantity", crop.Quantity); err != nil {
		return nil, err
	}
	if err := checkAmount(op, "minimum price", crop.MinPrice); err != nil {
		return nil, err
	}

	if draft.CurrentPrice != nil {
		if err := checkAmount(op, "current price", *draft.CurrentPrice); err != nil {
			return nil, err
		}
		if draft.CurrentPrice.LessThan(crop.MinPrice) {
			return nil, newError(KindInvalidInput, op, "current price is below minimum price")
		}
		crop.CurrentPrice = *draft.CurrentPrice
	} else {
		crop.CurrentPrice = crop.MinPrice
		recommended, err := l.options.advisor.RecommendPrice(ctx, PriceQuery{
			Crop:     crop.Name,
			Quality:  crop.QualityGrade,
			Location: crop.District,
			Quantity: crop.Quantity,
		})
		if err != nil {
			// 建議價格只是輔助，失敗時仍以底價刊登
			l.logger.Warn("failed to get recommended price", slog.String("crop", crop.Name), slog.Any("err", err))
		} else if recommended != nil {
			crop.CurrentPrice = maxDecimal(*recommended, crop.MinPrice)
		}
	}

	if draft.Publish {
		if err := l.validateForPublish(crop); err != nil {
			return nil, err
		}
		crop.Status = models.CropStatusListed
	}

	if err := l.ledger.CreateCrop(ctx, crop); err != nil {
		return nil, storageError(op, err)
	}
	if crop.Status == models.CropStatusListed {
		cropTransitionsTotal.WithLabelValues(string(models.CropStatusListed)).Inc()
	}
	l.logger.Info("crop created",
		slog.String("crop_id", crop.ID.String()),
		slog.String("farmer_id", farmerID.String()),
		slog.String("status", string(crop.Status)),
	)
	return crop, nil
}

func (l *Lifecycle) validateForPublish(crop *models.Crop) error {
	if err := ValidateListing(crop); err != nil {
		return err
	}
	if crop.BiddingClosedAt(l.options.now()) {
		return newError(KindInvalidInput, "ValidateListing", "bid end date must be in the future")
	}
	return nil
}

// Publish 把草稿刊登為可出價狀態，只有刊登的農民可以操作
func (l *Lifecycle) Publish(ctx context.Context, cropID, farmerID uuid.UUID) (*models.Crop, error) {
	const op = "Publish"
	var published *models.Crop
	err := l.ledger.WithTransaction(ctx, func(tx LedgerTx) error {
		crop, err := tx.FindCropForUpdate(cropID)
		if err != nil {
			return storageError(op, err)
		}
		if crop.FarmerID != farmerID {
			return newError(KindForbidden, op, "not authorized to publish this crop")
		}
		if err := l.validateForPublish(crop); err != nil {
			return err
		}
		if err := Transition(crop, models.CropStatusListed); err != nil {
			return err
		}
		crop.CurrentPrice = maxDecimal(crop.CurrentPrice, crop.MinPrice)
		if err := tx.UpdateCrop(crop, "status", "current_price"); err != nil {
			return storageError(op, err)
		}
		published = crop
		return nil
	})
	if err != nil {
		return nil, err
	}
	cropTransitionsTotal.WithLabelValues(string(models.CropStatusListed)).Inc()
	return published, nil
}

// MarkSold 處理外部結算事件，把已保留的作物標記為售出
func (l *Lifecycle) MarkSold(ctx context.Context, cropID uuid.UUID) (*models.Crop, error) {
	const op = "MarkSold"
	var sold *models.Crop
	err := l.ledger.WithTransaction(ctx, func(tx LedgerTx) error {
		crop, err := tx.FindCropForUpdate(cropID)
		if err != nil {
			return storageError(op, err)
		}
		if err := Transition(crop, models.CropStatusSold); err != nil {
			return err
		}
		if err := tx.UpdateCrop(crop, "status"); err != nil {
			return storageError(op, err)
		}
		sold = crop
		return nil
	})
	if err != nil {
		return nil, err
	}
	cropTransitionsTotal.WithLabelValues(string(models.CropStatusSold)).Inc()
	l.logger.Info("crop settled", slog.String("crop_id", cropID.String()))
	return sold, nil
}

// ExpireIfOverdue 在出價截止後把作物標記為過期，回傳是否有實際轉換
// 只修改狀態，不會動到出價數量與目前價格
func (l *Lifecycle) ExpireIfOverdue(ctx context.Context, cropID uuid.UUID) (bool, error) {
	const op = "ExpireIfOverdue"
	expired := false
	err := l.ledger.WithTransaction(ctx, func(tx LedgerTx) error {
		crop, err := tx.FindCropForUpdate(cropID)
		if err != nil {
			return storageError(op, err)
		}
		if crop.Status != models.CropStatusListed || !crop.BiddingClosedAt(l.options.now()) {
			return nil
		}
		if err := Transition(crop, models.CropStatusExpired); err != nil {
			return err
		}
		if err := tx.UpdateCrop(crop, "status"); err != nil {
			return storageError(op, err)
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		cropTransitionsTotal.WithLabelValues(string(models.CropStatusExpired)).Inc()
		l.logger.Info("crop expired", slog.String("crop_id", cropID.String()))
	}
	return expired, nil
}

// ExpireOverdue 把所有已過截止時間的刊登標記為過期
func (l *Lifecycle) ExpireOverdue(ctx context.Context) (int64, error) {
	const op = "ExpireOverdue"
	n, err := l.ledger.ExpireOverdue(ctx, l.options.now())
	if err != nil {
		return 0, storageError(op, err)
	}
	if n > 0 {
		cropTransitionsTotal.WithLabelValues(string(models.CropStatusExpired)).Add(float64(n))
		l.logger.Info("expired overdue crops", slog.Int64("count", n))
	}
	return n, nil
}

// expireQuietly 是出價失敗後的延遲過期，錯誤只記錄不回傳
func (l *Lifecycle) expireQuietly(ctx context.Context, cropID uuid.UUID) {
	if _, err := l.ExpireIfOverdue(ctx, cropID); err != nil && !errors.Is(err, ErrNotFound) {
		l.logger.Warn("failed to expire crop", slog.String("crop_id", cropID.String()), slog.Any("err", err))
	}
}
