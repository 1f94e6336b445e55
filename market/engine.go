package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mandi/models"
)

// PlaceBidRequest 是買家出價的請求
type PlaceBidRequest struct {
	CropID  uuid.UUID
	BuyerID uuid.UUID
	Amount  decimal.Decimal
	Message string
}

// BidEngine 負責接受出價並維護作物的最高出價
type BidEngine struct {
	ledger    Ledger
	lifecycle *Lifecycle
	options   options
	logger    *slog.Logger
}

func NewBidEngine(ledger Ledger, lifecycle *Lifecycle, opts ...Option) *BidEngine {
	o := newOptions(opts)
	if lifecycle == nil {
		lifecycle = NewLifecycle(ledger, opts...)
	}
	return &BidEngine{
		ledger:    ledger,
		lifecycle: lifecycle,
		options:   o,
		logger:    o.logger.With(slog.String("caller", "market.BidEngine")),
	}
}

// PlaceBid 在作物上建立一筆 pending 出價
//
// 所有寫入(新增出價、更新目前價格與出價數、重新計算最高出價)在同一個交易中完成，
// 交易一開始就鎖住作物列；任何前置條件失敗都不會產生寫入。
// 通知與即時事件只在交易提交後送出。
func (e *BidEngine) PlaceBid(ctx context.Context, req PlaceBidRequest) (bid *models.Bid, err error) {
	const op = "PlaceBid"
	defer observeDuration("place_bid", time.Now())
	defer func() {
		bidsPlacedTotal.WithLabelValues(resultLabel(err)).Inc()
	}()

	lockCtx, unlock, err := e.options.locker.Lock(ctx, req.CropID)
	if err != nil {
		return nil, Transient(op, err)
	}
	defer unlock()

	var crop *models.Crop
	err = e.ledger.WithTransaction(lockCtx, func(tx LedgerTx) error {
		c, err := tx.FindCropForUpdate(req.CropID)
		if err != nil {
			return storageError(op, err)
		}
		if c.FarmerID == req.BuyerID {
			return newError(KindInvalidOperation, op, "cannot bid on own crop")
		}
		if err := CheckBidWindow(c, e.options.now()); err != nil {
			return err
		}
		if err := checkAmount(op, "bid amount", req.Amount); err != nil {
			return err
		}
		if req.Amount.LessThan(c.MinPrice) {
			return newError(KindInvalidInput, op, "bid amount is below minimum price")
		}
		if !req.Amount.IsPositive() {
			return newError(KindInvalidInput, op, "bid amount must be positive")
		}

		b := &models.Bid{
			CropID:             c.ID,
			BuyerID:            req.BuyerID,
			Amount:             req.Amount,
			Message:            e.options.sanitize(req.Message),
			Status:             models.BidStatusPending,
			NegotiationHistory: []models.NegotiationEvent{},
		}
		if err := tx.CreateBid(b); err != nil {
			return storageError(op, err)
		}

		c.BidCount++
		c.CurrentPrice = maxDecimal(c.CurrentPrice, req.Amount)
		if err := tx.UpdateCrop(c, "bid_count", "current_price"); err != nil {
			return storageError(op, err)
		}

		bids, err := tx.FindBidsForCrop(c.ID)
		if err != nil {
			return storageError(op, err)
		}
		winner, err := reconcileHighest(tx, c.ID, bids)
		if err != nil {
			return storageError(op, err)
		}
		b.IsHighest = winner != nil && winner.ID == b.ID

		bid, crop = b, c
		return nil
	})
	if err != nil {
		if errors.Is(err, errBiddingEnded) {
			e.lifecycle.expireQuietly(ctx, req.CropID)
		}
		return nil, err
	}

	e.logger.Info("bid placed",
		slog.String("crop_id", crop.ID.String()),
		slog.String("bid_id", bid.ID.String()),
		slog.String("amount", bid.Amount.StringFixed(2)),
		slog.Bool("is_highest", bid.IsHighest),
	)
	e.afterPlace(ctx, crop, bid)
	return bid, nil
}

func (e *BidEngine) afterPlace(ctx context.Context, crop *models.Crop, bid *models.Bid) {
	n := Notification{
		UserID:  crop.FarmerID,
		Kind:    "bid_placed",
		Title:   "New bid received",
		Message: fmt.Sprintf("New bid ₹%s placed on your %s. Check your app for details.", bid.Amount.StringFixed(2), crop.Name),
		CropID:  crop.ID,
		BidID:   bid.ID,
	}
	if err := e.options.notifier.Notify(n); err != nil {
		e.logger.Warn("failed to notify farmer", slog.String("bid_id", bid.ID.String()), slog.Any("err", err))
	}

	event := BidEvent{
		Kind:         BidEventNewBid,
		CropID:       crop.ID,
		BidID:        bid.ID,
		Amount:       bid.Amount,
		CurrentPrice: crop.CurrentPrice,
		BidCount:     crop.BidCount,
		At:           bid.CreatedAt,
	}
	if err := e.options.feed.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish bid event", slog.String("bid_id", bid.ID.String()), slog.Any("err", err))
	}
}
