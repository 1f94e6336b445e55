package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mandi/models"
)

// Action 是農民對出價的回應動作
type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionCounter Action = "counter"
)

func (a Action) Valid() bool {
	switch a {
	case ActionAccept, ActionReject, ActionCounter:
		return true
	}
	return false
}

// RespondRequest 是農民回應出價的請求，CounterAmount 只在還價時使用
type RespondRequest struct {
	BidID         uuid.UUID
	ResponderID   uuid.UUID
	Action        Action
	CounterAmount *decimal.Decimal
}

// RespondResult 是回應出價的結果
type RespondResult struct {
	Message     string              `json:"message"`
	Bid         *models.Bid         `json:"bid"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	// Rejected 是接受出價時一併被拒絕的其他出價
	Rejected []models.Bid `json:"-"`
}

// Resolver 處理農民對出價的接受、拒絕與還價
type Resolver struct {
	ledger  Ledger
	options options
	logger  *slog.Logger
}

func NewResolver(ledger Ledger, opts ...Option) *Resolver {
	o := newOptions(opts)
	return &Resolver{
		ledger:  ledger,
		options: o,
		logger:  o.logger.With(slog.String("caller", "market.Resolver")),
	}
}

// Respond 套用農民對出價的回應
//
// 接受出價時：出價改為 accepted、作物改為 reserved、建立交易紀錄，
// 並拒絕同一作物上其他所有 pending 出價。所有寫入在同一個交易中完成，
// 任何一步失敗整體回滾；通知在提交後送出。
func (r *Resolver) Respond(ctx context.Context, req RespondRequest) (result *RespondResult, err error) {
	const op = "Respond"
	defer observeDuration("respond_to_bid", time.Now())
	defer func() {
		bidResponsesTotal.WithLabelValues(string(req.Action), resultLabel(err)).Inc()
	}()

	// 先找到出價所屬的作物，才能依照 作物 -> 出價 的順序上鎖
	found, err := r.ledger.FindBid(ctx, req.BidID)
	if err != nil {
		return nil, storageError(op, err)
	}

	lockCtx, unlock, err := r.options.locker.Lock(ctx, found.CropID)
	if err != nil {
		return nil, Transient(op, err)
	}
	defer unlock()

	var crop *models.Crop
	err = r.ledger.WithTransaction(lockCtx, func(tx LedgerTx) error {
		c, err := tx.FindCropForUpdate(found.CropID)
		if err != nil {
			return storageError(op, err)
		}
		bid, err := tx.FindBidForUpdate(req.BidID)
		if err != nil {
			return storageError(op, err)
		}
		if c.FarmerID != req.ResponderID {
			return newError(KindForbidden, op, "not authorized to respond to this bid")
		}
		if bid.Status != models.BidStatusPending {
			return newError(KindInvalidState, op, "bid has already been responded to")
		}
		if !CanRespond(c, bid) {
			return newError(KindInvalidState, op, "crop is no longer open for negotiation")
		}
		if err := validateAction(req); err != nil {
			return err
		}

		res := &RespondResult{Bid: bid}
		var applyErr error
		switch req.Action {
		case ActionAccept:
			applyErr = r.accept(tx, c, bid, res)
		case ActionReject:
			applyErr = r.reject(tx, bid, res)
		case ActionCounter:
			applyErr = r.counter(tx, bid, *req.CounterAmount, res)
		}
		if applyErr != nil {
			return applyErr
		}

		bids, err := tx.FindBidsForCrop(c.ID)
		if err != nil {
			return storageError(op, err)
		}
		winner, err := reconcileHighest(tx, c.ID, bids)
		if err != nil {
			return storageError(op, err)
		}
		bid.IsHighest = winner != nil && winner.ID == bid.ID

		result, crop = res, c
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("bid responded",
		slog.String("bid_id", result.Bid.ID.String()),
		slog.String("crop_id", crop.ID.String()),
		slog.String("action", string(req.Action)),
	)
	r.afterRespond(ctx, crop, req.Action, result)
	return result, nil
}

func validateAction(req RespondRequest) error {
	const op = "Respond"
	if !req.Action.Valid() {
		return newError(KindInvalidInput, op, "invalid action")
	}
	if req.Action != ActionCounter {
		return nil
	}
	if req.CounterAmount == nil {
		return newError(KindInvalidInput, op, "counter amount is required for counter offers")
	}
	if !req.CounterAmount.IsPositive() {
		return newError(KindInvalidInput, op, "counter amount must be positive")
	}
	return checkAmount(op, "counter amount", *req.CounterAmount)
}

func (r *Resolver) accept(tx LedgerTx, crop *models.Crop, bid *models.Bid, res *RespondResult) error {
	const op = "Respond.accept"
	now := r.options.now()

	amount := bid.Amount
	bid.Status = models.BidStatusAccepted
	bid.AppendNegotiation(models.NegotiationEvent{
		Kind:   models.NegotiationAccept,
		Amount: &amount,
		At:     now,
		Actor:  models.ActorFarmer,
	})
	if err := tx.UpdateBid(bid, "status", "negotiation_history"); err != nil {
		return storageError(op, err)
	}

	if err := Transition(crop, models.CropStatusReserved); err != nil {
		return err
	}
	if err := tx.UpdateCrop(crop, "status"); err != nil {
		return storageError(op, err)
	}

	transaction := &models.Transaction{
		CropID:      crop.ID,
		BidID:       bid.ID,
		FarmerID:    crop.FarmerID,
		BuyerID:     bid.BuyerID,
		FinalPrice:  bid.Amount,
		Status:      models.TransactionStatusConfirmed,
		CompletedAt: now,
	}
	if err := tx.CreateTransaction(transaction); err != nil {
		return storageError(op, err)
	}
	res.Transaction = transaction

	// 其他 pending 出價一律拒絕，還價中的出價保持原狀
	others, err := tx.FindBidsForCrop(crop.ID)
	if err != nil {
		return storageError(op, err)
	}
	for i := range others {
		other := &others[i]
		if other.ID == bid.ID || other.Status != models.BidStatusPending {
			continue
		}
		other.Status = models.BidStatusRejected
		other.AppendNegotiation(models.NegotiationEvent{
			Kind:  models.NegotiationReject,
			At:    now,
			Actor: models.ActorFarmer,
		})
		if err := tx.UpdateBid(other, "status", "negotiation_history"); err != nil {
			return storageError(op, err)
		}
		res.Rejected = append(res.Rejected, *other)
	}

	res.Message = "Bid accepted successfully"
	return nil
}

func (r *Resolver) reject(tx LedgerTx, bid *models.Bid, res *RespondResult) error {
	const op = "Respond.reject"
	bid.Status = models.BidStatusRejected
	bid.AppendNegotiation(models.NegotiationEvent{
		Kind:  models.NegotiationReject,
		At:    r.options.now(),
		Actor: models.ActorFarmer,
	})
	if err := tx.UpdateBid(bid, "status", "negotiation_history"); err != nil {
		return storageError(op, err)
	}
	res.Message = "Bid rejected successfully"
	return nil
}

func (r *Resolver) counter(tx LedgerTx, bid *models.Bid, amount decimal.Decimal, res *RespondResult) error {
	const op = "Respond.counter"
	bid.Status = models.BidStatusCountered
	bid.CounterAmount = &amount
	bid.AppendNegotiation(models.NegotiationEvent{
		Kind:   models.NegotiationCounter,
		Amount: &amount,
		At:     r.options.now(),
		Actor:  models.ActorFarmer,
	})
	if err := tx.UpdateBid(bid, "status", "counter_amount", "negotiation_history"); err != nil {
		return storageError(op, err)
	}
	res.Message = "Bid countered successfully"
	return nil
}

func (r *Resolver) afterRespond(ctx context.Context, crop *models.Crop, action Action, res *RespondResult) {
	bid := res.Bid
	n := Notification{
		UserID: bid.BuyerID,
		Kind:   "bid_" + string(action),
		CropID: crop.ID,
		BidID:  bid.ID,
	}
	switch action {
	case ActionAccept:
		n.Title = "Bid accepted"
		n.Message = fmt.Sprintf("Your bid of ₹%s on %s has been accepted.", bid.Amount.StringFixed(2), crop.Name)
	case ActionReject:
		n.Title = "Bid rejected"
		n.Message = fmt.Sprintf("Your bid of ₹%s on %s has been rejected.", bid.Amount.StringFixed(2), crop.Name)
	case ActionCounter:
		n.Title = "Counter offer received"
		n.Message = fmt.Sprintf("The farmer countered your bid on %s with ₹%s.", crop.Name, bid.CounterAmount.StringFixed(2))
	}
	r.notify(n)

	for _, other := range res.Rejected {
		r.notify(Notification{
			UserID:  other.BuyerID,
			Kind:    "bid_reject",
			Title:   "Bid rejected",
			Message: fmt.Sprintf("Your bid of ₹%s on %s was not selected. The crop has been reserved.", other.Amount.StringFixed(2), crop.Name),
			CropID:  crop.ID,
			BidID:   other.ID,
		})
	}

	event := BidEvent{
		Kind:         BidEventResponse,
		CropID:       crop.ID,
		BidID:        bid.ID,
		Action:       string(action),
		Amount:       bid.Amount,
		CurrentPrice: crop.CurrentPrice,
		BidCount:     crop.BidCount,
		At:           r.options.now(),
	}
	if err := r.options.feed.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish bid event", slog.String("bid_id", bid.ID.String()), slog.Any("err", err))
	}
}

func (r *Resolver) notify(n Notification) {
	if err := r.options.notifier.Notify(n); err != nil {
		r.logger.Warn("failed to notify buyer",
			slog.String("user_id", n.UserID.String()),
			slog.String("bid_id", n.BidID.String()),
			slog.Any("err", err),
		)
	}
}
