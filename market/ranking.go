package market

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mandi/models"
)

// highestPending 回傳金額最高的 pending 出價，金額相同時最早建立的優先
// 沒有 pending 出價時回傳 nil
func highestPending(bids []models.Bid) *models.Bid {
	var best *models.Bid
	for i := range bids {
		bid := &bids[i]
		if bid.Status != models.BidStatusPending {
			continue
		}
		if best == nil || outranks(bid, best) {
			best = bid
		}
	}
	return best
}

func outranks(a, b *models.Bid) bool {
	if !a.Amount.Equal(b.Amount) {
		return a.Amount.GreaterThan(b.Amount)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	// uuid v7 的位元組順序就是建立順序
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// reconcileHighest 重新計算作物的最高出價旗標並寫回，bids 內的 IsHighest 也會同步更新
func reconcileHighest(tx LedgerTx, cropID uuid.UUID, bids []models.Bid) (*models.Bid, error) {
	winner := highestPending(bids)
	var winnerID *uuid.UUID
	if winner != nil {
		winnerID = &winner.ID
	}
	if err := tx.SetHighestBid(cropID, winnerID); err != nil {
		return nil, err
	}
	for i := range bids {
		bids[i].IsHighest = winner != nil && bids[i].ID == winner.ID
	}
	return winner, nil
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}
