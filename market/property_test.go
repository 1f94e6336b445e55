package market_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"mandi/market"
	"mandi/models"
)

// 任意順序的出價、拒絕與還價之後，作物與出價的不變量都必須成立
func TestBidInvariants_Property(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		crop := f.listCrop(t, nil)
		maxAmount := crop.MinPrice
		placed := 0

		steps := rapid.IntRange(1, 15).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			bids := f.bids(t, crop.ID)
			pending := lo.Filter(bids, func(b models.Bid, _ int) bool { return b.Status == models.BidStatusPending })

			switch op := rapid.IntRange(0, 3).Draw(rt, "op"); {
			case op <= 1 || len(pending) == 0:
				amount := decimal.NewFromInt(rapid.Int64Range(90, 140).Draw(rt, "amount"))
				_, err := f.engine.PlaceBid(ctx, market.PlaceBidRequest{CropID: crop.ID, BuyerID: uuid.New(), Amount: amount})
				if amount.LessThan(crop.MinPrice) {
					require.Equal(rt, market.KindInvalidInput, market.KindOf(err))
					break
				}
				require.NoError(rt, err)
				placed++
				maxAmount = decimal.Max(maxAmount, amount)
			case op == 2:
				target := rapid.SampledFrom(pending).Draw(rt, "reject")
				_, err := f.resolver.Respond(ctx, market.RespondRequest{BidID: target.ID, ResponderID: crop.FarmerID, Action: market.ActionReject})
				require.NoError(rt, err)
			default:
				target := rapid.SampledFrom(pending).Draw(rt, "counter")
				_, err := f.resolver.Respond(ctx, market.RespondRequest{
					BidID:         target.ID,
					ResponderID:   crop.FarmerID,
					Action:        market.ActionCounter,
					CounterAmount: lo.ToPtr(target.Amount.Add(decimal.NewFromInt(10))),
				})
				require.NoError(rt, err)
			}

			got := f.crop(t, crop.ID)
			require.Equal(rt, placed, got.BidCount)
			require.True(rt, got.CurrentPrice.Equal(maxAmount), "current=%s max=%s", got.CurrentPrice, maxAmount)
			require.True(rt, got.CurrentPrice.GreaterThanOrEqual(got.MinPrice))
			requireHighestInvariant(rt, f.bids(t, crop.ID))
		}
	})
}
