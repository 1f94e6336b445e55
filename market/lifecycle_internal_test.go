package market

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"

	"mandi/models"
)

func TestTransition(t *testing.T) {
	statuses := []models.CropStatus{
		models.CropStatusDraft,
		models.CropStatusListed,
		models.CropStatusReserved,
		models.CropStatusSold,
		models.CropStatusExpired,
	}
	allowed := map[[2]models.CropStatus]bool{
		{models.CropStatusDraft, models.CropStatusListed}:    true,
		{models.CropStatusListed, models.CropStatusReserved}: true,
		{models.CropStatusListed, models.CropStatusExpired}:  true,
		{models.CropStatusReserved, models.CropStatusSold}:   true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			crop := &models.Crop{Status: from}
			err := Transition(crop, to)
			if allowed[[2]models.CropStatus{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, crop.Status)
				continue
			}
			assert.Equal(t, KindInvalidState, KindOf(err), "%s -> %s", from, to)
			assert.Equal(t, from, crop.Status)
		}
	}
}

func TestCheckBidWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		crop    models.Crop
		wantMsg string
	}{
		{name: "open without deadline", crop: models.Crop{Status: models.CropStatusListed}},
		{name: "open before deadline", crop: models.Crop{Status: models.CropStatusListed, BidEndDate: lo.ToPtr(now.Add(time.Second))}},
		{name: "closed at deadline", crop: models.Crop{Status: models.CropStatusListed, BidEndDate: lo.ToPtr(now)}, wantMsg: msgBiddingEnded},
		{name: "closed after deadline", crop: models.Crop{Status: models.CropStatusListed, BidEndDate: lo.ToPtr(now.Add(-time.Hour))}, wantMsg: msgBiddingEnded},
		{name: "draft", crop: models.Crop{Status: models.CropStatusDraft}, wantMsg: msgNotOpenForBidding},
		{name: "reserved", crop: models.Crop{Status: models.CropStatusReserved}, wantMsg: msgNotOpenForBidding},
		{name: "expired", crop: models.Crop{Status: models.CropStatusExpired}, wantMsg: msgNotOpenForBidding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBidWindow(&tt.crop, now)
			assert.Equal(t, tt.wantMsg == "", CanAcceptBid(&tt.crop, now))
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, KindInvalidState, KindOf(err))
			assert.Equal(t, tt.wantMsg, MessageOf(err))
		})
	}
}

func TestCanRespond(t *testing.T) {
	listed := &models.Crop{Status: models.CropStatusListed}
	reserved := &models.Crop{Status: models.CropStatusReserved}
	pending := &models.Bid{Status: models.BidStatusPending}
	countered := &models.Bid{Status: models.BidStatusCountered}

	assert.True(t, CanRespond(listed, pending))
	assert.False(t, CanRespond(listed, countered))
	assert.False(t, CanRespond(reserved, pending))
}
