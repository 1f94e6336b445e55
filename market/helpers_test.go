package market_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mandi/adapters/ledger"
	"mandi/adapters/ledger/ledgertest"
	"mandi/market"
	"mandi/models"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingNotifier struct {
	mu    sync.Mutex
	items []market.Notification
}

func (r *recordingNotifier) Notify(n market.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

func (r *recordingNotifier) sent() []market.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]market.Notification(nil), r.items...)
}

type recordingFeed struct {
	mu     sync.Mutex
	events []market.BidEvent
}

func (r *recordingFeed) Publish(_ context.Context, event market.BidEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingFeed) published() []market.BidEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]market.BidEvent(nil), r.events...)
}

// clock 是可以手動推進的時鐘
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store     *ledger.Store
	lifecycle *market.Lifecycle
	engine    *market.BidEngine
	resolver  *market.Resolver
	catalog   *market.Catalog
	notifier  *recordingNotifier
	feed      *recordingFeed
	clock     *clock
}

func newFixture(t *testing.T, opts ...market.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    ledgertest.New(t),
		notifier: &recordingNotifier{},
		feed:     &recordingFeed{},
		clock:    &clock{now: time.Now().UTC()},
	}
	opts = append([]market.Option{
		market.WithLogger(discardLogger),
		market.WithClock(f.clock.Now),
		market.WithNotifier(f.notifier),
		market.WithEventFeed(f.feed),
	}, opts...)
	f.lifecycle = market.NewLifecycle(f.store, opts...)
	f.engine = market.NewBidEngine(f.store, f.lifecycle, opts...)
	f.resolver = market.NewResolver(f.store, opts...)
	f.catalog = market.NewCatalog(f.store, f.lifecycle, opts...)
	return f
}

// listCrop 直接在帳本中建立一筆刊登中的作物，底價 100
func (f *fixture) listCrop(t *testing.T, mutate func(c *models.Crop)) *models.Crop {
	t.Helper()
	crop := &models.Crop{
		FarmerID:     uuid.New(),
		Name:         "Tomato",
		Quantity:     decimal.NewFromInt(500),
		Unit:         "kg",
		QualityGrade: models.GradeA,
		MinPrice:     decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(100),
		District:     "Nashik",
		Status:       models.CropStatusListed,
	}
	if mutate != nil {
		mutate(crop)
	}
	require.NoError(t, f.store.CreateCrop(context.Background(), crop))
	return crop
}

func (f *fixture) bid(t *testing.T, crop *models.Crop, amount int64) *models.Bid {
	t.Helper()
	bid, err := f.engine.PlaceBid(context.Background(), market.PlaceBidRequest{
		CropID:  crop.ID,
		BuyerID: uuid.New(),
		Amount:  decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	return bid
}

func (f *fixture) crop(t *testing.T, id uuid.UUID) *models.Crop {
	t.Helper()
	crop, err := f.store.FindCrop(context.Background(), id)
	require.NoError(t, err)
	return crop
}

func (f *fixture) bids(t *testing.T, cropID uuid.UUID) []models.Bid {
	t.Helper()
	bids, err := f.store.FindBidsForCrop(context.Background(), cropID)
	require.NoError(t, err)
	return bids
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.Bid {
	t.Helper()
	bid, err := f.store.FindBid(context.Background(), id)
	require.NoError(t, err)
	return bid
}

// requireHighestInvariant 檢查最多只有一筆最高出價，而且就是金額最高、最早建立的 pending 出價
func requireHighestInvariant(t require.TestingT, bids []models.Bid) {
	var want *models.Bid
	flagged := 0
	for i := range bids {
		b := &bids[i]
		if b.IsHighest {
			flagged++
		}
		if b.Status != models.BidStatusPending {
			continue
		}
		if want == nil || b.Amount.GreaterThan(want.Amount) {
			want = b
		}
	}
	if want == nil {
		require.Zero(t, flagged, "no pending bids but %d flagged", flagged)
		return
	}
	require.Equal(t, 1, flagged)
	require.True(t, want.IsHighest, "bid %s with amount %s should be highest", want.ID, want.Amount)
}

var errDiskFull = errors.New("disk full")

// faultyLedger 讓交易中第 failAt 次呼叫 failOn 寫入時失敗，其餘操作交給真正的帳本
type faultyLedger struct {
	market.Ledger
	failOn string
	failAt int
}

func (l *faultyLedger) WithTransaction(ctx context.Context, fn func(tx market.LedgerTx) error) error {
	return l.Ledger.WithTransaction(ctx, func(tx market.LedgerTx) error {
		return fn(&faultyTx{LedgerTx: tx, ledger: l, calls: map[string]int{}})
	})
}

type faultyTx struct {
	market.LedgerTx
	ledger *faultyLedger
	calls  map[string]int
}

func (t *faultyTx) fail(method string) bool {
	t.calls[method]++
	return method == t.ledger.failOn && t.calls[method] == max(t.ledger.failAt, 1)
}

func (t *faultyTx) CreateBid(bid *models.Bid) error {
	if t.fail("CreateBid") {
		return errDiskFull
	}
	return t.LedgerTx.CreateBid(bid)
}

func (t *faultyTx) UpdateCrop(crop *models.Crop, columns ...string) error {
	if t.fail("UpdateCrop") {
		return errDiskFull
	}
	return t.LedgerTx.UpdateCrop(crop, columns...)
}

func (t *faultyTx) UpdateBid(bid *models.Bid, columns ...string) error {
	if t.fail("UpdateBid") {
		return errDiskFull
	}
	return t.LedgerTx.UpdateBid(bid, columns...)
}

func (t *faultyTx) SetHighestBid(cropID uuid.UUID, bidID *uuid.UUID) error {
	if t.fail("SetHighestBid") {
		return errDiskFull
	}
	return t.LedgerTx.SetHighestBid(cropID, bidID)
}

func (t *faultyTx) CreateTransaction(transaction *models.Transaction) error {
	if t.fail("CreateTransaction") {
		return errDiskFull
	}
	return t.LedgerTx.CreateTransaction(transaction)
}

// faulty 以會失敗的帳本建立另一組引擎與解析器，共用 fixture 的資料與紀錄器
func (f *fixture) faulty(failOn string, failAt int) (*market.BidEngine, *market.Resolver) {
	l := &faultyLedger{Ledger: f.store, failOn: failOn, failAt: failAt}
	opts := []market.Option{
		market.WithLogger(discardLogger),
		market.WithClock(f.clock.Now),
		market.WithNotifier(f.notifier),
		market.WithEventFeed(f.feed),
	}
	return market.NewBidEngine(l, market.NewLifecycle(l, opts...), opts...), market.NewResolver(l, opts...)
}

func (f *fixture) transactionCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.store.DB().Model(&models.Transaction{}).Count(&n).Error)
	return n
}
