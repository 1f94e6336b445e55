package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mandi/market"
	"mandi/models"
)

const defaultTxTimeout = 5 * time.Second

type options struct {
	logger    *slog.Logger
	txTimeout time.Duration
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTxTimeout 設置單一交易的逾時時間，逾時視為暫時性錯誤
func WithTxTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.txTimeout = timeout
		}
	}
}

// Store 是以 gorm 實作的帳本，作物、出價與交易紀錄都存在同一個資料庫
type Store struct {
	db        *gorm.DB
	txTimeout time.Duration
	logger    *slog.Logger
}

var _ market.Ledger = (*Store)(nil)

func NewStore(db *gorm.DB, opts ...Option) *Store {
	o := options{
		logger:    slog.Default(),
		txTimeout: defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		db:        db,
		txTimeout: o.txTimeout,
		logger:    o.logger.With(slog.String("caller", "ledger.Store")),
	}
}

// DB 回傳底層的 gorm 連線
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) WithTransaction(ctx context.Context, fn func(tx market.LedgerTx) error) error {
	const op = "WithTransaction"
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{db: tx})
	})
	if err == nil {
		return nil
	}
	if market.KindOf(err) == "" && ctx.Err() != nil {
		// 交易因逾時被中斷時，驅動回傳的錯誤不一定帶有 context.DeadlineExceeded
		return market.Transient(op, err)
	}
	return classify(op, err)
}

type txStore struct {
	db *gorm.DB
}

var _ market.LedgerTx = (*txStore)(nil)

// forUpdate 對查詢加上 SELECT ... FOR UPDATE，sqlite 不支援列鎖(整個資料庫在寫入時已經被鎖住)
func (t *txStore) forUpdate() *gorm.DB {
	if t.db.Dialector.Name() == DriverSQLite {
		return t.db
	}
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *txStore) FindCropForUpdate(id uuid.UUID) (*models.Crop, error) {
	const op = "FindCropForUpdate"
	var crop models.Crop
	if err := t.forUpdate().Where("id = ?", id).First(&crop).Error; err != nil {
		return nil, notFoundOr(op, "crop not found", err)
	}
	return &crop, nil
}

func (t *txStore) FindBidForUpdate(id uuid.UUID) (*models.Bid, error) {
	const op = "FindBidForUpdate"
	var bid models.Bid
	if err := t.forUpdate().Where("id = ?", id).First(&bid).Error; err != nil {
		return nil, notFoundOr(op, "bid not found", err)
	}
	return &bid, nil
}

func (t *txStore) FindBidsForCrop(cropID uuid.UUID) ([]models.Bid, error) {
	const op = "FindBidsForCrop"
	var bids []models.Bid
	if err := t.db.Where("crop_id = ?", cropID).Order("created_at, id").Find(&bids).Error; err != nil {
		return nil, classify(op, err)
	}
	return bids, nil
}

func (t *txStore) CreateBid(bid *models.Bid) error {
	const op = "CreateBid"
	return classify(op, t.db.Create(bid).Error)
}

func (t *txStore) UpdateCrop(crop *models.Crop, columns ...string) error {
	const op = "UpdateCrop"
	// 呼叫端已經在同一個交易中鎖住並讀取過這一列，這裡不再檢查影響的列數
	return classify(op, t.db.Model(crop).Select(append(columns, "updated_at")).Updates(crop).Error)
}

func (t *txStore) UpdateBid(bid *models.Bid, columns ...string) error {
	const op = "UpdateBid"
	return classify(op, t.db.Model(bid).Select(append(columns, "updated_at")).Updates(bid).Error)
}

// SetHighestBid 以單一 UPDATE 同時設定與清除旗標，不會出現兩筆同時為 true 的中間狀態
func (t *txStore) SetHighestBid(cropID uuid.UUID, bidID *uuid.UUID) error {
	const op = "SetHighestBid"
	query := t.db.Model(&models.Bid{}).Where("crop_id = ?", cropID)
	var err error
	if bidID == nil {
		err = query.UpdateColumn("is_highest", false).Error
	} else {
		err = query.UpdateColumn("is_highest", gorm.Expr("(id = ?)", *bidID)).Error
	}
	return classify(op, err)
}

func (t *txStore) CreateTransaction(transaction *models.Transaction) error {
	const op = "CreateTransaction"
	if err := t.db.Create(transaction).Error; err != nil {
		if isDuplicated(err) {
			return market.InvalidState(op, "crop already has a transaction")
		}
		return classify(op, err)
	}
	return nil
}
