package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionStatus string

const (
	TransactionStatusConfirmed TransactionStatus = "confirmed"
)

// Transaction 代表出價被接受後成立的交易
// 每批作物只會有一筆交易(crop_id 唯一)，建立後不再變更
type Transaction struct {
	ID          uuid.UUID         `gorm:"primaryKey;size:36;<-:create" json:"id"`
	CropID      uuid.UUID         `gorm:"size:36;uniqueIndex;not null;<-:create" json:"crop_id"`
	BidID       uuid.UUID         `gorm:"size:36;not null;<-:create" json:"bid_id"`
	FarmerID    uuid.UUID         `gorm:"size:36;index;not null;<-:create" json:"farmer_id"`
	BuyerID     uuid.UUID         `gorm:"size:36;index;not null;<-:create" json:"buyer_id"`
	FinalPrice  decimal.Decimal   `gorm:"type:numeric(12,2);not null;<-:create" json:"final_price"`
	Status      TransactionStatus `gorm:"size:20;not null;<-:create" json:"status"`
	CompletedAt time.Time         `gorm:"not null;<-:create" json:"completed_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}
