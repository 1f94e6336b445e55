package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BidStatus 代表出價的處理狀態
type BidStatus string

const (
	BidStatusPending   BidStatus = "pending"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusRejected  BidStatus = "rejected"
	BidStatusCountered BidStatus = "countered"
	BidStatusExpired   BidStatus = "expired"
)

// NegotiationKind 代表議價紀錄的種類
type NegotiationKind string

const (
	NegotiationCounter NegotiationKind = "counter"
	NegotiationAccept  NegotiationKind = "accept"
	NegotiationReject  NegotiationKind = "reject"
)

// Actor 代表議價動作的發起方
type Actor string

const (
	ActorFarmer Actor = "farmer"
	ActorBuyer  Actor = "buyer"
)

// NegotiationEvent 是議價紀錄中的一筆事件，只能附加不能修改
type NegotiationEvent struct {
	Kind   NegotiationKind  `json:"kind"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	At     time.Time        `json:"at"`
	Actor  Actor            `json:"actor"`
}

// Bid 代表買家對某批作物的出價紀錄
// CropID、BuyerID、Amount、Message 建立後不可變更
type Bid struct {
	ID                 uuid.UUID                             `gorm:"primaryKey;size:36;<-:create" json:"id"`
	CropID             uuid.UUID                             `gorm:"size:36;index;not null;<-:create" json:"crop_id"`
	BuyerID            uuid.UUID                             `gorm:"size:36;index;not null;<-:create" json:"buyer_id"`
	Amount             decimal.Decimal                       `gorm:"type:numeric(12,2);not null;<-:create" json:"amount"`
	Message            string                                `gorm:"type:text;<-:create" json:"message,omitempty"`
	Status             BidStatus                             `gorm:"size:20;index;not null;default:pending" json:"status"`
	CounterAmount      *decimal.Decimal                      `gorm:"type:numeric(12,2)" json:"counter_amount,omitempty"`
	NegotiationHistory datatypes.JSONSlice[NegotiationEvent] `json:"negotiation_history"`
	IsHighest          bool                                  `gorm:"not null;default:false" json:"is_highest"`
	CreatedAt          time.Time                             `json:"created_at"`
	UpdatedAt          time.Time                             `json:"updated_at"`
}

// BeforeCreate 在寫入前產生時間排序的 UUID
func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	if b.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

// AppendNegotiation 附加一筆議價事件，保留既有紀錄的順序
func (b *Bid) AppendNegotiation(event NegotiationEvent) {
	history := make(datatypes.JSONSlice[NegotiationEvent], 0, len(b.NegotiationHistory)+1)
	history = append(history, b.NegotiationHistory...)
	b.NegotiationHistory = append(history, event)
}
