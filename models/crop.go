package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CropStatus 代表作物刊登的生命週期狀態
type CropStatus string

const (
	CropStatusDraft    CropStatus = "draft"
	CropStatusListed   CropStatus = "listed"
	CropStatusReserved CropStatus = "reserved"
	CropStatusSold     CropStatus = "sold"
	CropStatusExpired  CropStatus = "expired"
)

// Valid 檢查狀態是否為已知的狀態
func (s CropStatus) Valid() bool {
	switch s {
	case CropStatusDraft, CropStatusListed, CropStatusReserved, CropStatusSold, CropStatusExpired:
		return true
	}
	return false
}

// QualityGrade 代表作物的品質等級，等級順序為 A > B > C > D
type QualityGrade string

const (
	GradeA QualityGrade = "A"
	GradeB QualityGrade = "B"
	GradeC QualityGrade = "C"
	GradeD QualityGrade = "D"
)

// Rank 回傳等級的排序值，數值越大品質越好；未知等級回傳0
func (g QualityGrade) Rank() int {
	switch g {
	case GradeA:
		return 4
	case GradeB:
		return 3
	case GradeC:
		return 2
	case GradeD:
		return 1
	}
	return 0
}

func (g QualityGrade) Valid() bool {
	return g.Rank() > 0
}

// Better 判斷g的品質是否優於other
func (g QualityGrade) Better(other QualityGrade) bool {
	return g.Rank() > other.Rank()
}

// Crop 代表農民刊登的一批作物
// 包含作物資訊、底價、目前價格(追蹤最高出價)、刊登狀態以及出價統計
type Crop struct {
	ID           uuid.UUID                   `gorm:"primaryKey;size:36;<-:create" json:"id"`
	FarmerID     uuid.UUID                   `gorm:"size:36;index;not null;<-:create" json:"farmer_id"`
	Name         string                      `gorm:"size:100;index;not null" json:"name"`
	Variety      string                      `gorm:"size:100" json:"variety,omitempty"`
	Quantity     decimal.Decimal             `gorm:"type:numeric(12,2);not null" json:"quantity"`
	Unit         string                      `gorm:"size:20;not null;default:kg" json:"unit"`
	QualityGrade QualityGrade                `gorm:"size:1;not null;default:B" json:"quality_grade"`
	MinPrice     decimal.Decimal             `gorm:"type:numeric(12,2);not null" json:"min_price"`
	CurrentPrice decimal.Decimal             `gorm:"type:numeric(12,2);not null" json:"current_price"`
	Description  string                      `gorm:"type:text" json:"description,omitempty"`
	District     string                      `gorm:"size:100;index" json:"district,omitempty"`
	State        string                      `gorm:"size:100" json:"state,omitempty"`
	Images       datatypes.JSONSlice[string] `json:"images"`
	HarvestDate  *time.Time                  `json:"harvest_date,omitempty"`
	ExpiryDate   *time.Time                  `json:"expiry_date,omitempty"`
	Status       CropStatus                  `gorm:"size:20;index;not null;default:draft" json:"status"`
	BidCount     int                         `gorm:"not null;default:0" json:"bid_count"`
	BidEndDate   *time.Time                  `json:"bid_end_date,omitempty"`
	ViewCount    int                         `gorm:"not null;default:0" json:"view_count"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
	DeletedAt    gorm.DeletedAt              `gorm:"index" json:"-"`
}

// BeforeCreate 在寫入前產生時間排序的 UUID
func (c *Crop) BeforeCreate(tx *gorm.DB) error {
	if c.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// BiddingClosedAt 判斷出價截止時間是否已經過了
func (c *Crop) BiddingClosedAt(now time.Time) bool {
	return c.BidEndDate != nil && !now.Before(*c.BidEndDate)
}
