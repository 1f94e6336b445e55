package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceHistory 代表市場的歷史成交價格，供價格建議使用
type PriceHistory struct {
	ID         uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	CropName   string          `gorm:"size:100;index;not null" json:"crop_name"`
	MarketName string          `gorm:"size:100" json:"market_name,omitempty"`
	Price      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Date       time.Time       `gorm:"index;not null" json:"date"`
	Quality    string          `gorm:"size:10" json:"quality,omitempty"`
	Region     string          `gorm:"size:50" json:"region,omitempty"`
}
