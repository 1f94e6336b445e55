package models

import (
	"time"

	"github.com/google/uuid"
)

// User 代表市集中的使用者(農民或買家)
// 使用者資料由外部的身分服務維護，這裡只讀取聯絡資訊
type User struct {
	ID        uuid.UUID `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Phone     string    `gorm:"size:20" json:"phone,omitempty"`
	Role      string    `gorm:"size:20" json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
