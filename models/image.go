package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Image 代表上傳的作物照片
// 包含上傳者的使用者 ID 以及公開的圖片 URL
type Image struct {
	ID         uuid.UUID `gorm:"primaryKey;size:36;<-:create" json:"id"`
	UploaderID uuid.UUID `gorm:"size:36;index;not null;<-:create" json:"uploader_id"`
	Url        string    `gorm:"type:text;not null;<-:create" json:"url"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (i *Image) BeforeCreate(tx *gorm.DB) error {
	if i.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	i.ID = id
	return nil
}
