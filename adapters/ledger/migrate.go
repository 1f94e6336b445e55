package ledger

import (
	"fmt"

	"gorm.io/gorm"

	"mandi/models"
)

// Migrate 建立或更新所有資料表
func Migrate(db *gorm.DB) error {
	const op = "Migrate"
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("[%s] Fail to migrate schema, err=%w", op, err)
	}
	return nil
}
