package models

// All 回傳所有需要遷移的模型
func All() []any {
	return []any{
		&User{},
		&Crop{},
		&Bid{},
		&Transaction{},
		&PriceHistory{},
		&Image{},
	}
}
