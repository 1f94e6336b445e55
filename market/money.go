package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// maxAmount 是 numeric(12,2) 欄位能存放的最大值
var maxAmount = decimal.RequireFromString("9999999999.99")

// checkAmount 確認金額或數量可以原樣存入帳本：最多兩位小數，且不超過欄位上限
func checkAmount(op, field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(2)) {
		return newError(KindInvalidInput, op, fmt.Sprintf("%s must have at most 2 decimal places", field))
	}
	if amount.Abs().GreaterThan(maxAmount) {
		return newError(KindInvalidInput, op, fmt.Sprintf("%s must not exceed %s", field, maxAmount.StringFixed(2)))
	}
	return nil
}
