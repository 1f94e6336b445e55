// Package ledgertest 提供測試使用的記憶體帳本
package ledgertest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mandi/adapters/ledger"
)

// New 建立一個已經完成遷移的 sqlite 記憶體帳本，測試結束時自動關閉
// 每個帳本使用獨立的資料庫，只開一條連線讓交易依序執行
func New(t testing.TB, opts ...ledger.Option) *ledger.Store {
	t.Helper()
	db, err := ledger.Open(ledger.Config{
		Driver:       ledger.DriverSQLite,
		Database:     fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, ledger.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return ledger.NewStore(db, opts...)
}
