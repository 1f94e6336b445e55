package ledger

import (
	"context"
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"mandi/market"
)

// postgres 的暫時性錯誤代碼
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement_timeout)
}

// mysql 的暫時性錯誤代碼
var transientMySQLCodes = map[uint16]bool{
	1205: true, // ER_LOCK_WAIT_TIMEOUT
	1213: true, // ER_LOCK_DEADLOCK
}

// isTransient 判斷錯誤是否為重試後可能成功的錯誤(逾時、鎖衝突、死結)
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code]
	}
	var myErr *mysqlDriver.MySQLError
	if errors.As(err, &myErr) {
		return transientMySQLCodes[myErr.Number]
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// classify 把資料庫錯誤轉換成核心可以辨識的錯誤
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if market.KindOf(err) != "" {
		return err
	}
	if isTransient(err) {
		return market.Transient(op, err)
	}
	return fmt.Errorf("[%s] Fail to access database, err=%w", op, err)
}

// notFoundOr 查無資料時回傳 message 的 NotFound 錯誤，其餘錯誤交給 classify
func notFoundOr(op, message string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return market.NotFound(op, message)
	}
	return classify(op, err)
}

func isDuplicated(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
