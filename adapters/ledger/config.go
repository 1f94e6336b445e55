package ledger

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Config 是資料庫連線設定
// Driver 為 sqlite 時 Database 是檔案路徑(或 file::memory: 這類 DSN)
type Config struct {
	Driver   string
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string

	MaxOpenConns int
	TxTimeout    time.Duration
}

func (c Config) dialector() (gorm.Dialector, error) {
	switch c.Driver {
	case DriverPostgres, "":
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
		if c.Schema != "" {
			dsn += "&search_path=" + c.Schema
		}
		return postgres.Open(dsn), nil
	case DriverMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC", c.User, c.Password, c.Host, c.Port, c.Database)
		return mysql.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(c.Database), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
}

// Open 依照設定建立 gorm 連線
func Open(config Config) (*gorm.DB, error) {
	const op = "Open"
	dialector, err := config.dialector()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create dialector, err=%w", op, err)
	}
	naming := schema.NamingStrategy{}
	// postgres 以 schema 作為資料表前綴，其他資料庫直接使用 Database
	if config.Schema != "" && (config.Driver == DriverPostgres || config.Driver == "") {
		naming.TablePrefix = config.Schema + "."
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NamingStrategy: naming,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to get sql.DB, err=%w", op, err)
		}
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	slog.Info("Database connected", slog.String("driver", db.Dialector.Name()))
	return db, nil
}
