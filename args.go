package main

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mandi/adapters/ledger"
	"mandi/adapters/notify"
	"mandi/api"
)

func registerFlags(flags *pflag.FlagSet) {
	// server config
	flags.String("server-url", "0.0.0.0:8080", "address the HTTP server listens on")
	flags.String("server-id", "", "instance name, defaults to the hostname")
	flags.String("log-level", "info", "debug, info, warn or error")

	// auth config
	flags.String("auth-public-key", "", "PEM encoded Ed25519 public key used to verify access tokens")

	// s3 config
	flags.String("s3-endpoint", "", "")
	flags.String("s3-region", "", "")
	flags.String("s3-bucket", "", "")
	flags.String("s3-public-base-url", "", "")
	flags.String("s3-key-prefix", "crops", "")
	flags.String("s3-access-key-id", "", "")
	flags.String("s3-secret-access-key", "", "")
	flags.Int64("s3-rate-limit-per-hour", 30, "photo uploads allowed per user per hour, 0 disables the limit")

	// db config
	flags.String("db-driver", ledger.DriverPostgres, "postgres, mysql or sqlite")
	flags.String("db-user", "", "")
	flags.String("db-password", "", "")
	flags.String("db-host", "", "")
	flags.Int("db-port", 5432, "")
	flags.String("db-database", "", "database name, or file path for sqlite")
	flags.String("db-schema", "", "")
	flags.Int("db-max-open-conns", 0, "")
	flags.Duration("ledger-tx-timeout", 5*time.Second, "timeout of a single ledger transaction")

	// redis config
	flags.String("redis-addr", "", "leave empty to run without redis")
	flags.String("redis-password", "", "")
	flags.Int("redis-db", 0, "")
	flags.String("redis-key-prefix", "mandi:", "")
	flags.String("redis-consumer-group", "notifiers", "")

	// redis stream keys
	flags.String("redis-stream-key-for-bids", "mandi:bids", "")
	flags.String("redis-stream-key-for-notifications", notify.DefaultStream, "")

	// market config
	flags.Duration("crop-lock-expiry", 8*time.Second, "")
	flags.Duration("crop-lock-max-wait", 3*time.Second, "")
	flags.Duration("sse-heartbeat", 30*time.Second, "")

	// sms config
	flags.String("sms-gateway-url", "", "leave empty to log messages instead of sending them")
	flags.String("sms-gateway-token", "", "")
	flags.String("sms-sender-id", "FARMKT", "")
}

// bindFlags 將 pflag 綁定到 viper，環境變數以 MANDI_ 為前綴
func bindFlags(flags *pflag.FlagSet) error {
	if err := viper.BindPFlags(flags); err != nil {
		return err
	}
	viper.AutomaticEnv()
	viper.SetEnvPrefix("MANDI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return nil
}

type Args struct {
	ServerURL    string
	LogLevel     slog.Level
	ServerConfig api.ServerConfig
	SMS          notify.GatewayConfig
}

func ParseArgs() (Args, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return Args{}, err
	}

	id := viper.GetString("server-id")
	if id == "" {
		id, _ = os.Hostname()
	}

	args := Args{
		ServerURL: viper.GetString("server-url"),
		LogLevel:  level,
		ServerConfig: api.ServerConfig{
			ID: id,
			S3: api.S3Config{
				Endpoint:         viper.GetString("s3-endpoint"),
				Region:           viper.GetString("s3-region"),
				Bucket:           viper.GetString("s3-bucket"),
				PublicBaseURL:    viper.GetString("s3-public-base-url"),
				KeyPrefix:        viper.GetString("s3-key-prefix"),
				AccessKeyID:      viper.GetString("s3-access-key-id"),
				SecretAccessKey:  viper.GetString("s3-secret-access-key"),
				RateLimitPerHour: viper.GetInt64("s3-rate-limit-per-hour"),
			},
			DB: ledger.Config{
				Driver:       viper.GetString("db-driver"),
				User:         viper.GetString("db-user"),
				Password:     viper.GetString("db-password"),
				Host:         viper.GetString("db-host"),
				Port:         viper.GetInt("db-port"),
				Database:     viper.GetString("db-database"),
				Schema:       viper.GetString("db-schema"),
				MaxOpenConns: viper.GetInt("db-max-open-conns"),
				TxTimeout:    viper.GetDuration("ledger-tx-timeout"),
			},
			Redis: api.RedisConfig{
				Addr:          viper.GetString("redis-addr"),
				Password:      viper.GetString("redis-password"),
				DB:            viper.GetInt("redis-db"),
				KeyPrefix:     viper.GetString("redis-key-prefix"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				StreamKeys: api.RedisStreamKeys{
					Bids:          viper.GetString("redis-stream-key-for-bids"),
					Notifications: viper.GetString("redis-stream-key-for-notifications"),
				},
			},
			Market: api.MarketConfig{
				LockExpiry:   viper.GetDuration("crop-lock-expiry"),
				LockMaxWait:  viper.GetDuration("crop-lock-max-wait"),
				SSEHeartbeat: viper.GetDuration("sse-heartbeat"),
			},
		},
		SMS: notify.GatewayConfig{
			URL:       viper.GetString("sms-gateway-url"),
			AuthToken: viper.GetString("sms-gateway-token"),
			SenderID:  viper.GetString("sms-sender-id"),
		},
	}

	if pem := viper.GetString("auth-public-key"); pem != "" {
		publicKey, err := api.ParsePublicKey(pem)
		if err != nil {
			return Args{}, err
		}
		args.ServerConfig.Auth.PublicKey = publicKey
	}
	return args, nil
}

func (args Args) Validate() error {
	var errs []error
	if args.ServerURL == "" {
		errs = append(errs, errors.New("server-url is required"))
	}
	if args.ServerConfig.DB.Database == "" {
		errs = append(errs, errors.New("db-database is required"))
	}
	if args.ServerConfig.DB.Driver != ledger.DriverSQLite && args.ServerConfig.DB.Host == "" {
		errs = append(errs, errors.New("db-host is required"))
	}
	return errors.Join(errs...)
}
