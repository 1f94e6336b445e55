package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockWaitTimeout 表示在 maxWait 內沒有搶到作物鎖
var ErrLockWaitTimeout = errors.New("timed out waiting for crop lock")

type cropLockerOptions struct {
	logger     *slog.Logger
	prefix     string
	expiry     time.Duration
	maxWait    time.Duration
	retryDelay time.Duration
}

type CropLockerOption func(*cropLockerOptions)

// WithCropLockerLogger 設置日誌記錄器
func WithCropLockerLogger(logger *slog.Logger) CropLockerOption {
	return func(o *cropLockerOptions) {
		o.logger = logger
	}
}

// WithCropLockerPrefix 設置鎖的 key 前綴
func WithCropLockerPrefix(prefix string) CropLockerOption {
	return func(o *cropLockerOptions) {
		o.prefix = prefix
	}
}

// WithCropLockerExpiry 設置鎖過期時間，持有期間每隔 expiry/3 續期一次
func WithCropLockerExpiry(d time.Duration) CropLockerOption {
	return func(o *cropLockerOptions) {
		o.expiry = d
	}
}

// WithCropLockerMaxWait 設置等待鎖的最長時間
func WithCropLockerMaxWait(d time.Duration) CropLockerOption {
	return func(o *cropLockerOptions) {
		o.maxWait = d
	}
}

// WithCropLockerRetryDelay 設置兩次搶鎖之間的間隔
func WithCropLockerRetryDelay(d time.Duration) CropLockerOption {
	return func(o *cropLockerOptions) {
		o.retryDelay = d
	}
}

// CropLocker 以 redsync 鎖序列化同一個作物上的出價與回應，實作 market.CropLocker
type CropLocker struct {
	rs      *redsync.Redsync
	logger  *slog.Logger
	options cropLockerOptions
}

func NewCropLocker(client redis.UniversalClient, opts ...CropLockerOption) *CropLocker {
	options := cropLockerOptions{
		logger:     slog.Default(),
		prefix:     "crop:",
		expiry:     8 * time.Second,
		maxWait:    3 * time.Second,
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &CropLocker{
		rs:      redsync.New(goredis.NewPool(client)),
		logger:  options.logger.With(slog.String("caller", "CropLocker")),
		options: options,
	}
}

func (l *CropLocker) key(cropID uuid.UUID) string {
	return l.options.prefix + cropID.String() + ":lock"
}

// Lock 取得作物鎖。回傳的 context 在 unlock 之後，或續期失敗（鎖已經不屬於自己）時取消，
// 呼叫端應該用它來執行受鎖保護的交易
func (l *CropLocker) Lock(ctx context.Context, cropID uuid.UUID) (context.Context, func(), error) {
	const op = "CropLocker.Lock"

	mutex := l.rs.NewMutex(l.key(cropID),
		redsync.WithExpiry(l.options.expiry),
		redsync.WithTries(1))
	if err := l.acquire(ctx, mutex); err != nil {
		return nil, nil, fmt.Errorf("[%s] Fail to lock crop %s, err=%w", op, cropID, err)
	}

	lockCtx, cancel := context.WithCancel(ctx)
	var renewing sync.WaitGroup
	renewing.Add(1)
	go func() {
		defer renewing.Done()
		l.renew(lockCtx, cancel, mutex, cropID)
	}()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			cancel()
			renewing.Wait()
			if ok, err := mutex.Unlock(); err != nil || !ok {
				// 鎖已經過期時 redsync 回傳 false，資料一致性仍由資料庫交易保證
				l.logger.Warn("failed to release crop lock",
					slog.String("cropId", cropID.String()),
					slog.Any("error", err))
			}
		})
	}
	return lockCtx, unlock, nil
}

// acquire 每隔 retryDelay 搶一次鎖，直到成功、maxWait 用完或 ctx 結束
func (l *CropLocker) acquire(ctx context.Context, mutex *redsync.Mutex) error {
	var deadline <-chan time.Time
	if l.options.maxWait > 0 {
		timer := time.NewTimer(l.options.maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		err := mutex.LockContext(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var taken *redsync.ErrTaken
		if !errors.Is(err, redsync.ErrFailed) && !errors.As(err, &taken) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrLockWaitTimeout
		case <-time.After(l.options.retryDelay):
		}
	}
}

func (l *CropLocker) renew(ctx context.Context, cancel context.CancelFunc, mutex *redsync.Mutex, cropID uuid.UUID) {
	ticker := time.NewTicker(l.options.expiry / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := mutex.ExtendContext(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				l.logger.Error("crop lock lost, cancelling holder",
					slog.String("cropId", cropID.String()),
					slog.Any("error", err))
				cancel()
				return
			}
		}
	}
}
