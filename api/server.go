package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"mandi/adapters/ledger"
	"mandi/adapters/notify"
	"mandi/adapters/pricing"
	redisAdapter "mandi/adapters/redis"
	internalS3 "mandi/adapters/s3"
	"mandi/adapters/sse"
	"mandi/market"
)

// Dependencies 是伺服器使用的外部連線，Redis 與 Bucket 可以不設定
type Dependencies struct {
	Store  *ledger.Store
	Redis  redis.UniversalClient
	Bucket *internalS3.Bucket
	Logger *slog.Logger
}

// Connect 依照設定建立資料庫、redis 與 S3 的連線
func Connect(config ServerConfig) (Dependencies, error) {
	const op = "Connect"
	logger := slog.Default()

	// 初始化資料庫連線
	db, err := ledger.Open(config.DB)
	if err != nil {
		return Dependencies{}, fmt.Errorf("[%s] Fail to open ledger, err=%w", op, err)
	}
	deps := Dependencies{
		Store:  ledger.NewStore(db, ledger.WithLogger(logger), ledger.WithTxTimeout(config.DB.TxTimeout)),
		Logger: logger,
	}

	// 初始化Redis連線
	if config.Redis.Enabled() {
		deps.Redis = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
	}

	// 初始化S3客戶端
	if config.S3.Enabled() {
		s3Cfg, err := awsCfg.LoadDefaultConfig(
			context.Background(),
			awsCfg.WithBaseEndpoint(config.S3.Endpoint),
			awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.S3.AccessKeyID, config.S3.SecretAccessKey, "")),
			awsCfg.WithRegion(lo.Ternary(config.S3.Region == "", "auto", config.S3.Region)),
		)
		if err != nil {
			return Dependencies{}, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
		}
		deps.Bucket, err = internalS3.NewBucket(awsS3.NewFromConfig(s3Cfg), config.S3.Bucket, config.S3.PublicBaseURL, config.S3.KeyPrefix)
		if err != nil {
			return Dependencies{}, fmt.Errorf("[%s] Fail to create bucket, err=%w", op, err)
		}
	}
	return deps, nil
}

// Close 關閉 redis 與資料庫連線
func (d Dependencies) Close() {
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.Store != nil {
		if sqlDB, err := d.Store.DB().DB(); err == nil {
			sqlDB.Close()
		}
	}
}

// Server 是市集的 HTTP 服務
type Server struct {
	config        ServerConfig
	logger        *slog.Logger
	store         *ledger.Store
	lifecycle     *market.Lifecycle
	engine        *market.BidEngine
	resolver      *market.Resolver
	catalog       *market.Catalog
	advisor       *pricing.Advisor
	photos        *internalS3.Photos
	sseManager    sse.IConnectionManager[market.BidEvent]
	livePrices    livePriceReader
	notifications redisAdapter.IProducer[market.Notification]
}

func NewServer(config ServerConfig, deps Dependencies) (*Server, error) {
	const op = "NewServer"
	registerValidation()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		logger: logger.With(slog.String("caller", "Server")),
		store:  deps.Store,
	}

	htmlChecker := bluemonday.UGCPolicy()
	var (
		cache    market.Cache
		feed     market.EventFeed
		notifier market.Notifier
		opts     = []market.Option{
			market.WithLogger(logger),
			market.WithSanitizer(htmlChecker.Sanitize),
		}
	)

	if deps.Redis != nil {
		prefix := config.Redis.KeyPrefix
		cache = redisAdapter.NewCache(deps.Redis, redisAdapter.WithCachePrefix(prefix+"cache:"))

		lockerOpts := []redisAdapter.CropLockerOption{
			redisAdapter.WithCropLockerLogger(logger),
			redisAdapter.WithCropLockerPrefix(prefix + "crop:"),
		}
		if config.Market.LockExpiry > 0 {
			lockerOpts = append(lockerOpts, redisAdapter.WithCropLockerExpiry(config.Market.LockExpiry))
		}
		if config.Market.LockMaxWait > 0 {
			lockerOpts = append(lockerOpts, redisAdapter.WithCropLockerMaxWait(config.Market.LockMaxWait))
		}
		opts = append(opts, market.WithLocker(redisAdapter.NewCropLocker(deps.Redis, lockerOpts...)))

		// 出價事件寫入 redis stream，所有實例再各自讀回來推給 SSE 訂閱者
		bidFeed, err := redisAdapter.NewBidFeed(deps.Redis,
			redisAdapter.WithBidFeedLogger(logger),
			redisAdapter.WithBidFeedStream(lo.Ternary(config.Redis.StreamKeys.Bids == "", redisAdapter.DefaultBidStream, config.Redis.StreamKeys.Bids)),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create bid feed, err=%w", op, err)
		}
		feed = bidFeed
		s.livePrices = bidFeed
		bidConsumer, err := redisAdapter.NewConsumer[market.BidEvent](deps.Redis, bidFeed.Stream(),
			redisAdapter.WithConsumerLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create bid consumer, err=%w", op, err)
		}
		s.sseManager = sse.NewConnectionManager(
			sse.WithManagerLogger[market.BidEvent](logger),
			sse.WithManagerSource[market.BidEvent](bidConsumer, routeBidEvent),
		)

		producer, err := redisAdapter.NewProducer[market.Notification](deps.Redis,
			lo.Ternary(config.Redis.StreamKeys.Notifications == "", notify.DefaultStream, config.Redis.StreamKeys.Notifications),
			redisAdapter.WithProducerLogger(logger),
			redisAdapter.WithProducerMaxLen(100000),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create notification producer, err=%w", op, err)
		}
		s.notifications = producer
		notifier = notify.NewGateway(producer, logger)
	} else {
		s.sseManager = sse.NewConnectionManager(sse.WithManagerLogger[market.BidEvent](logger))
		feed = &localFeed{manager: s.sseManager}
		notifier = &logNotifier{logger: logger.With(slog.String("caller", "LogNotifier"))}
		s.logger.Warn("redis is not configured, live events and locks are local to this instance")
	}

	advisorOpts := []pricing.Option{pricing.WithLogger(logger)}
	if cache != nil {
		advisorOpts = append(advisorOpts, pricing.WithCache(cache))
		opts = append(opts, market.WithCache(cache))
	}
	s.advisor = pricing.NewAdvisor(deps.Store, advisorOpts...)
	opts = append(opts,
		market.WithEventFeed(feed),
		market.WithNotifier(notifier),
		market.WithPricingAdvisor(s.advisor),
		market.WithInsights(s.advisor),
	)

	s.lifecycle = market.NewLifecycle(deps.Store, opts...)
	s.engine = market.NewBidEngine(deps.Store, s.lifecycle, opts...)
	s.resolver = market.NewResolver(deps.Store, opts...)
	s.catalog = market.NewCatalog(deps.Store, s.lifecycle, opts...)

	if deps.Bucket != nil {
		s.photos = internalS3.NewPhotos(deps.Bucket, deps.Store,
			internalS3.WithPhotosLogger(logger),
			internalS3.WithPhotosRateLimit(config.S3.RateLimitPerHour),
		)
	}
	return s, nil
}

func routeBidEvent(event market.BidEvent) string {
	return event.CropID.String()
}

func (s *Server) Start() {
	// 啟動通知producer
	if s.notifications != nil {
		s.notifications.Start()
	}
	// 啟動sse connection manager，有設定來源時會一併啟動consumer
	s.sseManager.Start()
}

func (s *Server) Close() {
	// 關閉sse connection manager
	s.sseManager.Done()
	// 關閉通知producer，尚未寫入的通知會被丟棄
	if s.notifications != nil {
		s.notifications.Close()
	}
}

// localFeed 在沒有 redis 時直接把事件推給本實例的 SSE 訂閱者
type localFeed struct {
	manager sse.IConnectionManager[market.BidEvent]
}

func (f *localFeed) Publish(_ context.Context, event market.BidEvent) error {
	return f.manager.Publish(routeBidEvent(event), event)
}

// logNotifier 在沒有 redis 時只把通知寫進日誌
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) Notify(notification market.Notification) error {
	n.logger.Info("notification",
		slog.String("userId", notification.UserID.String()),
		slog.String("kind", notification.Kind),
		slog.String("message", notification.Message))
	return nil
}

const defaultSSEHeartbeat = 30 * time.Second
