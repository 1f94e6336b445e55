package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mandi/market"
	"mandi/models"
)

const DefaultMaxPhotoSize = 5 << 20

// PhotoLedger 記錄上傳歷史，用於限制上傳頻率
type PhotoLedger interface {
	CountImagesSince(ctx context.Context, uploaderID uuid.UUID, since time.Time) (int64, error)
	CreateImage(ctx context.Context, image *models.Image) error
}

type photosOptions struct {
	logger           *slog.Logger
	maxSize          int64
	rateLimitPerHour int64
	clock            func() time.Time
}

type PhotosOption func(*photosOptions)

// WithPhotosLogger 設置日誌記錄器
func WithPhotosLogger(logger *slog.Logger) PhotosOption {
	return func(o *photosOptions) {
		o.logger = logger
	}
}

// WithPhotosMaxSize 設置單張照片的大小上限
func WithPhotosMaxSize(n int64) PhotosOption {
	return func(o *photosOptions) {
		o.maxSize = n
	}
}

// WithPhotosRateLimit 設置每個使用者每小時可以上傳的張數，0 表示不限制
func WithPhotosRateLimit(perHour int64) PhotosOption {
	return func(o *photosOptions) {
		o.rateLimitPerHour = perHour
	}
}

// WithPhotosClock 設置時間來源
func WithPhotosClock(clock func() time.Time) PhotosOption {
	return func(o *photosOptions) {
		o.clock = clock
	}
}

// Photos 處理作物照片的上傳：限制大小與頻率、只接受圖片、上傳後留下紀錄
type Photos struct {
	bucket  *Bucket
	ledger  PhotoLedger
	logger  *slog.Logger
	options photosOptions
}

var ErrRateLimited = errors.New("upload rate limit exceeded")

func NewPhotos(bucket *Bucket, ledger PhotoLedger, opts ...PhotosOption) *Photos {
	o := photosOptions{
		logger:  slog.Default(),
		maxSize: DefaultMaxPhotoSize,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Photos{
		bucket:  bucket,
		ledger:  ledger,
		logger:  o.logger.With(slog.String("caller", "Photos")),
		options: o,
	}
}

// Upload 讀取照片內容並上傳，回傳建立的圖片紀錄
// 超過頻率限制時回傳 ErrRateLimited，超過大小或不是圖片時回傳 KindInvalidInput 錯誤
func (p *Photos) Upload(ctx context.Context, uploaderID uuid.UUID, body io.Reader) (*models.Image, error) {
	const op = "Photos.Upload"

	if p.options.rateLimitPerHour > 0 {
		count, err := p.ledger.CountImagesSince(ctx, uploaderID, p.options.clock().Add(-time.Hour))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to count uploaded images, err=%w", op, err)
		}
		if count >= p.options.rateLimitPerHour {
			return nil, ErrRateLimited
		}
	}

	content, err := io.ReadAll(newCapReader(body, p.options.maxSize))
	if errors.Is(err, ErrPhotoTooLarge) {
		return nil, market.InvalidInput(op, fmt.Sprintf("image too large, %s", err))
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to read image, err=%w", op, err)
	}
	if len(content) == 0 {
		return nil, market.InvalidInput(op, "image is empty")
	}

	mimeType := http.DetectContentType(content)
	ext, ok := photoExtension(mimeType)
	if !ok {
		return nil, market.InvalidInput(op, fmt.Sprintf("invalid image type: %s", mimeType))
	}

	url, err := p.bucket.Put(ctx, uuid.NewString()+"."+ext, mimeType, content)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to upload image, err=%w", op, err)
	}

	image := &models.Image{UploaderID: uploaderID, Url: url}
	if err := p.ledger.CreateImage(ctx, image); err != nil {
		return nil, fmt.Errorf("[%s] Fail to record image, err=%w", op, err)
	}
	p.logger.Info("photo uploaded",
		slog.String("uploaderId", uploaderID.String()),
		slog.String("url", url),
		slog.String("size", humanSize(int64(len(content)))))
	return image, nil
}
