package s3

import (
	"errors"
	"fmt"
	"io"
)

// 作物照片接受的格式，值是上傳到 bucket 時使用的副檔名
var photoExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// photoExtension 依照偵測到的 MIME 類型回傳副檔名，不是允許的圖片格式時 ok 為 false
func photoExtension(mimeType string) (ext string, ok bool) {
	ext, ok = photoExtensions[mimeType]
	return ext, ok
}

// ErrPhotoTooLarge 供 errors.Is 判斷照片超過大小上限
var ErrPhotoTooLarge = errors.New("photo too large")

type photoTooLargeError struct {
	limit int64
}

func (e *photoTooLargeError) Error() string {
	return fmt.Sprintf("photo exceeds %s", humanSize(e.limit))
}

func (e *photoTooLargeError) Is(target error) bool {
	return target == ErrPhotoTooLarge
}

// capReader 最多讀 limit 個位元組，來源還有更多內容時回傳 photoTooLargeError
type capReader struct {
	src   io.Reader
	limit int64
	left  int64
}

func newCapReader(src io.Reader, limit int64) *capReader {
	return &capReader{src: src, limit: limit, left: limit}
}

func (r *capReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// 多要一個位元組，讀得到就代表超過上限
	if want := r.left + 1; int64(len(p)) > want {
		p = p[:want]
	}
	n, err := r.src.Read(p)
	if int64(n) > r.left {
		n = int(r.left)
		r.left = 0
		return n, &photoTooLargeError{limit: r.limit}
	}
	r.left -= int64(n)
	return n, err
}

var sizeUnits = []string{"KB", "MB", "GB"}

// humanSize 用於錯誤訊息與日誌，例如 "5.00 MB"
func humanSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d bytes", n)
	}
	size := float64(n)
	unit := -1
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", size, sizeUnits[unit])
}
