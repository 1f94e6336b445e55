package market

import (
	"errors"
	"fmt"
)

// Kind 是核心操作失敗的分類，呼叫端(例如 HTTP 層)依此轉換成對應的回應
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindInvalidState     Kind = "invalid_state"
	KindInvalidOperation Kind = "invalid_operation"
	KindForbidden        Kind = "forbidden"
	KindTransient        Kind = "transient"
)

// 可以搭配 errors.Is 使用的哨兵錯誤，只比較 Kind
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrInvalidOperation = &Error{Kind: KindInvalidOperation}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrTransient        = &Error{Kind: KindTransient}
)

// Error 是核心操作回傳的型別化錯誤
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func newError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func wrapError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("[%s] %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s, err=%s", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 讓 errors.Is(err, ErrNotFound) 這類比較只看錯誤分類
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// KindOf 取出錯誤鏈中第一個 *Error 的分類，不是型別化錯誤時回傳空字串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf 取出適合回給使用者的錯誤訊息
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}

// Transient 將儲存層的暫時性錯誤(逾時、鎖衝突)包裝成 KindTransient
func Transient(op string, err error) error {
	return wrapError(KindTransient, op, "storage busy, retry later", err)
}

// NotFound 建立 KindNotFound 錯誤，供儲存層回報查無資料
func NotFound(op, message string) error {
	return newError(KindNotFound, op, message)
}

// storageError 把儲存層回傳的錯誤轉換成核心的錯誤，已經是型別化錯誤的保持原樣
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("[%s] storage failure, err=%w", op, err)
}

// InvalidState 建立 KindInvalidState 錯誤，供儲存層回報違反唯一性的寫入
func InvalidState(op, message string) error {
	return newError(KindInvalidState, op, message)
}

// InvalidInput 建立 KindInvalidInput 錯誤，供外層轉接器回報無效的請求參數
func InvalidInput(op, message string) error {
	return newError(KindInvalidInput, op, message)
}
