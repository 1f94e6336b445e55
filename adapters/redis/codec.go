package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/samber/lo"
	"github.com/vmihailenco/msgpack/v5"
)

// Payload 是可以寫進 stream 的資料，EntryKind 會跟著每一筆 entry 存下來，讀取時用來核對型別
type Payload interface {
	EntryKind() string
}

// entryVersion 是目前 entry 的編碼版本，改變欄位編碼方式時要遞增
const entryVersion = 1

// stream entry 的欄位
const (
	fieldVersion = "v"
	fieldKind    = "kind"
	fieldData    = "data"
)

var (
	ErrMalformedEntry     = errors.New("malformed stream entry")
	ErrUnsupportedVersion = errors.New("unsupported stream entry version")
	ErrKindMismatch       = errors.New("stream entry kind mismatch")
)

// Entry 是編碼後的一筆 stream entry
type Entry struct {
	Version string
	Kind    string
	Data    string
}

// Fields 依固定順序展開成 XADD 的欄位與值
func (e Entry) Fields() []string {
	return []string{fieldVersion, e.Version, fieldKind, e.Kind, fieldData, e.Data}
}

// EncodeEntry 把 payload 編成 stream entry：版本、種類與 msgpack+base64 的內容
func EncodeEntry[T Payload](payload T) (Entry, error) {
	const op = "EncodeEntry"
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("[%s] Fail to marshal %s, err=%w", op, payload.EntryKind(), err)
	}
	return Entry{
		Version: strconv.Itoa(entryVersion),
		Kind:    payload.EntryKind(),
		Data:    base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// DecodeEntry 還原 EncodeEntry 寫入的 entry，版本或種類不符時回傳錯誤而不嘗試解碼
func DecodeEntry[T Payload](values map[string]any) (T, error) {
	const op = "DecodeEntry"
	var payload T

	version, _ := values[fieldVersion].(string)
	kind, _ := values[fieldKind].(string)
	data, ok := values[fieldData].(string)
	if !ok || version == "" || kind == "" {
		return payload, fmt.Errorf("[%s] fields %v, err=%w", op, lo.Keys(values), ErrMalformedEntry)
	}
	if version != strconv.Itoa(entryVersion) {
		return payload, fmt.Errorf("[%s] version %q, err=%w", op, version, ErrUnsupportedVersion)
	}
	if want := payload.EntryKind(); kind != want {
		return payload, fmt.Errorf("[%s] got %q want %q, err=%w", op, kind, want, ErrKindMismatch)
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return payload, fmt.Errorf("[%s] Fail to decode base64, err=%w", op, errors.Join(ErrMalformedEntry, err))
	}
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("[%s] Fail to unmarshal %s, err=%w", op, kind, errors.Join(ErrMalformedEntry, err))
	}
	return payload, nil
}

