package notify

import (
	"strings"
	"unicode"
)

// FormatPhone 把電話號碼正規化為 E.164 格式。
// 10 位數字視為印度手機號碼並加上 +91，已帶 91 的 12 位數字補上 +，其他格式只保留數字。
func FormatPhone(phone string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, phone)
	cleaned = strings.TrimPrefix(cleaned, "0")

	switch {
	case len(cleaned) == 10:
		return "+91" + cleaned
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, "91"):
		return "+" + cleaned
	default:
		return cleaned
	}
}

// IsIndian 判斷正規化後的號碼是否為印度號碼
func IsIndian(phone string) bool {
	return strings.HasPrefix(phone, "+91")
}
