package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Sender 負責把一則簡訊送到指定號碼
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// LogSender 只把簡訊寫進日誌，用於開發環境或沒有設定簡訊閘道時
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With(slog.String("caller", "LogSender"))}
}

func (s *LogSender) Send(_ context.Context, phone, message string) error {
	s.logger.Info("sms (not delivered)", slog.String("to", phone), slog.String("message", message))
	return nil
}

// GatewayConfig 是印度簡訊閘道的設定
type GatewayConfig struct {
	URL       string
	AuthToken string
	SenderID  string
	Timeout   time.Duration
}

// GatewaySender 透過 HTTP 簡訊閘道發送印度號碼的簡訊
type GatewaySender struct {
	client *http.Client
	config GatewayConfig
}

// ErrUnsupportedNumber 表示閘道無法處理這個號碼
var ErrUnsupportedNumber = errors.New("phone number is not supported by the gateway")

func NewGatewaySender(config GatewayConfig) *GatewaySender {
	if config.SenderID == "" {
		config.SenderID = "FARMKT"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &GatewaySender{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

type gatewaySMS struct {
	Message string   `json:"message"`
	To      []string `json:"to"`
}

type gatewayRequest struct {
	Sender  string       `json:"sender"`
	Route   string       `json:"route"`
	Country string       `json:"country"`
	SMS     []gatewaySMS `json:"sms"`
}

func (s *GatewaySender) Send(ctx context.Context, phone, message string) error {
	const op = "GatewaySender.Send"

	if !IsIndian(phone) {
		return fmt.Errorf("[%s] %s, err=%w", op, phone, ErrUnsupportedNumber)
	}

	body, err := json.Marshal(gatewayRequest{
		Sender:  s.config.SenderID,
		Route:   "4", // transactional
		Country: "91",
		SMS: []gatewaySMS{{
			Message: message,
			To:      []string{strings.TrimPrefix(phone, "+91")},
		}},
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode request, err=%w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("[%s] Fail to build request, err=%w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.AuthToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("[%s] Fail to call sms gateway, err=%w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("[%s] sms gateway returned %d: %s", op, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
