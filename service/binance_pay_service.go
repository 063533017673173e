package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CheckoutInfo is the processor's checkout handle for a created order.
type CheckoutInfo struct {
	PrepayID    string `json:"prepayId"`
	CheckoutURL string `json:"checkoutUrl"`
	QRContent   string `json:"qrContent"`
}

// BinancePayService talks to the Binance Pay merchant API and verifies
// inbound webhook signatures. Both directions sign the same envelope:
// HMAC-SHA512 over "timestamp\nnonce\nbody\n", hex-encoded uppercase.
type BinancePayService struct {
	apiURL        string
	apiKey        string
	secretKey     string
	webhookSecret string
	skipVerify    bool

	httpClient *http.Client
	logger     *zap.Logger
}

func NewBinancePayService(apiURL, apiKey, secretKey, webhookSecret string, skipVerify bool, logger *zap.Logger) *BinancePayService {
	return &BinancePayService{
		apiURL:        apiURL,
		apiKey:        apiKey,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		skipVerify:    skipVerify,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		logger:        logger,
	}
}

type binancePayResponse struct {
	Status       string        `json:"status"`
	Code         string        `json:"code"`
	Data         *CheckoutInfo `json:"data"`
	ErrorMessage string        `json:"errorMessage"`
}

// CreateOrder registers a checkout with the processor and returns the
// payment handles to show the buyer.
func (s *BinancePayService) CreateOrder(ctx context.Context, merchantTradeNo string, amount decimal.Decimal, currency, description string) (*CheckoutInfo, error) {
	if s.apiKey == "" || s.secretKey == "" {
		return nil, fmt.Errorf("%w: binance pay credentials missing", ErrMissingCredential)
	}

	payload := map[string]interface{}{
		"env":             map[string]string{"terminalType": "WEB"},
		"merchantTradeNo": merchantTradeNo,
		"orderAmount":     json.RawMessage(amount.String()),
		"currency":        strings.ToUpper(currency),
		"description":     description,
		"goodsDetails": []map[string]string{{
			"goodsType":        "01",
			"goodsCategory":    "Z000",
			"referenceGoodsId": "TOKEN_PURCHASE",
			"goodsName":        truncate(description, 256),
			"goodsDetail":      truncate(description, 512),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	signature := s.sign(s.secretKey, timestamp, nonce, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/binancepay/openapi/v3/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("BinancePay-Timestamp", timestamp)
	req.Header.Set("BinancePay-Nonce", nonce)
	req.Header.Set("BinancePay-Certificate-SN", s.apiKey)
	req.Header.Set("BinancePay-Signature", signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	defer resp.Body.Close()

	var parsed binancePayResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrExternalService, err)
	}
	if parsed.Status != "SUCCESS" || parsed.Data == nil {
		msg := parsed.ErrorMessage
		if msg == "" {
			msg = "unknown processor error"
		}
		return nil, fmt.Errorf("%w: %s", ErrExternalService, msg)
	}

	s.logger.Info("binance pay checkout created",
		zap.String("merchantTradeNo", merchantTradeNo),
		zap.String("prepayId", parsed.Data.PrepayID))
	return parsed.Data, nil
}

// VerifyWebhookSignature recomputes the webhook HMAC over the raw body
// and compares it against the provided signature. Skipping verification
// (explicit flag or missing secret) is logged as a security event; the
// flag defaults to off in production configuration.
func (s *BinancePayService) VerifyWebhookSignature(timestamp, nonce string, rawBody []byte, signature string) error {
	if s.skipVerify {
		s.logger.Warn("webhook signature verification SKIPPED by configuration flag")
		return nil
	}
	if s.webhookSecret == "" {
		s.logger.Warn("webhook secret not configured, skipping signature verification")
		return nil
	}

	computed := s.sign(s.webhookSecret, timestamp, nonce, rawBody)
	if !hmac.Equal([]byte(computed), []byte(strings.ToUpper(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *BinancePayService) sign(secret, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write([]byte(nonce))
	mac.Write([]byte("\n"))
	mac.Write(body)
	mac.Write([]byte("\n"))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
