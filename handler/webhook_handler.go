package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/token_settlement/service"
	"go.uber.org/zap"
)

// WebhookVerifier validates processor webhook authenticity.
type WebhookVerifier interface {
	VerifyWebhookSignature(timestamp, nonce string, rawBody []byte, signature string) error
}

type WebhookHandler struct {
	verifier WebhookVerifier
	orders   *service.OrderService
	logger   *zap.Logger
}

func NewWebhookHandler(verifier WebhookVerifier, orders *service.OrderService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, orders: orders, logger: logger}
}

type webhookEnvelope struct {
	BizType   string      `json:"bizType"`
	BizID     json.Number `json:"bizId"`
	BizStatus string      `json:"bizStatus"`
	// Data is a JSON-encoded string carrying the business payload.
	Data string `json:"data"`
}

type webhookPaymentData struct {
	MerchantTradeNo string `json:"merchantTradeNo"`
}

// POST /api/binance/webhook
//
// Signature failure is the only rejection; every other path returns the
// processor's expected success acknowledgment so it stops retrying, even
// when internal processing failed.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	timestamp := c.GetHeader("BinancePay-Timestamp")
	nonce := c.GetHeader("BinancePay-Nonce")
	signature := c.GetHeader("BinancePay-Signature")

	if err := h.verifier.VerifyWebhookSignature(timestamp, nonce, rawBody, signature); err != nil {
		h.logger.Warn("webhook rejected: invalid signature",
			zap.String("timestamp", timestamp), zap.String("nonce", nonce))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		h.logger.Error("webhook envelope unparsable", zap.Error(err))
		ackSuccess(c)
		return
	}

	if envelope.BizType == "PAY" && envelope.BizStatus == "PAY_SUCCESS" {
		var data webhookPaymentData
		if err := json.Unmarshal([]byte(envelope.Data), &data); err != nil {
			h.logger.Error("webhook payload unparsable", zap.Error(err))
			ackSuccess(c)
			return
		}
		if err := h.orders.ConfirmPayment(c.Request.Context(), data.MerchantTradeNo); err != nil {
			h.logger.Error("webhook settlement error",
				zap.String("merchantTradeNo", data.MerchantTradeNo), zap.Error(err))
		}
	}

	ackSuccess(c)
}

func ackSuccess(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"returnCode":    "SUCCESS",
		"returnMessage": "OK",
	})
}
