package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/token_settlement/model"
	"github.com/token_settlement/repository"
	"github.com/token_settlement/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testWallet        = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
	testWebhookSecret = "webhook-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handler_%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

type stubOracle struct{}

func (stubOracle) GoldPrice(ctx context.Context) (service.GoldPrice, error) {
	oz := decimal.NewFromInt(2000)
	return service.GoldPrice{
		Ounce:     oz,
		Gram:      oz.Div(service.GramsPerTroyOunce),
		Source:    "stub",
		Timestamp: time.Now(),
	}, nil
}

func (stubOracle) BNBPriceUSDT(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(400), nil
}

type fakeTransferrer struct {
	calls  int32
	result service.TransferResult
}

func (f *fakeTransferrer) Transfer(ctx context.Context, to, amount, symbol string) service.TransferResult {
	atomic.AddInt32(&f.calls, 1)
	return f.result
}

type fakeCheckout struct {
	info *service.CheckoutInfo
	err  error
}

func (f *fakeCheckout) CreateOrder(ctx context.Context, merchantTradeNo string, amount decimal.Decimal, currency, description string) (*service.CheckoutInfo, error) {
	return f.info, f.err
}

type webhookFixture struct {
	router    *gin.Engine
	orders    *service.OrderService
	orderRepo *repository.OrderRepository
	transfer  *fakeTransferrer
}

func newWebhookFixture(t *testing.T, name string) *webhookFixture {
	t.Helper()
	db := newTestDB(t, name)
	orderRepo := repository.NewOrderRepository(db)
	txRepo := repository.NewTxRepository(db)
	quotes := service.NewQuoteService(stubOracle{}, zap.NewNop())
	transfer := &fakeTransferrer{result: service.TransferResult{Success: true, TxHash: "0xsettled"}}
	checkout := &fakeCheckout{info: &service.CheckoutInfo{PrepayID: "prepay-1"}}
	orders := service.NewOrderService(orderRepo, txRepo, quotes, checkout, transfer, zap.NewNop())

	verifier := service.NewBinancePayService("http://unused", "sn", "secret", testWebhookSecret, false, zap.NewNop())
	h := NewWebhookHandler(verifier, orders, zap.NewNop())

	r := gin.New()
	r.POST("/api/binance/webhook", h.HandleWebhook)
	return &webhookFixture{router: r, orders: orders, orderRepo: orderRepo, transfer: transfer}
}

func (f *webhookFixture) createOrder(t *testing.T) *model.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), service.CreateOrderRequest{
		TokenSymbol:       "USDK",
		TokenAmount:       "100",
		UserWalletAddress: testWallet,
	})
	require.NoError(t, err)
	return order
}

func signWebhook(secret, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	fmt.Fprintf(mac, "%s\n%s\n%s\n", timestamp, nonce, body)
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

func paymentWebhookBody(t *testing.T, bizStatus, merchantTradeNo string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]string{"merchantTradeNo": merchantTradeNo})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"bizType":   "PAY",
		"bizId":     6969696969,
		"bizStatus": bizStatus,
		"data":      string(data),
	})
	require.NoError(t, err)
	return body
}

func (f *webhookFixture) post(body []byte, timestamp, nonce, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/binance/webhook", bytes.NewReader(body))
	req.Header.Set("BinancePay-Timestamp", timestamp)
	req.Header.Set("BinancePay-Nonce", nonce)
	req.Header.Set("BinancePay-Signature", signature)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestWebhookPaySuccessSettlesOrder(t *testing.T) {
	f := newWebhookFixture(t, "settle")
	order := f.createOrder(t)

	body := paymentWebhookBody(t, "PAY_SUCCESS", order.MerchantTradeNo)
	w := f.post(body, "1700000000000", "nonce1", signWebhook(testWebhookSecret, "1700000000000", "nonce1", body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"returnCode":"SUCCESS"`)

	stored, err := f.orderRepo.FindByMerchantTradeNo(context.Background(), order.MerchantTradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusTokensSent, stored.Status)
}

func TestWebhookBadSignatureRejected(t *testing.T) {
	f := newWebhookFixture(t, "badsig")
	order := f.createOrder(t)

	body := paymentWebhookBody(t, "PAY_SUCCESS", order.MerchantTradeNo)
	w := f.post(body, "1700000000000", "nonce1", "DEADBEEF")

	// the only rejecting path
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.transfer.calls))

	stored, err := f.orderRepo.FindByMerchantTradeNo(context.Background(), order.MerchantTradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, stored.Status)
}

func TestWebhookTamperedBodyRejected(t *testing.T) {
	f := newWebhookFixture(t, "tampered")
	order := f.createOrder(t)

	body := paymentWebhookBody(t, "PAY_SUCCESS", order.MerchantTradeNo)
	signature := signWebhook(testWebhookSecret, "1700000000000", "nonce1", body)
	tampered := bytes.Replace(body, []byte("PAY_SUCCESS"), []byte("PAY_SUCCES2"), 1)

	w := f.post(tampered, "1700000000000", "nonce1", signature)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookNonSuccessStatusAckedWithoutSettlement(t *testing.T) {
	f := newWebhookFixture(t, "closed")
	order := f.createOrder(t)

	body := paymentWebhookBody(t, "PAY_CLOSED", order.MerchantTradeNo)
	w := f.post(body, "1700000000000", "nonce1", signWebhook(testWebhookSecret, "1700000000000", "nonce1", body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.transfer.calls))
}

func TestWebhookUnparsableEnvelopeStillAcked(t *testing.T) {
	f := newWebhookFixture(t, "garbage")

	body := []byte("not json at all")
	w := f.post(body, "1700000000000", "nonce1", signWebhook(testWebhookSecret, "1700000000000", "nonce1", body))

	// the processor must not retry forever over our parse problems
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"returnCode":"SUCCESS"`)
}

func TestWebhookUnknownOrderAcked(t *testing.T) {
	f := newWebhookFixture(t, "unknown")

	body := paymentWebhookBody(t, "PAY_SUCCESS", "ORD-nope")
	w := f.post(body, "1700000000000", "nonce1", signWebhook(testWebhookSecret, "1700000000000", "nonce1", body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.transfer.calls))
}
