package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/token_settlement/service"
	"gorm.io/gorm"
)

type OrderHandler struct {
	orders *service.OrderService
	quotes *service.QuoteService
}

func NewOrderHandler(orders *service.OrderService, quotes *service.QuoteService) *OrderHandler {
	return &OrderHandler{orders: orders, quotes: quotes}
}

type quoteRequest struct {
	TokenSymbol     string `json:"tokenSymbol" binding:"required"`
	TokenAmount     string `json:"tokenAmount" binding:"required"`
	PaymentCurrency string `json:"paymentCurrency"`
	PaymentMethod   string `json:"paymentMethod"`
	Type            string `json:"type"`
}

// POST /api/orders/quote
func (h *OrderHandler) GetQuote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quote, err := h.quotes.GetQuote(c.Request.Context(), service.QuoteRequest{
		TokenSymbol:     req.TokenSymbol,
		TokenAmount:     req.TokenAmount,
		PaymentCurrency: req.PaymentCurrency,
		PaymentMethod:   req.PaymentMethod,
		Direction:       req.Type,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, quote)
}

type createOrderRequest struct {
	TokenSymbol       string `json:"tokenSymbol" binding:"required"`
	TokenAmount       string `json:"tokenAmount" binding:"required"`
	PaymentCurrency   string `json:"paymentCurrency"`
	UserWalletAddress string `json:"userWalletAddress" binding:"required"`
}

// POST /api/orders/create
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), service.CreateOrderRequest{
		TokenSymbol:       req.TokenSymbol,
		TokenAmount:       req.TokenAmount,
		PaymentCurrency:   req.PaymentCurrency,
		UserWalletAddress: req.UserWalletAddress,
	})
	if err != nil {
		body := gin.H{"error": err.Error()}
		if order != nil {
			// Checkout creation failed after the order was persisted;
			// the caller can retry by id.
			body["orderId"] = order.ID
			body["merchantTradeNo"] = order.MerchantTradeNo
		}
		c.JSON(statusFor(err), body)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"orderId":         order.ID,
		"merchantTradeNo": order.MerchantTradeNo,
		"tokenAmount":     order.TokenAmount,
		"paymentAmount":   order.PaymentAmount,
		"paymentCurrency": order.PaymentCurrency,
		"paymentUrl":      order.CheckoutURL,
		"qrContent":       order.QRContent,
		"status":          order.Status,
	})
}

// GET /api/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

// statusFor maps the service error taxonomy onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrUnsupportedToken),
		errors.Is(err, service.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrPaymentNotConfirmed),
		errors.Is(err, service.ErrVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
