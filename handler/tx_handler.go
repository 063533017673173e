package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/token_settlement/service"
	"gorm.io/gorm"
)

type TxHandler struct {
	txs *service.TxService
}

func NewTxHandler(txs *service.TxService) *TxHandler {
	return &TxHandler{txs: txs}
}

type directSubmissionRequest struct {
	Network              string `json:"network" binding:"required"`
	NetworkID            string `json:"networkId"`
	TokenName            string `json:"tokenName" binding:"required"`
	BuyerAddress         string `json:"buyerAddress" binding:"required"`
	TxHash               string `json:"txHash" binding:"required"`
	InboundReceiver      string `json:"inboundReceiver" binding:"required"`
	InboundAmountMinor   string `json:"inboundAmountMinor" binding:"required"`
	UsdtAmount           string `json:"usdtAmount" binding:"required"`
	TokenAmount          string `json:"tokenAmount" binding:"required"`
	TokenReceiverAddress string `json:"tokenReceiverAddress" binding:"required"`
	MerchantTradeNo      string `json:"merchantTradeNo"`
}

func (r directSubmissionRequest) toSubmission() service.DirectSubmission {
	return service.DirectSubmission{
		Network:              r.Network,
		NetworkID:            r.NetworkID,
		TokenName:            r.TokenName,
		BuyerAddress:         r.BuyerAddress,
		InboundTxHash:        r.TxHash,
		InboundReceiver:      r.InboundReceiver,
		InboundAmountMinor:   r.InboundAmountMinor,
		UsdtAmount:           r.UsdtAmount,
		TokenAmount:          r.TokenAmount,
		TokenReceiverAddress: r.TokenReceiverAddress,
		MerchantTradeNo:      r.MerchantTradeNo,
	}
}

// POST /api/txs
func (h *TxHandler) SubmitBuy(c *gin.Context) {
	var req directSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.txs.SubmitBuy(c.Request.Context(), req.toSubmission())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, record)
}

// POST /api/txs/sell
func (h *TxHandler) SubmitSell(c *gin.Context) {
	var req directSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.txs.SubmitSell(c.Request.Context(), req.toSubmission())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, record)
}

// GET /api/txs/:id
func (h *TxHandler) GetTx(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tx id"})
		return
	}

	record, err := h.txs.GetTx(c.Request.Context(), uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tx not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

// GET /api/txs
func (h *TxHandler) ListTxs(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))

	list, total, err := h.txs.ListTxs(c.Request.Context(), page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "records": list})
}
