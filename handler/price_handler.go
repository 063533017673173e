package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/token_settlement/service"
)

type PriceHandler struct {
	oracle   service.PriceOracle
	transfer *service.TransferService
}

func NewPriceHandler(oracle service.PriceOracle, transfer *service.TransferService) *PriceHandler {
	return &PriceHandler{oracle: oracle, transfer: transfer}
}

// GET /api/prices/gold
func (h *PriceHandler) GetGoldPrice(c *gin.Context) {
	price, err := h.oracle.GoldPrice(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, price)
}

// GET /api/tokens/:symbol/treasury
func (h *PriceHandler) GetTreasuryAddress(c *gin.Context) {
	address, err := h.transfer.TreasuryAddress(c.Param("symbol"))
	if errors.Is(err, service.ErrUnsupportedToken) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenSymbol": c.Param("symbol"), "treasuryAddress": address})
}
