package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/token_settlement/handler"
)

func SetupRouter(orders *handler.OrderHandler, webhooks *handler.WebhookHandler, txs *handler.TxHandler, prices *handler.PriceHandler) *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/orders/quote", orders.GetQuote)
		api.POST("/orders/create", orders.CreateOrder)
		api.GET("/orders/:id", orders.GetOrder)

		api.POST("/binance/webhook", webhooks.HandleWebhook)

		api.POST("/txs", txs.SubmitBuy)
		api.POST("/txs/sell", txs.SubmitSell)
		api.GET("/txs", txs.ListTxs)
		api.GET("/txs/:id", txs.GetTx)

		api.GET("/prices/gold", prices.GetGoldPrice)
		api.GET("/tokens/:symbol/treasury", prices.GetTreasuryAddress)
	}

	return r
}
