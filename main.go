package main

import (
	"context"
	"fmt"
	"log"

	"github.com/token_settlement/config"
	"github.com/token_settlement/handler"
	"github.com/token_settlement/model"
	"github.com/token_settlement/repository"
	"github.com/token_settlement/router"
	"github.com/token_settlement/service"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	orderRepo := repository.NewOrderRepository(db)
	txRepo := repository.NewTxRepository(db)

	priceSvc := service.NewPriceService(
		cfg.Oracle.GoldAPIKey,
		cfg.Oracle.FallbackGoldPriceOz,
		cfg.Oracle.FallbackBNBPrice,
		cfg.Oracle.CacheTTL,
		logger,
	)
	quoteSvc := service.NewQuoteService(priceSvc, logger)

	// Signing credentials resolve here; a missing key aborts startup.
	transferSvc, err := service.NewTransferService(cfg, logger)
	if err != nil {
		logger.Fatal("init transfer dispatcher", zap.Error(err))
	}
	verifySvc, err := service.NewVerifyService(cfg, logger)
	if err != nil {
		logger.Fatal("init payment verifier", zap.Error(err))
	}

	binanceSvc := service.NewBinancePayService(
		cfg.BinancePay.APIURL,
		cfg.BinancePay.APIKey,
		cfg.BinancePay.SecretKey,
		cfg.BinancePay.WebhookSecret,
		cfg.BinancePay.SkipWebhookVerify,
		logger,
	)

	orderSvc := service.NewOrderService(orderRepo, txRepo, quoteSvc, binanceSvc, transferSvc, logger)
	txSvc := service.NewTxService(txRepo, verifySvc, transferSvc, "USDT", logger)

	// Background worker resolving transfers whose inclusion wait timed out.
	reconcileCtx, stopReconciler := context.WithCancel(context.Background())
	defer stopReconciler()
	go service.NewReconcileService(orderRepo, txRepo, cfg, logger).Run(reconcileCtx)

	r := router.SetupRouter(
		handler.NewOrderHandler(orderSvc, quoteSvc),
		handler.NewWebhookHandler(binanceSvc, orderSvc, logger),
		handler.NewTxHandler(txSvc),
		handler.NewPriceHandler(priceSvc, transferSvc),
	)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("settlement service listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		logger.Fatal("http server", zap.Error(err))
	}
}
