package service

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/token_settlement/config"
	"github.com/token_settlement/model"
	"github.com/token_settlement/repository"
	"go.uber.org/zap"
)

const reconcileBatchSize = 100

// ReconcileService resolves settlement attempts whose inclusion wait
// timed out. It only observes the chain: the original transaction either
// landed or it did not, and a second transfer is never sent either way.
type ReconcileService struct {
	orders *repository.OrderRepository
	txs    *repository.TxRepository

	networks  map[string]string
	defaultID string
	interval  time.Duration

	dial     func(url string) (ChainBackend, error)
	backends map[string]ChainBackend

	logger *zap.Logger
}

func NewReconcileService(orders *repository.OrderRepository, txs *repository.TxRepository, cfg *config.Config, logger *zap.Logger) *ReconcileService {
	return &ReconcileService{
		orders:    orders,
		txs:       txs,
		networks:  cfg.Networks.RPC,
		defaultID: cfg.Networks.DefaultID,
		interval:  cfg.Transfer.PollInterval * 10,
		dial: func(url string) (ChainBackend, error) {
			return ethclient.Dial(url)
		},
		backends: make(map[string]ChainBackend),
		logger:   logger,
	}
}

// Run polls until the context is cancelled.
func (s *ReconcileService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reconcileOnce(ctx); err != nil {
				s.logger.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

func (s *ReconcileService) reconcileOnce(ctx context.Context) error {
	attempts, err := s.txs.ListUnresolvedSettlements(ctx, reconcileBatchSize)
	if err != nil {
		return err
	}
	for _, attempt := range attempts {
		if err := s.resolve(ctx, attempt); err != nil {
			s.logger.Warn("reconcile attempt failed",
				zap.Uint("txId", attempt.ID),
				zap.String("settlementTxHash", attempt.SettlementTxHash),
				zap.Error(err))
		}
	}
	return nil
}

// resolve looks up the receipt for one attempt. A still-missing receipt
// leaves the attempt untouched for the next pass.
func (s *ReconcileService) resolve(ctx context.Context, attempt *model.UnifiedTransaction) error {
	backend, err := s.backend()
	if err != nil {
		return err
	}

	receipt, err := backend.TransactionReceipt(ctx, common.HexToHash(attempt.SettlementTxHash))
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now()
	approved := receipt.Status == types.ReceiptStatusSuccessful
	if err := s.txs.MarkReconciled(ctx, attempt.ID, approved, now); err != nil {
		return err
	}

	if attempt.MerchantTradeNo != nil {
		if approved {
			err = s.orders.MarkTokensSent(ctx, *attempt.MerchantTradeNo, attempt.SettlementTxHash, now)
		} else {
			err = s.orders.MarkFailed(ctx, *attempt.MerchantTradeNo, "settlement transaction reverted on-chain")
		}
		if err != nil {
			return err
		}
	}

	s.logger.Info("settlement attempt reconciled",
		zap.Uint("txId", attempt.ID),
		zap.String("settlementTxHash", attempt.SettlementTxHash),
		zap.Bool("approved", approved))
	return nil
}

func (s *ReconcileService) backend() (ChainBackend, error) {
	if b, ok := s.backends[s.defaultID]; ok {
		return b, nil
	}
	b, err := s.dial(s.networks[s.defaultID])
	if err != nil {
		return nil, err
	}
	s.backends[s.defaultID] = b
	return b, nil
}
