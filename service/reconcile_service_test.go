package service

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/token_settlement/model"
	"github.com/token_settlement/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pendingSettlementHash = "0x9c0d7b1f4c2a8e6f5d3b1a0918273645aabbccddeeff00112233445566778899"

func newTestReconcileService(t *testing.T, dbName string, backend ChainBackend) (*ReconcileService, *repository.OrderRepository, *repository.TxRepository, *gorm.DB) {
	t.Helper()
	db := newTestDB(t, dbName)
	orderRepo := repository.NewOrderRepository(db)
	txRepo := repository.NewTxRepository(db)
	svc := &ReconcileService{
		orders:    orderRepo,
		txs:       txRepo,
		networks:  map[string]string{"56": "http://unused"},
		defaultID: "56",
		interval:  time.Second,
		backends:  map[string]ChainBackend{"56": backend},
		logger:    zap.NewNop(),
	}
	return svc, orderRepo, txRepo, db
}

func seedPaidOrderWithPendingAttempt(t *testing.T, db *gorm.DB, txRepo *repository.TxRepository) *model.Order {
	t.Helper()
	paidAt := time.Now()
	order := &model.Order{
		MerchantTradeNo:   "ORD-pending-1",
		TokenSymbol:       "USDK",
		TokenAmount:       "100",
		PaymentAmount:     "101.5",
		PaymentCurrency:   "USDT",
		UserWalletAddress: testWallet,
		Status:            model.OrderStatusPaid,
		PaidAt:            &paidAt,
	}
	require.NoError(t, db.Create(order).Error)

	tradeNo := order.MerchantTradeNo
	require.NoError(t, txRepo.Create(context.Background(), &model.UnifiedTransaction{
		Network:              "bsc",
		TokenName:            order.TokenSymbol,
		BuyerAddress:         testWallet,
		TokenReceiverAddress: testWallet,
		TxHash:               tradeNo,
		UsdtAmount:           order.PaymentAmount,
		TokenAmount:          order.TokenAmount,
		SettlementTxHash:     pendingSettlementHash,
		Approved:             false,
		PaymentMethod:        model.PaymentMethodProcessor,
		MerchantTradeNo:      &tradeNo,
	}))
	return order
}

func TestReconcileMinedSettlementFinishesOrder(t *testing.T) {
	backend := &fakeChainBackend{receipts: map[common.Hash]*types.Receipt{
		common.HexToHash(pendingSettlementHash): {Status: types.ReceiptStatusSuccessful},
	}}
	svc, orderRepo, txRepo, db := newTestReconcileService(t, "reconcile_ok", backend)
	order := seedPaidOrderWithPendingAttempt(t, db, txRepo)

	require.NoError(t, svc.reconcileOnce(context.Background()))

	stored, err := orderRepo.FindByMerchantTradeNo(context.Background(), order.MerchantTradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusTokensSent, stored.Status)
	require.NotNil(t, stored.TxHash)
	assert.Equal(t, pendingSettlementHash, *stored.TxHash)

	attempt, err := txRepo.FindByInboundHash(context.Background(), order.MerchantTradeNo)
	require.NoError(t, err)
	assert.True(t, attempt.Approved)
	assert.NotNil(t, attempt.ReconciledAt)
}

func TestReconcileRevertedSettlementFailsOrder(t *testing.T) {
	backend := &fakeChainBackend{receipts: map[common.Hash]*types.Receipt{
		common.HexToHash(pendingSettlementHash): {Status: types.ReceiptStatusFailed},
	}}
	svc, orderRepo, txRepo, db := newTestReconcileService(t, "reconcile_revert", backend)
	order := seedPaidOrderWithPendingAttempt(t, db, txRepo)

	require.NoError(t, svc.reconcileOnce(context.Background()))

	stored, err := orderRepo.FindByMerchantTradeNo(context.Background(), order.MerchantTradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, stored.Status)

	attempt, err := txRepo.FindByInboundHash(context.Background(), order.MerchantTradeNo)
	require.NoError(t, err)
	assert.False(t, attempt.Approved)
	// resolved: the next pass must not pick it up again
	assert.NotNil(t, attempt.ReconciledAt)
	unresolved, err := txRepo.ListUnresolvedSettlements(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestReconcileUnminedSettlementLeftForNextPass(t *testing.T) {
	backend := &fakeChainBackend{}
	svc, orderRepo, txRepo, db := newTestReconcileService(t, "reconcile_wait", backend)
	order := seedPaidOrderWithPendingAttempt(t, db, txRepo)

	require.NoError(t, svc.reconcileOnce(context.Background()))

	stored, err := orderRepo.FindByMerchantTradeNo(context.Background(), order.MerchantTradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, stored.Status)

	unresolved, err := txRepo.ListUnresolvedSettlements(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)
}

func TestReconcileDirectAttemptWithoutOrder(t *testing.T) {
	backend := &fakeChainBackend{receipts: map[common.Hash]*types.Receipt{
		common.HexToHash(pendingSettlementHash): {Status: types.ReceiptStatusSuccessful},
	}}
	svc, _, txRepo, _ := newTestReconcileService(t, "reconcile_direct", backend)

	require.NoError(t, txRepo.Create(context.Background(), &model.UnifiedTransaction{
		Network:              "bsc",
		TokenName:            "ONDK",
		BuyerAddress:         testWallet,
		TokenReceiverAddress: testWallet,
		TxHash:               "0xinbound",
		TokenAmount:          "30",
		SettlementTxHash:     pendingSettlementHash,
		PaymentMethod:        model.PaymentMethodDirectBuy,
	}))

	require.NoError(t, svc.reconcileOnce(context.Background()))

	attempt, err := txRepo.FindByInboundHash(context.Background(), "0xinbound")
	require.NoError(t, err)
	assert.True(t, attempt.Approved)
}
