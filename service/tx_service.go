package service

import (
	"context"
	"fmt"

	"github.com/token_settlement/model"
	"github.com/token_settlement/repository"
	"go.uber.org/zap"
)

// InboundVerifier checks a claimed inbound payment against chain state.
type InboundVerifier interface {
	VerifyInboundPayment(ctx context.Context, networkID, txHash, expectedReceiver, expectedAmount string) error
}

// TxService handles direct-wallet settlement: the buyer pays on-chain
// themselves and submits the transaction hash. The idempotency guard
// runs before the (expensive) on-chain verification so retry storms
// never trigger duplicate RPC calls or transfers.
type TxService struct {
	txs      *repository.TxRepository
	verifier InboundVerifier
	transfer TokenTransferrer
	// payoutSymbol is the token paid out for direct-wallet sells.
	payoutSymbol string
	logger       *zap.Logger
}

func NewTxService(txs *repository.TxRepository, verifier InboundVerifier, transfer TokenTransferrer, payoutSymbol string, logger *zap.Logger) *TxService {
	return &TxService{
		txs:          txs,
		verifier:     verifier,
		transfer:     transfer,
		payoutSymbol: payoutSymbol,
		logger:       logger,
	}
}

// DirectSubmission is a buyer-side claim of an inbound on-chain payment.
type DirectSubmission struct {
	Network              string
	NetworkID            string
	TokenName            string
	BuyerAddress         string
	InboundTxHash        string
	InboundReceiver      string
	InboundAmountMinor   string
	UsdtAmount           string
	TokenAmount          string
	TokenReceiverAddress string
	MerchantTradeNo      string
}

// SubmitBuy settles a direct-wallet purchase: guard, verify, dispatch,
// record. A repeated inbound hash returns the existing record unchanged.
func (s *TxService) SubmitBuy(ctx context.Context, sub DirectSubmission) (*model.UnifiedTransaction, error) {
	return s.settle(ctx, sub, model.PaymentMethodDirectBuy)
}

// SubmitSell settles a direct-wallet sale: the buyer sent tokens in,
// the treasury pays out the quoted USDT amount.
func (s *TxService) SubmitSell(ctx context.Context, sub DirectSubmission) (*model.UnifiedTransaction, error) {
	return s.settle(ctx, sub, model.PaymentMethodDirectSell)
}

func (s *TxService) settle(ctx context.Context, sub DirectSubmission, method model.PaymentMethod) (*model.UnifiedTransaction, error) {
	// Idempotency guard first: a hash we have seen settles nothing.
	existing, err := s.txs.FindByInboundHash(ctx, sub.InboundTxHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("duplicate inbound hash, returning existing record",
			zap.String("txHash", sub.InboundTxHash), zap.Uint("id", existing.ID))
		return existing, nil
	}

	if err := s.verifier.VerifyInboundPayment(ctx, sub.NetworkID, sub.InboundTxHash, sub.InboundReceiver, sub.InboundAmountMinor); err != nil {
		return nil, err
	}

	outSymbol, outAmount := sub.TokenName, sub.TokenAmount
	if method == model.PaymentMethodDirectSell {
		outSymbol, outAmount = s.payoutSymbol, sub.UsdtAmount
	}
	result := s.transfer.Transfer(ctx, sub.TokenReceiverAddress, outAmount, outSymbol)

	record := &model.UnifiedTransaction{
		Network:              sub.Network,
		TokenName:            sub.TokenName,
		BuyerAddress:         sub.BuyerAddress,
		TokenReceiverAddress: sub.TokenReceiverAddress,
		TxHash:               sub.InboundTxHash,
		UsdtAmount:           sub.UsdtAmount,
		TokenAmount:          sub.TokenAmount,
		SettlementTxHash:     result.TxHash,
		Approved:             result.Success,
		PaymentMethod:        method,
	}
	if sub.MerchantTradeNo != "" {
		record.MerchantTradeNo = &sub.MerchantTradeNo
	}
	if err := s.txs.Create(ctx, record); err != nil {
		// The unique index on tx_hash backs the guard at the storage
		// layer; a concurrent duplicate lands here.
		if existing, lookupErr := s.txs.FindByInboundHash(ctx, sub.InboundTxHash); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("persist settlement record: %w", err)
	}

	if !result.Success && !result.Pending {
		s.logger.Error("direct settlement transfer failed",
			zap.String("inboundTxHash", sub.InboundTxHash), zap.String("reason", result.Error))
	}
	return record, nil
}

func (s *TxService) GetTx(ctx context.Context, id uint) (*model.UnifiedTransaction, error) {
	return s.txs.FindByID(ctx, id)
}

func (s *TxService) ListTxs(ctx context.Context, page, size int) ([]*model.UnifiedTransaction, int64, error) {
	return s.txs.List(ctx, page, size)
}
