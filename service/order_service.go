package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/token_settlement/model"
	"github.com/token_settlement/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TokenTransferrer dispatches outbound settlement transfers.
type TokenTransferrer interface {
	Transfer(ctx context.Context, to, amount, symbol string) TransferResult
}

// CheckoutCreator creates a payment-processor checkout for an order.
type CheckoutCreator interface {
	CreateOrder(ctx context.Context, merchantTradeNo string, amount decimal.Decimal, currency, description string) (*CheckoutInfo, error)
}

// OrderService owns the order state machine. Orders move strictly
// forward: PENDING -> PAID -> TOKENS_SENT | FAILED. PAID is never
// reversed once money was received; a transfer failure after PAID is a
// terminal inconsistency for manual reconciliation, not a refund.
type OrderService struct {
	orders   *repository.OrderRepository
	txs      *repository.TxRepository
	quotes   *QuoteService
	checkout CheckoutCreator
	transfer TokenTransferrer
	logger   *zap.Logger
}

func NewOrderService(orders *repository.OrderRepository, txs *repository.TxRepository, quotes *QuoteService, checkout CheckoutCreator, transfer TokenTransferrer, logger *zap.Logger) *OrderService {
	return &OrderService{
		orders:   orders,
		txs:      txs,
		quotes:   quotes,
		checkout: checkout,
		transfer: transfer,
		logger:   logger,
	}
}

type CreateOrderRequest struct {
	TokenSymbol       string
	TokenAmount       string
	PaymentCurrency   string
	UserWalletAddress string
}

// CreateOrder validates the request, recomputes the quote server-side
// (a client-supplied price could be manipulated between quote and
// order), persists the order in PENDING and requests a processor
// checkout. When checkout creation fails the order is still returned
// alongside the error: it stays retrievable by id for retry.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	if !common.IsHexAddress(req.UserWalletAddress) {
		return nil, ErrInvalidAddress
	}

	quote, err := s.quotes.GetQuote(ctx, QuoteRequest{
		TokenSymbol:     req.TokenSymbol,
		TokenAmount:     req.TokenAmount,
		PaymentCurrency: req.PaymentCurrency,
		PaymentMethod:   PaymentMethodProcessorQuote,
		Direction:       DirectionBuy,
	})
	if err != nil {
		return nil, err
	}

	tradeNo := newMerchantTradeNo()
	order := &model.Order{
		MerchantTradeNo:   tradeNo,
		TokenSymbol:       quote.TokenSymbol,
		TokenAmount:       req.TokenAmount,
		PaymentAmount:     quote.PaymentAmount.String(),
		PaymentCurrency:   quote.PaymentCurrency,
		ExchangeRate:      quote.ExchangeRate.String(),
		UserWalletAddress: req.UserWalletAddress,
		Status:            model.OrderStatusPending,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	description := fmt.Sprintf("Purchase of %s %s", req.TokenAmount, quote.TokenSymbol)
	info, err := s.checkout.CreateOrder(ctx, tradeNo, quote.PaymentAmount, quote.PaymentCurrency, description)
	if err != nil {
		s.logger.Error("processor checkout creation failed",
			zap.String("merchantTradeNo", tradeNo), zap.Error(err))
		return order, err
	}

	order.CheckoutID = info.PrepayID
	order.CheckoutURL = info.CheckoutURL
	order.QRContent = info.QRContent
	if err := s.orders.Save(ctx, order); err != nil {
		return order, fmt.Errorf("persist checkout refs: %w", err)
	}

	s.logger.Info("order created",
		zap.Uint("orderId", order.ID), zap.String("merchantTradeNo", tradeNo))
	return order, nil
}

// ConfirmPayment settles a paid order at most once. The PENDING->PAID
// transition is a conditional update keyed on the current status, so
// duplicate webhook deliveries (including concurrent ones) collapse to
// a single dispatcher invocation.
func (s *OrderService) ConfirmPayment(ctx context.Context, merchantTradeNo string) error {
	order, err := s.orders.FindByMerchantTradeNo(ctx, merchantTradeNo)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("payment confirmation for unknown order",
			zap.String("merchantTradeNo", merchantTradeNo))
		return nil
	}
	if err != nil {
		return err
	}

	paidAt := time.Now()
	transitioned, err := s.orders.MarkPaid(ctx, merchantTradeNo, paidAt)
	if err != nil {
		return err
	}
	if !transitioned {
		s.logger.Info("order already processed",
			zap.String("merchantTradeNo", merchantTradeNo),
			zap.String("status", string(order.Status)))
		return nil
	}
	s.logger.Info("order marked PAID", zap.String("merchantTradeNo", merchantTradeNo))

	result := s.transfer.Transfer(ctx, order.UserWalletAddress, order.TokenAmount, order.TokenSymbol)

	switch {
	case result.Success:
		sentAt := time.Now()
		if err := s.orders.MarkTokensSent(ctx, merchantTradeNo, result.TxHash, sentAt); err != nil {
			return err
		}
		s.recordSettlement(ctx, order, result, true)
		s.logger.Info("tokens sent",
			zap.String("merchantTradeNo", merchantTradeNo), zap.String("txHash", result.TxHash))
	case result.Pending:
		// Outcome unknown: keep the order PAID and store the attempt so
		// an operator can reconcile; a second transfer is never sent.
		s.recordSettlement(ctx, order, result, false)
		s.logger.Warn("transfer outcome unknown, order left PAID",
			zap.String("merchantTradeNo", merchantTradeNo), zap.String("txHash", result.TxHash))
	default:
		if err := s.orders.MarkFailed(ctx, merchantTradeNo, result.Error); err != nil {
			return err
		}
		s.logger.Error("token transfer failed",
			zap.String("merchantTradeNo", merchantTradeNo), zap.String("reason", result.Error))
	}
	return nil
}

// recordSettlement emits the UnifiedTransaction audit record for a
// processor-confirmed purchase. The merchant trade number doubles as
// the inbound payment reference for this flow.
func (s *OrderService) recordSettlement(ctx context.Context, order *model.Order, result TransferResult, approved bool) {
	tradeNo := order.MerchantTradeNo
	record := &model.UnifiedTransaction{
		Network:              "bsc",
		TokenName:            order.TokenSymbol,
		BuyerAddress:         order.UserWalletAddress,
		TokenReceiverAddress: order.UserWalletAddress,
		TxHash:               tradeNo,
		UsdtAmount:           order.PaymentAmount,
		TokenAmount:          order.TokenAmount,
		SettlementTxHash:     result.TxHash,
		Approved:             approved,
		PaymentMethod:        model.PaymentMethodProcessor,
		MerchantTradeNo:      &tradeNo,
	}
	if err := s.txs.Create(ctx, record); err != nil {
		s.logger.Error("persist settlement audit record failed",
			zap.String("merchantTradeNo", tradeNo), zap.Error(err))
	}
}

func (s *OrderService) GetOrder(ctx context.Context, id uint) (*model.Order, error) {
	return s.orders.FindByID(ctx, id)
}

func newMerchantTradeNo() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD%d%s", time.Now().UnixMilli(), suffix)
}
