package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Pricing formula kinds. A symbol is either pegged to a fixed USDT
// price, to one troy ounce of gold, or to a gold-gram-derived sub-unit.
type pricingKind int

const (
	priceFixed pricingKind = iota
	priceGoldOunce
	priceGoldGram
)

type pricingRule struct {
	kind pricingKind
	// peg is the fixed USDT price for priceFixed rules.
	peg decimal.Decimal
	// divisor splits the gram price into sub-units for priceGoldGram rules.
	divisor decimal.Decimal
}

// processorCommission is applied multiplicatively on buys and divisively
// on sells when the payment goes through the processor checkout.
// TODO: product to confirm the buy/sell symmetry is intended fee design.
var processorCommission = decimal.RequireFromString("1.015")

const (
	quoteValidity = 5 * time.Minute

	// Payment amount precision per currency: one BNB is worth orders of
	// magnitude more than one USDT, so BNB amounts need finer rounding.
	usdtPrecision int32 = 4
	bnbPrecision  int32 = 6
)

const (
	PaymentMethodProcessorQuote = "processor"
	PaymentMethodDirectQuote    = "direct-wallet"

	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// Quote is a server-computed price offer, valid for a short window.
// Order creation always recomputes it rather than trusting the client.
type Quote struct {
	TokenSymbol     string          `json:"tokenSymbol"`
	TokenAmount     string          `json:"tokenAmount"`
	PaymentAmount   decimal.Decimal `json:"paymentAmount"`
	PaymentCurrency string          `json:"paymentCurrency"`
	ExchangeRate    decimal.Decimal `json:"exchangeRate"`
	GoldPrice       *GoldPrice      `json:"goldPrice,omitempty"`
	ValidUntil      time.Time       `json:"validUntil"`
}

type QuoteRequest struct {
	TokenSymbol     string
	TokenAmount     string
	PaymentCurrency string
	PaymentMethod   string
	Direction       string
}

type QuoteService struct {
	oracle PriceOracle
	rules  map[string]pricingRule
	logger *zap.Logger
}

func NewQuoteService(oracle PriceOracle, logger *zap.Logger) *QuoteService {
	return &QuoteService{
		oracle: oracle,
		rules: map[string]pricingRule{
			"USDK":   {kind: priceFixed, peg: decimal.NewFromInt(1)},
			"ONDK":   {kind: priceFixed, peg: decimal.NewFromInt(1)},
			"AUKA":   {kind: priceGoldOunce},
			"ORIGEN": {kind: priceGoldGram, divisor: decimal.NewFromInt(55)},
		},
		logger: logger,
	}
}

// GetQuote computes the payment amount and effective rate for a token
// purchase or sale. Oracle failures are absorbed inside the oracle's
// fallback chain, so the only errors here are validation errors.
func (s *QuoteService) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	symbol := strings.ToUpper(req.TokenSymbol)
	currency := strings.ToUpper(req.PaymentCurrency)
	if currency == "" {
		currency = "USDT"
	}

	rule, ok := s.rules[symbol]
	if !ok {
		return nil, ErrUnsupportedToken
	}

	amount, err := decimal.NewFromString(req.TokenAmount)
	if err != nil || !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	rate, goldPrice, err := s.tokenPriceUSDT(ctx, rule)
	if err != nil {
		return nil, err
	}

	if req.PaymentMethod == PaymentMethodProcessorQuote {
		if req.Direction == DirectionSell {
			rate = rate.Div(processorCommission)
		} else {
			rate = rate.Mul(processorCommission)
		}
	}

	precision := usdtPrecision
	if currency == "BNB" {
		bnbRate, err := s.oracle.BNBPriceUSDT(ctx)
		if err != nil {
			return nil, err
		}
		rate = rate.Div(bnbRate)
		precision = bnbPrecision
	}

	payment := amount.Mul(rate).Round(precision)
	rate = rate.Round(precision)

	return &Quote{
		TokenSymbol:     symbol,
		TokenAmount:     req.TokenAmount,
		PaymentAmount:   payment,
		PaymentCurrency: currency,
		ExchangeRate:    rate,
		GoldPrice:       goldPrice,
		ValidUntil:      time.Now().Add(quoteValidity),
	}, nil
}

func (s *QuoteService) tokenPriceUSDT(ctx context.Context, rule pricingRule) (decimal.Decimal, *GoldPrice, error) {
	switch rule.kind {
	case priceFixed:
		return rule.peg, nil, nil
	case priceGoldOunce:
		gold, err := s.oracle.GoldPrice(ctx)
		if err != nil {
			return decimal.Zero, nil, err
		}
		return gold.Ounce, &gold, nil
	case priceGoldGram:
		gold, err := s.oracle.GoldPrice(ctx)
		if err != nil {
			return decimal.Zero, nil, err
		}
		return gold.Gram.Div(rule.divisor), &gold, nil
	}
	return decimal.Zero, nil, ErrUnsupportedToken
}

// Supported reports whether a symbol has a pricing rule.
func (s *QuoteService) Supported(symbol string) bool {
	_, ok := s.rules[strings.ToUpper(symbol)]
	return ok
}
