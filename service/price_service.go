package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GramsPerTroyOunce converts the per-ounce gold quote to per-gram.
var GramsPerTroyOunce = decimal.RequireFromString("31.1035")

// GoldPrice is one observation from a price source.
type GoldPrice struct {
	Ounce     decimal.Decimal `json:"ounce"`
	Gram      decimal.Decimal `json:"gram"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceOracle is what the quote calculator consumes; PriceService is the
// production implementation, tests substitute a stub.
type PriceOracle interface {
	GoldPrice(ctx context.Context) (GoldPrice, error)
	BNBPriceUSDT(ctx context.Context) (decimal.Decimal, error)
}

type priceCache struct {
	mu     sync.Mutex
	gold   *GoldPrice
	goldAt time.Time
	bnb    *decimal.Decimal
	bnbAt  time.Time
}

// PriceService fetches spot prices from ranked sources and absorbs
// source failures into a static fallback. The cache is owned by the
// service and refreshed on read, not a package global.
type PriceService struct {
	httpClient *http.Client
	logger     *zap.Logger

	goldAPIKey  string
	fallbackOz  decimal.Decimal
	fallbackBNB decimal.Decimal
	cacheTTL    time.Duration

	goldAPIURL string
	tickerURL  string

	cache priceCache
}

func NewPriceService(goldAPIKey, fallbackOz, fallbackBNB string, cacheTTL time.Duration, logger *zap.Logger) *PriceService {
	return &PriceService{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		goldAPIKey:  goldAPIKey,
		fallbackOz:  decimal.RequireFromString(fallbackOz),
		fallbackBNB: decimal.RequireFromString(fallbackBNB),
		cacheTTL:    cacheTTL,
		goldAPIURL:  "https://www.goldapi.io/api/XAU/USD",
		tickerURL:   "https://api.binance.com/api/v3/ticker/price",
	}
}

// GoldPrice returns the cached quote when fresh, otherwise walks the
// ranked sources: goldapi.io, then the PAXG/USDT ticker, then the static
// fallback. Source failures are logged, never surfaced.
func (s *PriceService) GoldPrice(ctx context.Context) (GoldPrice, error) {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()

	if s.cache.gold != nil && time.Since(s.cache.goldAt) < s.cacheTTL {
		return *s.cache.gold, nil
	}

	price, err := s.fetchGoldAPI(ctx)
	if err != nil {
		s.logger.Warn("goldapi.io source failed", zap.Error(err))
		price, err = s.fetchPAXGTicker(ctx)
	}
	if err != nil {
		s.logger.Warn("all gold price sources failed, using static fallback", zap.Error(err))
		price = goldPriceFromOunce(s.fallbackOz, "fallback")
	}

	s.cache.gold = &price
	s.cache.goldAt = time.Now()
	return price, nil
}

// BNBPriceUSDT returns the BNB/USDT spot rate with the same cache and
// fallback discipline as the gold quote.
func (s *PriceService) BNBPriceUSDT(ctx context.Context) (decimal.Decimal, error) {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()

	if s.cache.bnb != nil && time.Since(s.cache.bnbAt) < s.cacheTTL {
		return *s.cache.bnb, nil
	}

	price, err := s.fetchTicker(ctx, "BNBUSDT")
	if err != nil {
		s.logger.Warn("BNB ticker failed, using static fallback", zap.Error(err))
		price = s.fallbackBNB
	}

	s.cache.bnb = &price
	s.cache.bnbAt = time.Now()
	return price, nil
}

func goldPriceFromOunce(oz decimal.Decimal, source string) GoldPrice {
	return GoldPrice{
		Ounce:     oz,
		Gram:      oz.Div(GramsPerTroyOunce),
		Source:    source,
		Timestamp: time.Now(),
	}
}

func (s *PriceService) fetchGoldAPI(ctx context.Context) (GoldPrice, error) {
	if s.goldAPIKey == "" {
		return GoldPrice{}, fmt.Errorf("no goldapi.io key configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.goldAPIURL, nil)
	if err != nil {
		return GoldPrice{}, err
	}
	req.Header.Set("x-access-token", s.goldAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return GoldPrice{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return GoldPrice{}, fmt.Errorf("goldapi.io returned %d", resp.StatusCode)
	}

	var body struct {
		Price json.Number `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return GoldPrice{}, err
	}
	oz, err := decimal.NewFromString(body.Price.String())
	if err != nil || !oz.IsPositive() {
		return GoldPrice{}, fmt.Errorf("goldapi.io returned unusable price %q", body.Price)
	}
	return goldPriceFromOunce(oz, "goldapi.io"), nil
}

// PAXG trades 1:1 against a troy ounce of gold, so the ticker doubles as
// a gold quote when the primary source is down.
func (s *PriceService) fetchPAXGTicker(ctx context.Context) (GoldPrice, error) {
	oz, err := s.fetchTicker(ctx, "PAXGUSDT")
	if err != nil {
		return GoldPrice{}, err
	}
	return goldPriceFromOunce(oz, "binance_paxg"), nil
}

func (s *PriceService) fetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s?symbol=%s", s.tickerURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("ticker %s returned %d", symbol, resp.StatusCode)
	}

	var body struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("ticker %s returned unusable price %q", symbol, body.Price)
	}
	return price, nil
}
