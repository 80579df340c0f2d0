package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/core"
	"tradeloop/internal/exchange/coinbase"
	"tradeloop/pkg/tradingutils"
)

const (
	candleGranularity = "ONE_HOUR"
	candleCount       = 120

	emaFastPeriod = 12
	emaSlowPeriod = 26
	rsiPeriod     = 14
)

// Client is the slice of the exchange API the market service reads from.
type Client interface {
	GetBestBidAsk(ctx context.Context, productID string) (*coinbase.PriceBook, error)
	GetProduct(ctx context.Context, productID string) (*coinbase.Product, error)
	GetCandles(ctx context.Context, productID, granularity string, start, end time.Time, limit int) ([]coinbase.CandleEntry, error)
	ListAccounts(ctx context.Context) ([]coinbase.Account, error)
}

// Service assembles market context: top of book, recent candles, and the
// derived indicators the planner consumes.
type Service struct {
	client    Client
	productID string
	logger    core.ILogger
}

func NewService(client Client, productID string, logger core.ILogger) *Service {
	return &Service{
		client:    client,
		productID: productID,
		logger:    logger.WithField("component", "market"),
	}
}

// Snapshot fetches the current best bid/ask and recent hourly candles, then
// derives mid price, fast/slow EMA, and RSI. Indicator fields are nil when
// the candle history is too short to compute them.
func (s *Service) Snapshot(ctx context.Context) (*core.MarketSnapshot, error) {
	book, err := s.client.GetBestBidAsk(ctx, s.productID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price book: %w", err)
	}
	bid, ask, err := topOfBook(book)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	start := now.Add(-time.Duration(candleCount) * time.Hour)
	entries, err := s.client.GetCandles(ctx, s.productID, candleGranularity, start, now, candleCount)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}
	candles := parseCandles(entries)

	snapshot := &core.MarketSnapshot{
		ProductID: s.productID,
		BestBid:   bid,
		BestAsk:   ask,
		Mid:       bid.Add(ask).Div(decimal.NewFromInt(2)),
		Candles:   candles,
		PriceTime: now,
	}
	if ts, ok := coinbase.ParseTime(book.Time); ok {
		snapshot.PriceTime = ts
	}

	closes := make([]float64, 0, len(candles))
	for _, candle := range candles {
		closes = append(closes, candle.Close)
	}
	if fast := tradingutils.EMA(closes, emaFastPeriod); fast != nil {
		v := decimal.NewFromFloat(*fast)
		snapshot.EMAFast = &v
	}
	if slow := tradingutils.EMA(closes, emaSlowPeriod); slow != nil {
		v := decimal.NewFromFloat(*slow)
		snapshot.EMASlow = &v
	}
	snapshot.RSI = tradingutils.RSI(closes, rsiPeriod)

	s.logger.Debug("Market snapshot assembled",
		"mid", snapshot.Mid.String(),
		"candles", len(candles))
	return snapshot, nil
}

// Constraints reads the product's trading increments from exchange metadata.
// The minimum distance is a local policy, not an exchange attribute, so the
// caller supplies it.
func (s *Service) Constraints(ctx context.Context, minDistancePct decimal.Decimal) (core.ProductConstraints, error) {
	product, err := s.client.GetProduct(ctx, s.productID)
	if err != nil {
		return core.ProductConstraints{}, fmt.Errorf("failed to fetch product metadata: %w", err)
	}

	priceIncrement, err := decimal.NewFromString(product.QuoteIncrement)
	if err != nil {
		return core.ProductConstraints{}, fmt.Errorf("failed to parse quote increment %q: %w", product.QuoteIncrement, err)
	}
	sizeIncrement, err := decimal.NewFromString(product.BaseIncrement)
	if err != nil {
		return core.ProductConstraints{}, fmt.Errorf("failed to parse base increment %q: %w", product.BaseIncrement, err)
	}
	minSize, err := decimal.NewFromString(product.BaseMinSize)
	if err != nil {
		return core.ProductConstraints{}, fmt.Errorf("failed to parse base min size %q: %w", product.BaseMinSize, err)
	}

	return core.ProductConstraints{
		PriceIncrement: priceIncrement,
		SizeIncrement:  sizeIncrement,
		MinSize:        minSize,
		MinDistancePct: minDistancePct,
	}, nil
}

// Balances returns per-currency portfolio balances keyed by currency code.
func (s *Service) Balances(ctx context.Context) (map[string]core.Balance, error) {
	accounts, err := s.client.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	balances := make(map[string]core.Balance, len(accounts))
	for _, account := range accounts {
		currency := strings.ToUpper(account.Currency)
		if currency == "" {
			continue
		}
		available, err := decimal.NewFromString(account.AvailableBalance.Value)
		if err != nil {
			continue
		}
		hold := decimal.Zero
		if parsed, err := decimal.NewFromString(account.Hold.Value); err == nil {
			hold = parsed
		}
		balances[currency] = core.Balance{
			Available: available,
			Hold:      hold,
			Total:     available.Add(hold),
		}
	}
	return balances, nil
}

func topOfBook(book *coinbase.PriceBook) (decimal.Decimal, decimal.Decimal, error) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price book for %s has an empty side", book.ProductID)
	}
	bid, err := decimal.NewFromString(book.Bids[0].Price)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to parse best bid %q: %w", book.Bids[0].Price, err)
	}
	ask, err := decimal.NewFromString(book.Asks[0].Price)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to parse best ask %q: %w", book.Asks[0].Price, err)
	}
	if !bid.IsPositive() || !ask.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("non-positive top of book for %s", book.ProductID)
	}
	return bid, ask, nil
}

func parseCandles(entries []coinbase.CandleEntry) []core.Candle {
	candles := make([]core.Candle, 0, len(entries))
	for _, entry := range entries {
		start, ok := coinbase.ParseTime(entry.Start)
		if !ok {
			continue
		}
		candle := core.Candle{Start: start}
		fields := []struct {
			raw string
			dst *float64
		}{
			{entry.Low, &candle.Low},
			{entry.High, &candle.High},
			{entry.Open, &candle.Open},
			{entry.Close, &candle.Close},
			{entry.Volume, &candle.Volume},
		}
		valid := true
		for _, field := range fields {
			parsed, err := decimal.NewFromString(field.raw)
			if err != nil {
				valid = false
				break
			}
			*field.dst = parsed.InexactFloat64()
		}
		if valid {
			candles = append(candles, candle)
		}
	}
	return candles
}
