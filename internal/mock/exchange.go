// Package mock provides an in-memory exchange for development and tests.
package mock

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeloop/internal/exchange/coinbase"
)

// Exchange simulates the slice of the brokerage API the bot consumes.
// Orders placed against it rest until FillOrder or FillAll is called.
type Exchange struct {
	mu        sync.RWMutex
	productID string

	mid      decimal.Decimal
	spread   decimal.Decimal
	product  coinbase.Product
	accounts []coinbase.Account
	candles  []coinbase.CandleEntry

	orders         map[string]*coinbase.Order
	clientOrderMap map[string]string
	fills          []coinbase.Fill
	orderSeq       int64
	tradeSeq       int64
}

// NewExchange creates a mock exchange with a liquid book around the given
// mid price and funded base/quote accounts.
func NewExchange(productID string, mid decimal.Decimal) *Exchange {
	e := &Exchange{
		productID: productID,
		mid:       mid,
		spread:    mid.Mul(decimal.NewFromFloat(0.0002)),
		product: coinbase.Product{
			ProductID:      productID,
			Price:          mid.String(),
			BaseIncrement:  "0.00000001",
			QuoteIncrement: "0.01",
			BaseMinSize:    "0.00001",
			Status:         "online",
		},
		accounts: []coinbase.Account{
			{
				UUID:             uuid.NewString(),
				Currency:         "BTC",
				AvailableBalance: coinbase.AmountDetail{Value: "0.5", Currency: "BTC"},
				Hold:             coinbase.AmountDetail{Value: "0", Currency: "BTC"},
			},
			{
				UUID:             uuid.NewString(),
				Currency:         "USDC",
				AvailableBalance: coinbase.AmountDetail{Value: "10000", Currency: "USDC"},
				Hold:             coinbase.AmountDetail{Value: "0", Currency: "USDC"},
			},
		},
		orders:         make(map[string]*coinbase.Order),
		clientOrderMap: make(map[string]string),
		orderSeq:       1000,
		tradeSeq:       5000,
	}
	e.candles = syntheticCandles(mid, 120, time.Now().UTC())
	return e
}

// SetMid moves the simulated market.
func (e *Exchange) SetMid(mid decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mid = mid
	e.spread = mid.Mul(decimal.NewFromFloat(0.0002))
	e.product.Price = mid.String()
}

// SetProduct overrides the product metadata.
func (e *Exchange) SetProduct(p coinbase.Product) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.product = p
}

// SetAccounts overrides the funding accounts.
func (e *Exchange) SetAccounts(accounts []coinbase.Account) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts = accounts
}

// SetCandles overrides the candle history.
func (e *Exchange) SetCandles(candles []coinbase.CandleEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles = candles
}

func (e *Exchange) GetBestBidAsk(ctx context.Context, productID string) (*coinbase.PriceBook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if productID != e.productID {
		return nil, fmt.Errorf("unknown product %s", productID)
	}
	half := e.spread.Div(decimal.NewFromInt(2))
	return &coinbase.PriceBook{
		ProductID: productID,
		Bids:      []coinbase.PriceLevel{{Price: e.mid.Sub(half).String(), Size: "1.5"}},
		Asks:      []coinbase.PriceLevel{{Price: e.mid.Add(half).String(), Size: "1.5"}},
		Time:      time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (e *Exchange) GetProduct(ctx context.Context, productID string) (*coinbase.Product, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if productID != e.productID {
		return nil, fmt.Errorf("unknown product %s", productID)
	}
	p := e.product
	return &p, nil
}

func (e *Exchange) GetCandles(ctx context.Context, productID, granularity string, start, end time.Time, limit int) ([]coinbase.CandleEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	candles := e.candles
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]coinbase.CandleEntry, len(candles))
	copy(out, candles)
	return out, nil
}

func (e *Exchange) ListAccounts(ctx context.Context) ([]coinbase.Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]coinbase.Account, len(e.accounts))
	copy(out, e.accounts)
	return out, nil
}

// CreateOrder accepts the order and parks it as OPEN. Resubmitting the same
// client order id returns the original acknowledgement.
func (e *Exchange) CreateOrder(ctx context.Context, req *coinbase.CreateOrderRequest) (*coinbase.CreateOrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ClientOrderID != "" {
		if existingID, ok := e.clientOrderMap[req.ClientOrderID]; ok {
			return ackFor(e.orders[existingID]), nil
		}
	}

	e.orderSeq++
	now := time.Now().UTC().Format(time.RFC3339)
	order := &coinbase.Order{
		OrderID:            strconv.FormatInt(e.orderSeq, 10),
		ClientOrderID:      req.ClientOrderID,
		ProductID:          req.ProductID,
		Side:               req.Side,
		Status:             "OPEN",
		OrderConfiguration: req.OrderConfiguration,
		SubmittedTime:      now,
		CreatedTime:        now,
	}
	e.orders[order.OrderID] = order
	if req.ClientOrderID != "" {
		e.clientOrderMap[req.ClientOrderID] = order.OrderID
	}
	return ackFor(order), nil
}

func ackFor(order *coinbase.Order) *coinbase.CreateOrderResponse {
	return &coinbase.CreateOrderResponse{
		Success: true,
		OrderID: order.OrderID,
		SuccessResponse: &coinbase.SuccessDetail{
			OrderID:       order.OrderID,
			ProductID:     order.ProductID,
			Side:          order.Side,
			ClientOrderID: order.ClientOrderID,
		},
	}
}

func (e *Exchange) ListOrders(ctx context.Context, productID string, statuses []string, watermark time.Time) ([]coinbase.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	wanted := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var out []coinbase.Order
	for _, order := range e.orders {
		if order.ProductID != productID {
			continue
		}
		if len(wanted) > 0 && !wanted[order.Status] {
			continue
		}
		out = append(out, *order)
	}
	return out, nil
}

func (e *Exchange) ListFills(ctx context.Context, productID string, watermark time.Time) ([]coinbase.Fill, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []coinbase.Fill
	for _, fill := range e.fills {
		if fill.ProductID != productID {
			continue
		}
		if t, ok := coinbase.ParseTime(fill.TradeTime); ok && t.Before(watermark) {
			continue
		}
		out = append(out, fill)
	}
	return out, nil
}

// FillOrder marks an open order filled at the given price and records the
// matching fill. Limit orders fill as maker, market orders as taker.
func (e *Exchange) FillOrder(orderID string, price decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	if order.Status != "OPEN" {
		return fmt.Errorf("order %s is %s, not OPEN", orderID, order.Status)
	}

	size := baseSizeOf(order.OrderConfiguration)
	liquidity := "MAKER"
	if order.OrderConfiguration.MarketMarketIOC != nil || order.OrderConfiguration.MarketMarketGTC != nil {
		liquidity = "TAKER"
	}

	now := time.Now().UTC().Format(time.RFC3339)
	order.Status = "FILLED"
	order.FilledSize = size
	order.AverageFilledPrice = price.String()
	order.LastFillTime = now
	order.CompletedTime = now

	e.tradeSeq++
	e.fills = append(e.fills, coinbase.Fill{
		EntryID:        uuid.NewString(),
		TradeID:        strconv.FormatInt(e.tradeSeq, 10),
		OrderID:        order.OrderID,
		ProductID:      order.ProductID,
		TradeTime:      now,
		Side:           order.Side,
		Price:          price.String(),
		Size:           size,
		Commission:     "0",
		LiquidityIndic: liquidity,
	})
	return nil
}

// FillAll fills every open order at the current mid.
func (e *Exchange) FillAll() {
	e.mu.RLock()
	var open []string
	for id, order := range e.orders {
		if order.Status == "OPEN" {
			open = append(open, id)
		}
	}
	mid := e.mid
	e.mu.RUnlock()

	for _, id := range open {
		_ = e.FillOrder(id, mid)
	}
}

// OpenOrderIDs returns the ids of currently resting orders.
func (e *Exchange) OpenOrderIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []string
	for id, order := range e.orders {
		if order.Status == "OPEN" {
			out = append(out, id)
		}
	}
	return out
}

func baseSizeOf(cfg coinbase.OrderConfiguration) string {
	switch {
	case cfg.LimitLimitGTD != nil:
		return cfg.LimitLimitGTD.BaseSize
	case cfg.LimitLimitGTC != nil:
		return cfg.LimitLimitGTC.BaseSize
	case cfg.StopLimitStopLimitGTD != nil:
		return cfg.StopLimitStopLimitGTD.BaseSize
	case cfg.StopLimitStopLimitGTC != nil:
		return cfg.StopLimitStopLimitGTC.BaseSize
	case cfg.TriggerBracketGTD != nil:
		return cfg.TriggerBracketGTD.BaseSize
	case cfg.TriggerBracketGTC != nil:
		return cfg.TriggerBracketGTC.BaseSize
	case cfg.MarketMarketIOC != nil:
		return cfg.MarketMarketIOC.BaseSize
	case cfg.MarketMarketGTC != nil:
		return cfg.MarketMarketGTC.BaseSize
	}
	return "0"
}

// syntheticCandles builds a gentle sine-wave price history ending at mid.
func syntheticCandles(mid decimal.Decimal, count int, end time.Time) []coinbase.CandleEntry {
	base := mid.InexactFloat64()
	candles := make([]coinbase.CandleEntry, 0, count)
	for i := 0; i < count; i++ {
		offset := math.Sin(float64(i)/9.0) * base * 0.004
		open := base + offset
		closePx := base + math.Sin(float64(i+1)/9.0)*base*0.004
		high := math.Max(open, closePx) * 1.0005
		low := math.Min(open, closePx) * 0.9995
		start := end.Add(-time.Duration(count-i) * time.Hour)
		candles = append(candles, coinbase.CandleEntry{
			Start:  strconv.FormatInt(start.Unix(), 10),
			Open:   strconv.FormatFloat(open, 'f', 2, 64),
			High:   strconv.FormatFloat(high, 'f', 2, 64),
			Low:    strconv.FormatFloat(low, 'f', 2, 64),
			Close:  strconv.FormatFloat(closePx, 'f', 2, 64),
			Volume: "12.5",
		})
	}
	return candles
}
