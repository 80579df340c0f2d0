// Package core defines the shared domain types for the trading loop.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is an order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind distinguishes the supported order configurations.
type OrderKind string

const (
	KindLimit     OrderKind = "limit"
	KindStopLimit OrderKind = "stop_limit"
	KindMarket    OrderKind = "market"
)

// OrderStatus mirrors the exchange's order lifecycle states.
type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusExpired   OrderStatus = "EXPIRED"
)

// RunKind identifies the orchestrator job that produced a run.
type RunKind string

const (
	RunPlan    RunKind = "plan"
	RunOrder   RunKind = "order"
	RunMonitor RunKind = "monitor"
	RunPnL     RunKind = "pnl"
)

// RunStatus is the lifecycle state of a run log row.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// ProductConstraints holds the per-instrument grid and distance rules.
// Derived once per run from exchange product metadata, never mutated.
type ProductConstraints struct {
	PriceIncrement decimal.Decimal
	SizeIncrement  decimal.Decimal
	MinSize        decimal.Decimal
	MinDistancePct decimal.Decimal
}

// PlannedOrder is an in-memory trade intent produced by the planning step.
// The validator and balance-capping logic may rewrite price and size before
// the execution engine consumes it.
type PlannedOrder struct {
	Side       Side
	Kind       OrderKind
	LimitPrice decimal.Decimal
	BaseSize   decimal.Decimal
	StopPrice  *decimal.Decimal
	PostOnly   bool
	EndTime    time.Time
}

// OpenOrderRecord is a snapshot of a currently-resting order. The set of
// open orders for a product is fully replaced on every reconciliation pass.
type OpenOrderRecord struct {
	OrderID       string
	Side          Side
	LimitPrice    decimal.Decimal
	BaseSize      decimal.Decimal
	Status        OrderStatus
	StopPrice     *decimal.Decimal
	ClientOrderID string
	EndTime       time.Time
	ProductID     string
}

// ExecutedOrderRecord is the durable history row for every order the engine
// has seen, keyed by the exchange order id and upserted on every sync pass.
type ExecutedOrderRecord struct {
	OrderID             string
	TsSubmitted         time.Time
	TsSubmittedInferred bool
	TsFilled            *time.Time
	Side                Side
	LimitPrice          decimal.Decimal
	BaseSize            decimal.Decimal
	Status              OrderStatus
	FilledSize          *decimal.Decimal
	ClientOrderID       string
	EndTime             time.Time
	ProductID           string
	StopPrice           *decimal.Decimal
	PostOnly            bool
}

// FillRecord is one cached fill, keyed by a stable fill id so repeated
// syncs never double-count.
type FillRecord struct {
	FillID    string
	OrderID   string
	ProductID string
	TradeTime time.Time
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Maker     bool
}

// TradeSnapshot is a single fill normalized for PnL accounting.
type TradeSnapshot struct {
	Timestamp time.Time
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Maker     bool
}

// RunRecord is one row of the run log.
type RunRecord struct {
	ID         int64
	Kind       RunKind
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	UsageJSON  string
	ErrorText  string
}

// Candle is one OHLCV bar.
type Candle struct {
	Start  time.Time
	Low    float64
	High   float64
	Open   float64
	Close  float64
	Volume float64
}

// MarketSnapshot bundles the best bid/ask with derived indicators.
type MarketSnapshot struct {
	ProductID string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Mid       decimal.Decimal
	EMAFast   *decimal.Decimal
	EMASlow   *decimal.Decimal
	RSI       *float64
	Candles   []Candle
	PriceTime time.Time
}

// Balance is one currency's portfolio snapshot entry.
type Balance struct {
	Available decimal.Decimal
	Hold      decimal.Decimal
	Total     decimal.Decimal
}

// PriceSnapshot is a persisted mid-price observation.
type PriceSnapshot struct {
	Ts        time.Time
	ProductID string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Mid       decimal.Decimal
}

// IntervalMetrics is one rolling window's PnL aggregation.
type IntervalMetrics struct {
	Key              string
	Label            string
	ProfitBeforeFees decimal.Decimal
	MakerVolume      decimal.Decimal
	TakerVolume      decimal.Decimal
	FeeTotal         decimal.Decimal
	ProfitAfterFees  decimal.Decimal
}

// PNLSummary is the full aggregation output. The "all" interval's figures
// double as the grand totals.
type PNLSummary struct {
	Intervals             []IntervalMetrics
	TotalProfitBeforeFees decimal.Decimal
	TotalProfitAfterFees  decimal.Decimal
}
