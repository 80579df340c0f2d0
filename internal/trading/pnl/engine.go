// Package pnl computes realized profit via FIFO lot matching over a trade
// history.
package pnl

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/core"
)

// CutoffTime is the start of the accounting period. Trades before it never
// contribute to any interval, including all-time.
var CutoffTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultMakerFeeRate and DefaultTakerFeeRate are applied when the engine is
// constructed with zero rates.
var (
	DefaultMakerFeeRate = decimal.RequireFromString("0.0025")
	DefaultTakerFeeRate = decimal.RequireFromString("0.0015")
)

type timeframe struct {
	key   string
	label string
	delta time.Duration // zero means "since cutoff"
}

var timeframes = []timeframe{
	{key: "24h", label: "Last 24 Hours", delta: 24 * time.Hour},
	{key: "7d", label: "Last 7 Days", delta: 7 * 24 * time.Hour},
	{key: "30d", label: "Last 30 Days", delta: 30 * 24 * time.Hour},
	{key: "365d", label: "Last 365 Days", delta: 365 * 24 * time.Hour},
	{key: "all", label: "Since 2025", delta: 0},
}

// lot is an open inventory position awaiting an opposite-side match.
type lot struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// entry is one trade's contribution to the aggregates.
type entry struct {
	timestamp   time.Time
	realized    decimal.Decimal
	makerVolume decimal.Decimal
	takerVolume decimal.Decimal
	fee         decimal.Decimal
}

// Engine replays trade histories through FIFO lot matching.
type Engine struct {
	makerFee decimal.Decimal
	takerFee decimal.Decimal
	cutoff   time.Time
	logger   core.ILogger
}

// NewEngine creates a PnL engine with the given fee rates. Zero rates fall
// back to the defaults.
func NewEngine(makerFee, takerFee decimal.Decimal, logger core.ILogger) *Engine {
	if makerFee.IsZero() {
		makerFee = DefaultMakerFeeRate
	}
	if takerFee.IsZero() {
		takerFee = DefaultTakerFeeRate
	}
	return &Engine{
		makerFee: makerFee,
		takerFee: takerFee,
		cutoff:   CutoffTime,
		logger:   logger.WithField("component", "pnl_engine"),
	}
}

// Summarize replays trades through FIFO matching and aggregates realized
// profit, volumes, and fees per rolling window. Trades with non-positive
// price or size, or dated before the cutoff, are excluded entirely.
func (e *Engine) Summarize(trades []core.TradeSnapshot, now time.Time) core.PNLSummary {
	filtered := make([]core.TradeSnapshot, 0, len(trades))
	for _, trade := range trades {
		if !trade.Price.IsPositive() || !trade.Size.IsPositive() {
			continue
		}
		if trade.Timestamp.Before(e.cutoff) {
			continue
		}
		filtered = append(filtered, trade)
	}

	// FIFO matching is order-sensitive; sort by time with insertion order
	// as the tiebreak.
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	entries := e.buildEntries(filtered)

	summary := core.PNLSummary{
		TotalProfitBeforeFees: decimal.Zero,
		TotalProfitAfterFees:  decimal.Zero,
	}
	for _, tf := range timeframes {
		start := e.intervalStart(now, tf.delta)
		metrics := summarizeInterval(entries, start)
		metrics.Key = tf.key
		metrics.Label = tf.label
		summary.Intervals = append(summary.Intervals, metrics)

		if tf.key == "all" {
			summary.TotalProfitBeforeFees = metrics.ProfitBeforeFees
			summary.TotalProfitAfterFees = metrics.ProfitAfterFees
		}
	}
	return summary
}

// buildEntries runs FIFO lot matching over chronologically sorted trades.
// A BUY consumes the short queue first, a SELL the long queue; any remainder
// opens a new lot on its own side.
func (e *Engine) buildEntries(trades []core.TradeSnapshot) []entry {
	var longLots, shortLots []lot
	entries := make([]entry, 0, len(trades))

	for _, trade := range trades {
		remaining := trade.Size
		realized := decimal.Zero

		if trade.Side == core.SideBuy {
			for remaining.IsPositive() && len(shortLots) > 0 {
				front := &shortLots[0]
				matched := decimal.Min(remaining, front.size)
				realized = realized.Add(front.price.Sub(trade.Price).Mul(matched))
				front.size = front.size.Sub(matched)
				remaining = remaining.Sub(matched)
				if !front.size.IsPositive() {
					shortLots = shortLots[1:]
				}
			}
			if remaining.IsPositive() {
				longLots = append(longLots, lot{price: trade.Price, size: remaining})
			}
		} else {
			for remaining.IsPositive() && len(longLots) > 0 {
				front := &longLots[0]
				matched := decimal.Min(remaining, front.size)
				realized = realized.Add(trade.Price.Sub(front.price).Mul(matched))
				front.size = front.size.Sub(matched)
				remaining = remaining.Sub(matched)
				if !front.size.IsPositive() {
					longLots = longLots[1:]
				}
			}
			if remaining.IsPositive() {
				shortLots = append(shortLots, lot{price: trade.Price, size: remaining})
			}
		}

		notional := trade.Price.Mul(trade.Size)
		ent := entry{
			timestamp: trade.Timestamp,
			realized:  realized,
		}
		if trade.Maker {
			ent.makerVolume = notional
			ent.takerVolume = decimal.Zero
			ent.fee = notional.Mul(e.makerFee)
		} else {
			ent.makerVolume = decimal.Zero
			ent.takerVolume = notional
			ent.fee = notional.Mul(e.takerFee)
		}
		entries = append(entries, ent)
	}

	return entries
}

// intervalStart clamps a rolling window start to the cutoff. A zero delta
// means the window starts at the cutoff itself.
func (e *Engine) intervalStart(now time.Time, delta time.Duration) time.Time {
	if delta == 0 {
		return e.cutoff
	}
	start := now.Add(-delta)
	if start.Before(e.cutoff) {
		return e.cutoff
	}
	return start
}

func summarizeInterval(entries []entry, start time.Time) core.IntervalMetrics {
	metrics := core.IntervalMetrics{
		ProfitBeforeFees: decimal.Zero,
		MakerVolume:      decimal.Zero,
		TakerVolume:      decimal.Zero,
		FeeTotal:         decimal.Zero,
	}
	for _, ent := range entries {
		if ent.timestamp.Before(start) {
			continue
		}
		metrics.ProfitBeforeFees = metrics.ProfitBeforeFees.Add(ent.realized)
		metrics.MakerVolume = metrics.MakerVolume.Add(ent.makerVolume)
		metrics.TakerVolume = metrics.TakerVolume.Add(ent.takerVolume)
		metrics.FeeTotal = metrics.FeeTotal.Add(ent.fee)
	}
	metrics.ProfitAfterFees = metrics.ProfitBeforeFees.Sub(metrics.FeeTotal)
	return metrics
}
