package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/core"
	"tradeloop/internal/logging"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEngine() *Engine {
	return NewEngine(decimal.Zero, decimal.Zero, logging.NewNopLogger())
}

func trade(ts time.Time, side core.Side, price, size string, maker bool) core.TradeSnapshot {
	return core.TradeSnapshot{
		Timestamp: ts,
		Side:      side,
		Price:     d(price),
		Size:      d(size),
		Maker:     maker,
	}
}

func intervalByKey(t *testing.T, summary core.PNLSummary, key string) core.IntervalMetrics {
	t.Helper()
	for _, iv := range summary.Intervals {
		if iv.Key == key {
			return iv
		}
	}
	t.Fatalf("interval %q not found", key)
	return core.IntervalMetrics{}
}

func TestSummarize_SimpleRoundTrip(t *testing.T) {
	engine := newTestEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	trades := []core.TradeSnapshot{
		trade(now.Add(-2*time.Hour), core.SideBuy, "700", "1", true),
		trade(now.Add(-1*time.Hour), core.SideSell, "900", "1", false),
	}

	summary := engine.Summarize(trades, now)

	assert.True(t, summary.TotalProfitBeforeFees.Equal(d("200")))
	// Maker fee on the buy notional, taker fee on the sell notional.
	expectedAfter := d("200").Sub(d("700").Mul(d("0.0025"))).Sub(d("900").Mul(d("0.0015")))
	assert.True(t, summary.TotalProfitAfterFees.Equal(expectedAfter),
		"got %s want %s", summary.TotalProfitAfterFees, expectedAfter)

	all := intervalByKey(t, summary, "all")
	assert.True(t, all.MakerVolume.Equal(d("700")))
	assert.True(t, all.TakerVolume.Equal(d("900")))
}

func TestSummarize_FIFOOrdering(t *testing.T) {
	engine := newTestEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Two buys at different prices; the sell must match the older lot first.
	trades := []core.TradeSnapshot{
		trade(now.Add(-3*time.Hour), core.SideBuy, "100", "1", true),
		trade(now.Add(-2*time.Hour), core.SideBuy, "200", "1", true),
		trade(now.Add(-1*time.Hour), core.SideSell, "150", "1", true),
	}

	summary := engine.Summarize(trades, now)
	// Matched against the 100 lot: profit 50, not -50.
	assert.True(t, summary.TotalProfitBeforeFees.Equal(d("50")))
}

func TestSummarize_PartialLotConsumption(t *testing.T) {
	engine := newTestEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	trades := []core.TradeSnapshot{
		trade(now.Add(-3*time.Hour), core.SideBuy, "100", "2", true),
		trade(now.Add(-2*time.Hour), core.SideSell, "110", "0.5", true),
		trade(now.Add(-1*time.Hour), core.SideSell, "120", "1.5", true),
	}

	summary := engine.Summarize(trades, now)
	// 0.5*(110-100) + 1.5*(120-100) = 5 + 30
	assert.True(t, summary.TotalProfitBeforeFees.Equal(d("35")))
}

func TestSummarize_ShortSideMatching(t *testing.T) {
	engine := newTestEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Selling first opens a short lot; buying back below realizes profit.
	trades := []core.TradeSnapshot{
		trade(now.Add(-2*time.Hour), core.SideSell, "900", "1", true),
		trade(now.Add(-1*time.Hour), core.SideBuy, "700", "1", true),
	}

	summary := engine.Summarize(trades, now)
	assert.True(t, summary.TotalProfitBeforeFees.Equal(d("200")))
}

func TestSummarize_CutoffExcludesOldTrades(t *testing.T) {
	engine := newTestEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	trades := []core.TradeSnapshot{
		// Before the 2025-01-01 cutoff: excluded even from all-time.
		trade(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), core.SideBuy, "100", "1", true),
		trade(time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC), core.SideSell, "500", "1", true),
		// In range, no opposing lot: opens inventory, realizes nothing.
		trade(now.Add(-time.Hour), core.SideBuy, "100", "1", true),
	}

	summary := engine.Summarize(trades, now)
	assert.True(t, summary.TotalProfitBeforeFees.IsZero())
	all := intervalByKey(t, summary, "all")
	assert.True(t, all.MakerVolume.Equal(d("100")), "only the in-range trade contributes volume")
}

func TestSummarize_WindowBoundaries(t *testing.T) {
	engine := newTestEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	trades := []core.TradeSnapshot{
		trade(now.Add(-2*time.Hour), core.SideBuy, "100", "1", true),
		trade(now.Add(-time.Hour), core.SideSell, "150", "1", true),
		// 10 days old: outside 24h and 7d, inside 30d.
		trade(now.Add(-10*24*time.Hour), core.SideBuy, "100", "1", true),
		trade(now.Add(-10*24*time.Hour).Add(time.Minute), core.SideSell, "120", "1", true),
	}

	summary := engine.Summarize(trades, now)

	assert.True(t, intervalByKey(t, summary, "24h").ProfitBeforeFees.Equal(d("50")))
	assert.True(t, intervalByKey(t, summary, "7d").ProfitBeforeFees.Equal(d("50")))
	assert.True(t, intervalByKey(t, summary, "30d").ProfitBeforeFees.Equal(d("70")))
	assert.True(t, intervalByKey(t, summary, "all").ProfitBeforeFees.Equal(d("70")))
}

func TestSummarize_UnsortedInputIsSorted(t *testing.T) {
	engine := newTestEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	trades := []core.TradeSnapshot{
		trade(now.Add(-1*time.Hour), core.SideSell, "150", "1", true),
		trade(now.Add(-3*time.Hour), core.SideBuy, "100", "1", true),
		trade(now.Add(-2*time.Hour), core.SideBuy, "200", "1", true),
	}

	summary := engine.Summarize(trades, now)
	assert.True(t, summary.TotalProfitBeforeFees.Equal(d("50")))
}

func TestSummarize_SkipsNonPositiveTrades(t *testing.T) {
	engine := newTestEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	trades := []core.TradeSnapshot{
		trade(now.Add(-time.Hour), core.SideBuy, "0", "1", true),
		trade(now.Add(-time.Hour), core.SideSell, "100", "0", true),
	}

	summary := engine.Summarize(trades, now)
	all := intervalByKey(t, summary, "all")
	assert.True(t, all.MakerVolume.IsZero())
	assert.True(t, all.FeeTotal.IsZero())
}

func TestSummarize_CustomFeeRates(t *testing.T) {
	engine := NewEngine(d("0.01"), d("0.02"), logging.NewNopLogger())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	trades := []core.TradeSnapshot{
		trade(now.Add(-time.Hour), core.SideBuy, "100", "1", true),
		trade(now.Add(-30*time.Minute), core.SideSell, "100", "1", false),
	}

	summary := engine.Summarize(trades, now)
	all := intervalByKey(t, summary, "all")
	require.True(t, all.FeeTotal.Equal(d("3")), "1%% of 100 maker + 2%% of 100 taker")
}
