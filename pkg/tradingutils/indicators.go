// Package tradingutils contains small numeric helpers for market data.
package tradingutils

// EMA computes the exponential moving average of values over the given
// period. Returns nil when there are fewer values than the period. The
// seed is the simple average of the first period values.
func EMA(values []float64, period int) *float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	var sum float64
	for _, v := range values[:period] {
		sum += v
	}
	ema := sum / float64(period)

	k := 2.0 / (float64(period) + 1.0)
	for _, v := range values[period:] {
		ema = v*k + ema*(1.0-k)
	}
	return &ema
}

// RSI computes the Wilder relative strength index over the given period.
// Returns nil when there are not enough values (period+1 closes are needed
// for period deltas).
func RSI(values []float64, period int) *float64 {
	if period <= 0 || len(values) < period+1 {
		return nil
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		rsi := 100.0
		return &rsi
	}
	rs := avgGain / avgLoss
	rsi := 100.0 - 100.0/(1.0+rs)
	return &rsi
}
