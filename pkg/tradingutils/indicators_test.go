package tradingutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA_NotEnoughValues(t *testing.T) {
	assert.Nil(t, EMA([]float64{1, 2}, 3))
	assert.Nil(t, EMA(nil, 5))
	assert.Nil(t, EMA([]float64{1, 2, 3}, 0))
}

func TestEMA_ConstantSeries(t *testing.T) {
	values := []float64{5, 5, 5, 5, 5, 5}
	got := EMA(values, 3)
	require.NotNil(t, got)
	assert.InDelta(t, 5.0, *got, 1e-9)
}

func TestEMA_Converges(t *testing.T) {
	// Seed is avg(1,2,3)=2, then 4 and 5 pull the average up.
	got := EMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NotNil(t, got)
	assert.InDelta(t, 3.75, *got, 1e-9)
}

func TestRSI_NotEnoughValues(t *testing.T) {
	assert.Nil(t, RSI([]float64{1, 2, 3}, 3))
}

func TestRSI_AllGains(t *testing.T) {
	got := RSI([]float64{1, 2, 3, 4, 5, 6, 7}, 6)
	require.NotNil(t, got)
	assert.InDelta(t, 100.0, *got, 1e-9)
}

func TestRSI_Balanced(t *testing.T) {
	// Alternating equal gains and losses settle near 50.
	values := []float64{10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10}
	got := RSI(values, 4)
	require.NotNil(t, got)
	assert.Greater(t, *got, 30.0)
	assert.Less(t, *got, 70.0)
}
