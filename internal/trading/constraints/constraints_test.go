package constraints

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/core"
	"tradeloop/pkg/apperrors"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func btcConstraints() core.ProductConstraints {
	return core.ProductConstraints{
		PriceIncrement: d("0.01"),
		SizeIncrement:  d("0.00000001"),
		MinSize:        d("0.0001"),
		MinDistancePct: d("0.0015"),
	}
}

func TestRoundPrice_BuyRoundsDown(t *testing.T) {
	v := NewValidator(btcConstraints())
	assert.True(t, v.RoundPrice(d("1999.999"), core.SideBuy).Equal(d("1999.99")))
	assert.True(t, v.RoundPrice(d("2000.00"), core.SideBuy).Equal(d("2000.00")))
}

func TestRoundPrice_SellRoundsUp(t *testing.T) {
	v := NewValidator(btcConstraints())
	assert.True(t, v.RoundPrice(d("2000.001"), core.SideSell).Equal(d("2000.01")))
	assert.True(t, v.RoundPrice(d("2000.00"), core.SideSell).Equal(d("2000.00")))
}

func TestRoundPrice_ZeroIncrementPassthrough(t *testing.T) {
	v := NewValidator(core.ProductConstraints{})
	p := d("1234.56789")
	assert.True(t, v.RoundPrice(p, core.SideBuy).Equal(p))
}

func TestRoundPrice_NeverCrossesInput(t *testing.T) {
	v := NewValidator(btcConstraints())
	prices := []string{"1999.994", "2000.006", "0.017", "31415.9265"}
	for _, s := range prices {
		p := d(s)
		buy := v.RoundPrice(p, core.SideBuy)
		sell := v.RoundPrice(p, core.SideSell)
		assert.True(t, buy.LessThanOrEqual(p), "BUY rounding must not exceed %s", s)
		assert.True(t, sell.GreaterThanOrEqual(p), "SELL rounding must not undercut %s", s)
	}
}

func TestRoundSize_Truncates(t *testing.T) {
	v := NewValidator(core.ProductConstraints{
		SizeIncrement: d("0.001"),
	})
	assert.True(t, v.RoundSize(d("0.123999")).Equal(d("0.123")))
	assert.True(t, v.RoundSize(d("0.1")).Equal(d("0.100")))
}

func TestRoundSize_NeverInflates(t *testing.T) {
	v := NewValidator(btcConstraints())
	for _, s := range []string{"0.00012345", "1.99999999999", "0.5"} {
		size := d(s)
		assert.True(t, v.RoundSize(size).LessThanOrEqual(size))
	}
}

func TestEnsureMinSize(t *testing.T) {
	v := NewValidator(btcConstraints())

	got, err := v.EnsureMinSize(d("0.5"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("0.5")))

	_, err = v.EnsureMinSize(d("0.00005"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOrderSize))
}

func TestEnforceMinDistance(t *testing.T) {
	v := NewValidator(btcConstraints())
	mid := d("2000")

	// Distance 4 >= required 3.
	assert.NoError(t, v.EnforceMinDistance(d("1996"), mid, core.SideBuy))

	// Distance 0.2 < required 3.
	err := v.EnforceMinDistance(d("1999.8"), mid, core.SideBuy)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDistanceViolation))

	// SELL mirror.
	assert.NoError(t, v.EnforceMinDistance(d("2004"), mid, core.SideSell))
	assert.Error(t, v.EnforceMinDistance(d("2000.2"), mid, core.SideSell))
}

func TestEnforceMinDistance_WrongSideOfMid(t *testing.T) {
	v := NewValidator(btcConstraints())
	// A BUY above the mid has negative distance and always fails.
	err := v.EnforceMinDistance(d("2010"), d("2000"), core.SideBuy)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDistanceViolation))
}

func TestEnforceStopDistance(t *testing.T) {
	v := NewValidator(btcConstraints())
	mid := d("2000")

	// A BUY stop sits above the mid.
	assert.NoError(t, v.EnforceStopDistance(d("2004"), mid, core.SideBuy))
	err := v.EnforceStopDistance(d("1980"), mid, core.SideBuy)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDistanceViolation))

	// A SELL stop sits below the mid.
	assert.NoError(t, v.EnforceStopDistance(d("1996"), mid, core.SideSell))
	assert.Error(t, v.EnforceStopDistance(d("1999.5"), mid, core.SideSell))
}
