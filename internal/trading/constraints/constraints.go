// Package constraints implements exchange tick/lot rounding and distance
// rules. All functions are pure over the product metadata they are
// parameterized with.
package constraints

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradeloop/internal/core"
	"tradeloop/pkg/apperrors"
)

// Validator applies a product's numeric constraints to prices and sizes.
type Validator struct {
	constraints core.ProductConstraints
}

// NewValidator creates a validator for the given product constraints.
func NewValidator(constraints core.ProductConstraints) *Validator {
	return &Validator{constraints: constraints}
}

// Constraints returns the product constraints the validator was built with.
func (v *Validator) Constraints() core.ProductConstraints {
	return v.constraints
}

// RoundPrice snaps a price onto the price-increment grid, rounding away from
// immediate execution: down for BUY, up for SELL. A rounding error must never
// push a resting order across the spread.
func (v *Validator) RoundPrice(price decimal.Decimal, side core.Side) decimal.Decimal {
	inc := v.constraints.PriceIncrement
	if inc.IsZero() {
		return price
	}

	ticks := price.Div(inc)
	if side == core.SideBuy {
		ticks = ticks.Floor()
	} else {
		ticks = ticks.Ceil()
	}
	return ticks.Mul(inc).Round(-inc.Exponent())
}

// RoundSize truncates a size down onto the size-increment grid. Truncation
// guarantees the result never exceeds what the caller holds.
func (v *Validator) RoundSize(size decimal.Decimal) decimal.Decimal {
	inc := v.constraints.SizeIncrement
	if inc.IsZero() {
		return size
	}
	return size.Div(inc).Floor().Mul(inc).Round(-inc.Exponent())
}

// EnsureMinSize rounds a size and fails if the result falls below the
// product's minimum order size.
func (v *Validator) EnsureMinSize(size decimal.Decimal) (decimal.Decimal, error) {
	rounded := v.RoundSize(size)
	if rounded.LessThan(v.constraints.MinSize) {
		return decimal.Zero, fmt.Errorf("size %s below minimum %s: %w",
			rounded, v.constraints.MinSize, apperrors.ErrInvalidOrderSize)
	}
	return rounded, nil
}

// EnforceMinDistance requires a resting order price to sit at least
// min_distance_pct of the mid away from the mid, on the passive side.
func (v *Validator) EnforceMinDistance(price, mid decimal.Decimal, side core.Side) error {
	required := mid.Mul(v.constraints.MinDistancePct)

	var distance decimal.Decimal
	if side == core.SideBuy {
		distance = mid.Sub(price)
	} else {
		distance = price.Sub(mid)
	}

	if distance.LessThan(required) {
		return fmt.Errorf("%s price %s within %s of mid %s (required distance %s): %w",
			side, price, distance, mid, required, apperrors.ErrDistanceViolation)
	}
	return nil
}

// EnforceStopDistance requires a stop trigger to sit at least
// min_distance_pct of the mid away from the mid, on the breakout side. A
// stop triggers after price crosses it, so the inequality runs opposite to
// EnforceMinDistance.
func (v *Validator) EnforceStopDistance(stop, mid decimal.Decimal, side core.Side) error {
	required := mid.Mul(v.constraints.MinDistancePct)

	var distance decimal.Decimal
	if side == core.SideBuy {
		distance = stop.Sub(mid)
	} else {
		distance = mid.Sub(stop)
	}

	if distance.LessThan(required) {
		return fmt.Errorf("%s stop %s within %s of mid %s (required distance %s): %w",
			side, stop, distance, mid, required, apperrors.ErrDistanceViolation)
	}
	return nil
}
