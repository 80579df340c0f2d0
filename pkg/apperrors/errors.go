package apperrors

import "errors"

// Standardized trading-loop errors. Validation errors are recovered by the
// orchestrator's retry policy; the rest surface as run failures.
var (
	ErrInvalidOrderSize   = errors.New("order size below product minimum")
	ErrDistanceViolation  = errors.New("order price violates minimum distance from mid")
	ErrStopLimitInversion = errors.New("stop-limit prices on wrong side of trigger")
	ErrTooManyOrders      = errors.New("at most one planned order is allowed")
	ErrPlanningExhausted  = errors.New("planning failed to produce an acceptable plan")
	ErrPlanRejected       = errors.New("planning service returned malformed output")
	ErrNoDailyPlan        = errors.New("daily plan not found")
)

// IsValidation reports whether err belongs to the order-validation taxonomy.
// These are retried once with fresh input rather than failing the run outright.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidOrderSize) ||
		errors.Is(err, ErrDistanceViolation) ||
		errors.Is(err, ErrStopLimitInversion) ||
		errors.Is(err, ErrTooManyOrders)
}
