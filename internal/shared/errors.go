package shared

import "errors"

var (
	// ErrValidation indicates a broken domain invariant; nothing was persisted.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced pledge, contact, solicitor or rule does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a stale optimistic version or a duplicate allocation key.
	ErrConflict = errors.New("conflict")
	// ErrAggregation indicates a pledge/plan resync could not converge; the
	// enclosing transaction must abort.
	ErrAggregation = errors.New("aggregate resync failed")
	// ErrRateUnavailable indicates a missing exchange rate for a (currency, date)
	// pair. Recovered locally via the 1.0 fallback; never fatal on its own.
	ErrRateUnavailable = errors.New("exchange rate unavailable")
)
