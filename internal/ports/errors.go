package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// ErrValidation marks a caller mistake (bad time range, non-positive
	// quantity or price, out-of-bounds percentage). Never partially applied,
	// never retryable.
	ErrValidation = errors.New("validation failed")

	// ErrDataIntegrity marks a stored record that fails required-field checks.
	// The record is skipped and logged; processing continues.
	ErrDataIntegrity = errors.New("stored record failed integrity checks")

	// ErrExternalService marks a failed call to the exchange or price oracle.
	// The affected computation degrades; the request as a whole succeeds.
	ErrExternalService = errors.New("external service call failed")

	// ErrConcurrency marks lock contention or a busy timeout on the durable
	// store. Surfaced to the caller as retryable.
	ErrConcurrency = errors.New("store is busy")

	// Finer-grained sentinels layered on the taxonomy above, so callers can
	// match either the broad class or the specific condition.
	ErrInvalidTimeRange     = fmt.Errorf("%w: start time must be before end time", ErrValidation)
	ErrPriceUnavailable     = fmt.Errorf("%w: price is unavailable", ErrExternalService)
	ErrExchangeUnavailable  = fmt.Errorf("%w: exchange API is unavailable", ErrExternalService)
	ErrRateLimited          = fmt.Errorf("%w: API rate limit exceeded", ErrExternalService)
	ErrAuthenticationFailed = fmt.Errorf("%w: exchange authentication failed (check API keys)", ErrExternalService)
	ErrTimeout              = fmt.Errorf("%w: operation timed out", ErrExternalService)

	ErrNotFound           = errors.New("resource not found")
	ErrConfigurationError = errors.New("invalid or missing configuration")
	ErrQueryFailed        = errors.New("database query failed")
)
