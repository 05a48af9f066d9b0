package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is returned synchronously when a dependency's breaker is
// OPEN and the call was rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit open")

// ErrSessionNotFound is returned when a correlation id matches no active session.
var ErrSessionNotFound = errors.New("session not found")

// RetryableError marks a provider failure worth retrying (timeouts, 5xx,
// connection resets).
type RetryableError struct {
	Provider string
	Err      error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: retryable: %v", e.Provider, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// RateLimitedError is a provider 429. RetryAfter carries the provider's
// hint; zero means no hint was given.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited (retry after %s): %v", e.Provider, e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// FatalError marks a provider failure that must not be retried (4xx auth,
// validation). It still counts as a breaker failure.
type FatalError struct {
	Provider string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal: %v", e.Provider, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Outcome classifies a completed provider call for the retry/breaker layer.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeRateLimited
	OutcomeFatal
)

// ClassifyError maps an error to its Outcome. Unrecognized errors default
// to retryable, matching how unknown network failures behave in practice.
func ClassifyError(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return OutcomeRateLimited
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return OutcomeFatal
	}
	return OutcomeRetryable
}

// RetryAfterHint extracts the provider retry-after hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}
