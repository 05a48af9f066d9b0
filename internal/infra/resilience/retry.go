package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

// AttemptGuard observes every individual attempt of a retried operation.
// The breaker implements it, so a flapping dependency trips even while the
// retry loop is still running and later attempts are rejected up front.
type AttemptGuard interface {
	Allow() error
	RecordSuccess()
	RecordFailure(outcome domain.Outcome)
}

// Run executes op with bounded retries and exponential backoff. Fatal
// errors propagate immediately without waiting out a backoff. Rate-limited
// errors wait the longer of the provider's retry-after hint and the
// computed backoff, and count toward attempt exhaustion like any other
// retryable failure. guard may be nil for unguarded operations.
func Run(ctx context.Context, cfg RetryConfig, guard AttemptGuard, op func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetryConfig.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig.MaxDelay
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if guard != nil {
			if err := guard.Allow(); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			if guard != nil {
				guard.RecordSuccess()
			}
			return nil
		}

		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// The caller gave up mid-call. That says nothing about the
			// dependency's health, so the breaker never hears about it.
			return err
		}

		outcome := domain.ClassifyError(err)
		if guard != nil {
			guard.RecordFailure(outcome)
		}
		if outcome == domain.OutcomeFatal {
			return err
		}

		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(attempt, cfg)
		if hint, ok := domain.RetryAfterHint(err); ok && hint > delay {
			delay = hint
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// backoffDelay computes min(base*2^(attempt-1), max) with uniform jitter in
// [0.75, 1.25].
func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(delay * jitter)
}
