package provider

import (
	"context"
	"errors"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/resilience"
	"github.com/dcava30/Talenti-MVP-sub000/internal/metrics"
)

// GuardConfig tunes the resilience wrapping for one dependency.
type GuardConfig struct {
	Breaker     resilience.BreakerConfig `yaml:"breaker"`
	Retry       resilience.RetryConfig   `yaml:"retry"`
	CallTimeout time.Duration            `yaml:"call_timeout"`
}

// DefaultGuardConfig provides sensible defaults.
var DefaultGuardConfig = GuardConfig{
	Breaker:     resilience.DefaultBreakerConfig,
	Retry:       resilience.DefaultRetryConfig,
	CallTimeout: 15 * time.Second,
}

// Guard is the resilience wrapper every outbound provider call flows
// through: a per-dependency breaker around a retry loop, each retry attempt
// visible to the breaker, and a bounded timeout per attempt.
type Guard struct {
	name        string
	breaker     *resilience.Breaker
	retry       resilience.RetryConfig
	callTimeout time.Duration
}

// NewGuard creates the guard for one dependency name.
func NewGuard(name string, cfg GuardConfig) *Guard {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultGuardConfig.CallTimeout
	}
	return &Guard{
		name:        name,
		breaker:     resilience.NewBreaker(name, cfg.Breaker),
		retry:       cfg.Retry,
		callTimeout: cfg.CallTimeout,
	}
}

// Do runs op under retry-inside-breaker with a per-attempt timeout.
func (g *Guard) Do(ctx context.Context, op func(context.Context) error) error {
	start := time.Now()
	attempts := 0

	err := resilience.Run(ctx, g.retry, g.breaker, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			metrics.RetryAttemptsTotal.WithLabelValues(g.name).Inc()
		}

		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()

		err := op(callCtx)
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			// Per-attempt timeout, not caller cancellation: retryable.
			return &domain.RetryableError{Provider: g.name, Err: err}
		}
		return err
	})

	metrics.ProviderLatency.WithLabelValues(g.name).Observe(time.Since(start).Seconds())
	metrics.ProviderCallsTotal.WithLabelValues(g.name, outcomeLabel(err)).Inc()
	return err
}

// Once runs op under the breaker without retries. Used for calls where a
// replay would be wrong, like ordered audio pushes.
func (g *Guard) Once(ctx context.Context, op func(context.Context) error) error {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		return op(callCtx)
	})
	metrics.ProviderCallsTotal.WithLabelValues(g.name, outcomeLabel(err)).Inc()
	return err
}

// Breaker exposes the underlying breaker for health reporting.
func (g *Guard) Breaker() *resilience.Breaker { return g.breaker }

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrCircuitOpen):
		return "rejected"
	default:
		switch domain.ClassifyError(err) {
		case domain.OutcomeRateLimited:
			return "rate_limited"
		case domain.OutcomeFatal:
			return "fatal"
		default:
			return "retryable"
		}
	}
}
