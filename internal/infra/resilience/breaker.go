package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
	"github.com/dcava30/Talenti-MVP-sub000/internal/metrics"
)

// BreakerState captures circuit breaker states.
type BreakerState int

const (
	StateClosed   BreakerState = iota // Normal operation
	StateHalfOpen                     // Trial probes permitted
	StateOpen                         // Rejecting calls
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls thresholds for state transitions.
type BreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	RateLimitThreshold int           `yaml:"rate_limit_threshold"` // separate, higher budget for 429s
	RecoveryTimeout    time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls   int           `yaml:"half_open_max_calls"`
}

// DefaultBreakerConfig provides sensible defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold:   5,
	RateLimitThreshold: 10,
	RecoveryTimeout:    30 * time.Second,
	HalfOpenMaxCalls:   2,
}

// Breaker guards calls to one external dependency. One instance per
// dependency name, created at startup, shared by all callers. All state is
// mutated under a single mutex held only for the state check, never across
// the guarded call.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	failures        int
	rateLimited     int
	halfOpenAllowed int
	halfOpenOK      int
	openedAt        time.Time

	now func() time.Time
}

// NewBreaker creates a breaker for the named dependency.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.RateLimitThreshold <= 0 {
		cfg.RateLimitThreshold = DefaultBreakerConfig.RateLimitThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig.RecoveryTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = DefaultBreakerConfig.HalfOpenMaxCalls
	}
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, transitioning OPEN to HALF_OPEN first if
// the recovery timeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

// Allow admits or rejects one call attempt. Rejection is synchronous and
// never blocks: callers get domain.ErrCircuitOpen immediately. An admitted
// attempt must be followed by exactly one RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpenLocked()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.halfOpenAllowed >= b.cfg.HalfOpenMaxCalls {
			return fmt.Errorf("%s: half-open probe budget exhausted: %w", b.name, domain.ErrCircuitOpen)
		}
		b.halfOpenAllowed++
		return nil
	default:
		return fmt.Errorf("%s: %w", b.name, domain.ErrCircuitOpen)
	}
}

// RecordSuccess records a successful admitted call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
		b.rateLimited = 0
	case StateHalfOpen:
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.HalfOpenMaxCalls {
			b.closeLocked()
		}
	}
}

// RecordFailure records a failed admitted call. Rate-limited outcomes are
// counted against their own, higher threshold so a burst of 429s does not
// trip the breaker as fast as hard failures do.
func (b *Breaker) RecordFailure(outcome domain.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if outcome == domain.OutcomeRateLimited {
			b.rateLimited++
			if b.rateLimited >= b.cfg.RateLimitThreshold {
				b.tripLocked("rate limit threshold reached")
			}
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.tripLocked("failure threshold reached")
		}
	case StateHalfOpen:
		// A single failed probe sends the breaker straight back to OPEN.
		b.tripLocked("half-open probe failed")
	}
}

// Execute runs op under the breaker: Allow, call, record. Keeps the lock
// outside the network call.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(b.name, "rejected").Inc()
		return err
	}
	err := op(ctx)
	if err == nil {
		b.RecordSuccess()
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Caller cancellation is neither a success nor a failure.
		return err
	}
	b.RecordFailure(domain.ClassifyError(err))
	return err
}

// Snapshot returns state for health reporting.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return BreakerSnapshot{
		Name:        b.name,
		State:       b.state.String(),
		Failures:    b.failures,
		RateLimited: b.rateLimited,
		OpenedAt:    b.openedAt,
	}
}

// BreakerSnapshot is a point-in-time view of a breaker for health output.
type BreakerSnapshot struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	RateLimited int       `json:"rate_limited"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		b.state = StateHalfOpen
		b.halfOpenAllowed = 0
		b.halfOpenOK = 0
		metrics.BreakerState.WithLabelValues(b.name).Set(1)
		slog.Info("Breaker half-open, probing", "dependency", b.name)
	}
}

func (b *Breaker) tripLocked(reason string) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.halfOpenAllowed = 0
	b.halfOpenOK = 0
	metrics.BreakerState.WithLabelValues(b.name).Set(2)
	metrics.BreakerTripsTotal.WithLabelValues(b.name).Inc()
	slog.Warn("Breaker tripped", "dependency", b.name, "reason", reason)
}

func (b *Breaker) closeLocked() {
	b.state = StateClosed
	b.failures = 0
	b.rateLimited = 0
	b.halfOpenAllowed = 0
	b.halfOpenOK = 0
	metrics.BreakerState.WithLabelValues(b.name).Set(0)
	slog.Info("Breaker closed", "dependency", b.name)
}
