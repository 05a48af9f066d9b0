package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

var testRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   time.Millisecond,
	MaxDelay:    10 * time.Millisecond,
}

func TestRunSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Run(context.Background(), testRetryConfig, nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &domain.RetryableError{Provider: "speech", Err: errors.New("timeout")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRunFatalPropagatesImmediately(t *testing.T) {
	calls := 0
	fatal := &domain.FatalError{Provider: "ai", Err: errors.New("401 unauthorized")}
	err := Run(context.Background(), testRetryConfig, nil, func(ctx context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("Run() = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on fatal)", calls)
	}
}

func TestRunExhaustsAttempts(t *testing.T) {
	calls := 0
	last := &domain.RetryableError{Provider: "call", Err: errors.New("503")}
	err := Run(context.Background(), testRetryConfig, nil, func(ctx context.Context) error {
		calls++
		return last
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, last) {
		t.Errorf("Run() = %v, want wrapped last error", err)
	}
}

func TestRunHonorsRetryAfterHint(t *testing.T) {
	hint := 30 * time.Millisecond
	calls := 0
	start := time.Now()
	err := Run(context.Background(), testRetryConfig, nil, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &domain.RateLimitedError{Provider: "ai", RetryAfter: hint, Err: errors.New("429")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if elapsed := time.Since(start); elapsed < hint {
		t.Errorf("elapsed = %v, want >= provider hint %v", elapsed, hint)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}, nil,
		func(ctx context.Context) error {
			return &domain.RetryableError{Provider: "speech", Err: errors.New("timeout")}
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

type countingGuard struct {
	allowed   int
	successes int
	failures  int
	rejectAt  int // reject Allow once this many attempts were admitted; 0 = never
}

func (g *countingGuard) Allow() error {
	if g.rejectAt > 0 && g.allowed >= g.rejectAt {
		return domain.ErrCircuitOpen
	}
	g.allowed++
	return nil
}

func (g *countingGuard) RecordSuccess()                       { g.successes++ }
func (g *countingGuard) RecordFailure(outcome domain.Outcome) { g.failures++ }

func TestRunGuardSeesEveryAttempt(t *testing.T) {
	guard := &countingGuard{}
	calls := 0
	err := Run(context.Background(), testRetryConfig, guard, func(ctx context.Context) error {
		calls++
		return &domain.RetryableError{Provider: "call", Err: errors.New("502")}
	})
	if err == nil {
		t.Fatal("Run() = nil, want error after exhaustion")
	}
	if guard.allowed != 3 || guard.failures != 3 {
		t.Errorf("guard saw allowed=%d failures=%d, want 3/3", guard.allowed, guard.failures)
	}
}

func TestRunGuardRejectionStopsRetries(t *testing.T) {
	guard := &countingGuard{rejectAt: 2}
	calls := 0
	err := Run(context.Background(), testRetryConfig, guard, func(ctx context.Context) error {
		calls++
		return &domain.RetryableError{Provider: "call", Err: errors.New("502")}
	})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Run() = %v, want ErrCircuitOpen once guard rejects", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (third attempt rejected up front)", calls)
	}
}

func TestRunCallerCancellationIsNotRecorded(t *testing.T) {
	guard := &countingGuard{}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Run(ctx, testRetryConfig, guard, func(ctx context.Context) error {
		calls++
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	// A client that hangs up says nothing about the dependency, so the
	// guard must see neither a success nor a failure.
	if guard.failures != 0 || guard.successes != 0 {
		t.Errorf("guard saw failures=%d successes=%d, want 0/0 on caller cancel",
			guard.failures, guard.successes)
	}
}

func TestRunInsideBreakerTripsOnFlapping(t *testing.T) {
	b := NewBreaker("flappy", BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	calls := 0
	err := Run(context.Background(), testRetryConfig, b, func(ctx context.Context) error {
		calls++
		return &domain.RetryableError{Provider: "flappy", Err: errors.New("reset")}
	})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Run() = %v, want ErrCircuitOpen (breaker tripped mid-retry)", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 network attempts before rejection", calls)
	}
	if got := b.State(); got != StateOpen {
		t.Errorf("breaker state = %v, want StateOpen", got)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute}
	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}

	for attempt, want := range expected {
		for i := 0; i < 50; i++ {
			got := backoffDelay(attempt+1, cfg)
			lo := time.Duration(float64(want) * 0.75)
			hi := time.Duration(float64(want) * 1.25)
			if got < lo || got > hi {
				t.Fatalf("backoffDelay(attempt=%d) = %v, want within [%v, %v]", attempt+1, got, lo, hi)
			}
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	for i := 0; i < 50; i++ {
		got := backoffDelay(10, cfg)
		if got > time.Duration(float64(5*time.Second)*1.25) {
			t.Fatalf("backoffDelay(10) = %v, want capped at max*1.25", got)
		}
	}
}
