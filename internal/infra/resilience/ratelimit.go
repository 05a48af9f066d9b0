package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/metrics"
)

// LimiterConfig controls a sliding-window rate limiter.
type LimiterConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	IdleTimeout time.Duration `yaml:"idle_timeout"` // eviction of idle identities
}

// DefaultLimiterConfig provides sensible defaults.
var DefaultLimiterConfig = LimiterConfig{
	MaxRequests: 60,
	Window:      time.Minute,
	IdleTimeout: 10 * time.Minute,
}

// Limiter admits requests per identity key using a sliding window of
// request timestamps. One instance per endpoint category; identity windows
// are created lazily and evicted after IdleTimeout without traffic.
type Limiter struct {
	category string
	cfg      LimiterConfig

	mu      sync.Mutex
	windows map[string]*identityWindow

	now func() time.Time
}

type identityWindow struct {
	stamps   []time.Time
	lastSeen time.Time
}

// NewLimiter creates a limiter for the given endpoint category.
func NewLimiter(category string, cfg LimiterConfig) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultLimiterConfig.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultLimiterConfig.Window
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultLimiterConfig.IdleTimeout
	}
	return &Limiter{
		category: category,
		cfg:      cfg,
		windows:  make(map[string]*identityWindow),
		now:      time.Now,
	}
}

// Admit decides whether a request from the identity may proceed. When
// denied, retryAfter is the exact time until the oldest in-window request
// falls out of the window, never a constant guess.
func (l *Limiter) Admit(key string) (allowed bool, retryAfter time.Duration) {
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &identityWindow{}
		l.windows[key] = w
	}
	w.lastSeen = now

	// Drop timestamps that have slid out of the window.
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = w.stamps[i:]
	}

	if len(w.stamps) >= l.cfg.MaxRequests {
		metrics.RateLimitDeniedTotal.WithLabelValues(l.category).Inc()
		return false, w.stamps[0].Add(l.cfg.Window).Sub(now)
	}

	w.stamps = append(w.stamps, now)
	return true, 0
}

// Run evicts idle identity windows until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *Limiter) evictIdle() {
	cutoff := l.now().Add(-l.cfg.IdleTimeout)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if w.lastSeen.Before(cutoff) {
			delete(l.windows, key)
		}
	}
}

// Size returns the number of tracked identities.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
