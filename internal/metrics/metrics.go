package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderCallsTotal tracks outbound provider calls by outcome
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talenti_provider_calls_total",
			Help: "Total number of outbound provider calls",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks provider call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talenti_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// RetryAttemptsTotal tracks retry attempts beyond the first call
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talenti_retry_attempts_total",
			Help: "Total number of retry attempts per provider",
		},
		[]string{"provider"},
	)

	// BreakerState exposes breaker state (0=closed, 1=half-open, 2=open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "talenti_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)

	// BreakerTripsTotal tracks CLOSED/HALF_OPEN to OPEN transitions
	BreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talenti_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"dependency"},
	)

	// RateLimitDeniedTotal tracks denied inbound requests
	RateLimitDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talenti_rate_limit_denied_total",
			Help: "Total number of rate-limited inbound requests",
		},
		[]string{"category"},
	)

	// SessionsActive tracks currently active interview sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "talenti_sessions_active",
			Help: "Number of active interview sessions",
		},
	)

	// SessionTransitionsTotal tracks session state transitions
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talenti_session_transitions_total",
			Help: "Total number of session state transitions",
		},
		[]string{"state"},
	)

	// WebhookEventsTotal tracks inbound webhook events by type and result
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talenti_webhook_events_total",
			Help: "Total number of inbound webhook events",
		},
		[]string{"type", "status"},
	)

	// TranscriptSegmentsTotal tracks appended transcript segments
	TranscriptSegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talenti_transcript_segments_total",
			Help: "Total number of transcript segments appended",
		},
		[]string{"speaker"},
	)
)
