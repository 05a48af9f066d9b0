package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
	"github.com/dcava30/Talenti-MVP-sub000/internal/metrics"
)

// DedupStore answers whether a webhook event id was already processed,
// marking it as processed in the same call. Redis-backed in production,
// in-memory otherwise.
type DedupStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// Router demultiplexes inbound provider events to session managers by
// correlation id. It holds the only session table; sessions register at
// start and are removed when their worker exits. The router never mutates
// session state directly, it only enqueues.
type Router struct {
	mu       sync.RWMutex
	sessions map[string]*Manager

	dedup DedupStore
	log   *slog.Logger
}

// NewRouter creates an event router. dedup may be nil.
func NewRouter(dedup DedupStore, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		sessions: make(map[string]*Manager),
		dedup:    dedup,
		log:      log,
	}
}

// Register adds a session to the routing table. It refuses a session id
// that is already registered and reports whether the session was admitted.
// Checking and inserting under one lock is what keeps two concurrent starts
// for the same interview from both spawning workers.
func (r *Router) Register(m *Manager) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[m.ID()]; ok {
		return false
	}
	r.sessions[m.ID()] = m
	return true
}

// Remove drops a session from the routing table.
func (r *Router) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get looks up an active session.
func (r *Router) Get(id string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[id]
	return m, ok
}

// Active returns the number of registered sessions.
func (r *Router) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Route delivers one event to the owning session. It always acks: unknown
// correlation ids and full inboxes are logged, never surfaced as webhook
// failures, to honor the provider's at-least-once delivery contract.
func (r *Router) Route(ctx context.Context, ev domain.ProviderEvent) {
	if r.dedup != nil && ev.ID != "" {
		seen, err := r.dedup.Seen(ctx, ev.ID)
		if err != nil {
			// Dedup store down: deliver anyway, the session's own event
			// id check keeps redelivery harmless.
			r.log.Warn("Dedup store unavailable", "error", err)
		} else if seen {
			metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type), "duplicate").Inc()
			r.log.Debug("Duplicate event dropped", "event_id", ev.ID, "type", ev.Type)
			return
		}
	}

	m, ok := r.Get(ev.CorrelationID)
	if !ok {
		metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type), "orphan").Inc()
		r.log.Info("Event for unknown session acknowledged",
			"correlation_id", ev.CorrelationID, "type", ev.Type)
		return
	}

	if !m.DeliverEvent(ev) {
		metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type), "dropped").Inc()
		r.log.Warn("Session inbox full, event dropped",
			"correlation_id", ev.CorrelationID, "type", ev.Type)
		return
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type), "routed").Inc()
}

// Snapshots returns a view of every active session for health output.
func (r *Router) Snapshots() []domain.SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SessionSnapshot, 0, len(r.sessions))
	for _, m := range r.sessions {
		out = append(out, m.Snapshot())
	}
	return out
}
