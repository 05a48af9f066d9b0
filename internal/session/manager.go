package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/provider"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/storage"
	"github.com/dcava30/Talenti-MVP-sub000/internal/metrics"
)

// Config holds the dependencies and tuning for one session manager.
type Config struct {
	Interview   *domain.Interview
	CallbackURL string

	Providers   *provider.Clients
	Interviews  storage.InterviewRepository
	Transcripts storage.TranscriptRepository

	SystemPrompt    string
	QueueSize       int
	RecordingLinger time.Duration // how long to wait for recording.ready after ENDED

	Log *slog.Logger
}

// Outbound is a message for the candidate-facing WebSocket channel. Audio
// is sent as a binary frame; everything else as JSON text.
type Outbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Segment   *SegmentPayload `json:"segment,omitempty"`
	Audio     []byte          `json:"-"`
}

// SegmentPayload is the wire form of a transcript segment.
type SegmentPayload struct {
	Speaker     string   `json:"speaker"`
	Content     string   `json:"content"`
	StartTimeMs int64    `json:"start_time_ms"`
	EndTimeMs   *int64   `json:"end_time_ms,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

type envelopeKind int

const (
	kindStart envelopeKind = iota
	kindEnd
	kindRespond
	kindEvent
	kindAudio
)

type envelope struct {
	kind  envelopeKind
	event domain.ProviderEvent
	audio []byte
}

// Manager owns the state machine for one interview's live call and
// transcription session. All mutation happens on the single worker
// goroutine running Run; other goroutines only enqueue into the inbox or
// read snapshots.
type Manager struct {
	id  string
	cfg Config
	log *slog.Logger

	inbox    chan envelope
	outbound chan Outbound
	done     chan struct{}

	// Worker-owned state. Never touched off the worker goroutine.
	state               domain.SessionState
	callConnectionID    string
	recordingID         string
	recordingIncomplete bool
	segments            []*domain.TranscriptSegment
	history             []provider.Message
	stream              provider.RecognitionStream
	recogErrors         int
	seq                 int
	lastMs              int64
	startedAt           *time.Time
	endedAt             *time.Time
	seenEvents          map[string]struct{}

	mu             sync.RWMutex
	snap           domain.SessionSnapshot
	transcriptView []domain.TranscriptSegment
}

// NewManager creates a session manager for the interview. The session id is
// the interview id; it doubles as the webhook correlation id.
func NewManager(cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RecordingLinger <= 0 {
		cfg.RecordingLinger = 30 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		id:         cfg.Interview.ID,
		cfg:        cfg,
		log:        log.With("session", cfg.Interview.ID),
		inbox:      make(chan envelope, cfg.QueueSize),
		outbound:   make(chan Outbound, cfg.QueueSize),
		done:       make(chan struct{}),
		state:      domain.SessionCreated,
		seenEvents: make(map[string]struct{}),
	}
	m.publishSnapshot()
	return m
}

// ID returns the session id (= interview id = correlation id).
func (m *Manager) ID() string { return m.id }

// Start enqueues the explicit "start interview" command.
func (m *Manager) Start() { m.enqueue(envelope{kind: kindStart}) }

// End enqueues the explicit "end interview" command.
func (m *Manager) End() { m.enqueue(envelope{kind: kindEnd}) }

// RequestResponse asks the AI interviewer to produce its next turn.
func (m *Manager) RequestResponse() { m.enqueue(envelope{kind: kindRespond}) }

// DeliverEvent hands an inbound provider event to the session worker.
// Returns false when the inbox is full; the webhook is acked either way.
func (m *Manager) DeliverEvent(ev domain.ProviderEvent) bool {
	return m.enqueue(envelope{kind: kindEvent, event: ev})
}

// PushAudio hands an inbound audio chunk to the session worker. Chunks are
// dropped when the inbox is full: audio is latency-sensitive, a backlog is
// worse than a gap.
func (m *Manager) PushAudio(chunk []byte) bool {
	return m.enqueue(envelope{kind: kindAudio, audio: chunk})
}

// Outbound is the candidate-facing message stream consumed by the
// WebSocket handler.
func (m *Manager) Outbound() <-chan Outbound { return m.outbound }

// Done closes when the worker has exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Snapshot returns a consistent read-only view of the session.
func (m *Manager) Snapshot() domain.SessionSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *Manager) enqueue(env envelope) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.inbox <- env:
		return true
	default:
		m.log.Warn("Session inbox full, dropping input", "kind", env.kind)
		return false
	}
}

// Run is the session worker loop. Exactly one goroutine runs it per
// session; it exits once the session is terminal (after a short linger for
// the recording.ready event) or the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.closeStream()

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	var linger <-chan time.Time

	for {
		var recogEvents <-chan domain.RecognizedSpeech
		var recogErrs <-chan error
		if m.stream != nil {
			recogEvents = m.stream.Events()
			recogErrs = m.stream.Errs()
		}

		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()

		case <-linger:
			return nil

		case env := <-m.inbox:
			m.handle(ctx, env)

		case ev, ok := <-recogEvents:
			if !ok {
				m.stream = nil
				continue
			}
			m.onRecognized(ctx, ev)

		case err, ok := <-recogErrs:
			if !ok {
				continue
			}
			m.onStreamError(ctx, err)
		}

		if m.state.Terminal() && linger == nil {
			if m.state == domain.SessionEnded && m.recordingID != "" {
				// Keep draining briefly so a trailing recording.ready
				// still gets archived.
				linger = time.After(m.cfg.RecordingLinger)
			} else {
				return nil
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, env envelope) {
	switch env.kind {
	case kindStart:
		m.onStart(ctx)
	case kindEnd:
		m.onEnd(ctx)
	case kindRespond:
		m.onRespond(ctx)
	case kindAudio:
		m.onAudio(ctx, env.audio)
	case kindEvent:
		m.onEvent(ctx, env.event)
	}
}

// shutdown runs when the process context is cancelled mid-session: drain to
// a terminal state with a bounded background context so the critical stop
// sequence still completes.
func (m *Manager) shutdown() {
	if m.state.Terminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if m.state == domain.SessionLive || m.state == domain.SessionEnding {
		m.finalize(ctx, false)
		return
	}
	m.fail(ctx, "shutdown before session was live")
}

func (m *Manager) setState(s domain.SessionState) {
	if m.state == s {
		return
	}
	m.log.Info("Session state transition", "from", m.state, "to", s)
	m.state = s
	metrics.SessionTransitionsTotal.WithLabelValues(string(s)).Inc()
	m.publishSnapshot()
}

func (m *Manager) publishSnapshot() {
	snap := domain.SessionSnapshot{
		SessionID:           m.id,
		State:               m.state,
		CallConnectionID:    m.callConnectionID,
		RecordingID:         m.recordingID,
		RecordingIncomplete: m.recordingIncomplete,
		SegmentCount:        len(m.segments),
		StartedAt:           m.startedAt,
		EndedAt:             m.endedAt,
	}
	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}

func (m *Manager) send(out Outbound) {
	out.SessionID = m.id
	select {
	case m.outbound <- out:
	default:
		// No listener or a slow one; the channel is advisory, never
		// allowed to block the worker.
	}
}

func (m *Manager) closeStream() {
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
}
