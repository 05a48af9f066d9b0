package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/provider"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/storage"
	"github.com/dcava30/Talenti-MVP-sub000/internal/metrics"
)

const maxConsecutiveRecognitionErrors = 3

// onStart handles the explicit "start interview" command.
func (m *Manager) onStart(ctx context.Context) {
	if m.state != domain.SessionCreated {
		m.log.Debug("Start ignored", "state", m.state)
		return
	}
	m.setState(domain.SessionConnecting)

	callID, err := m.cfg.Providers.Call.CreateCall(ctx, m.cfg.Interview.PhoneNumber, m.cfg.CallbackURL)
	if err != nil {
		// Call setup is the critical path: retry exhaustion or an open
		// breaker here means the session cannot proceed.
		m.log.Error("Call creation failed", "error", err)
		m.fail(ctx, "could not establish the interview call")
		return
	}
	m.callConnectionID = callID
	m.publishSnapshot()
	m.log.Info("Call created", "call_connection_id", callID)
}

// onEvent handles one inbound provider webhook event. Transitions are
// guarded: events that do not match the current state are no-ops or
// explicit failures, never blind transitions.
func (m *Manager) onEvent(ctx context.Context, ev domain.ProviderEvent) {
	if ev.ID != "" {
		if _, seen := m.seenEvents[ev.ID]; seen {
			m.log.Debug("Duplicate event delivery ignored", "event_id", ev.ID, "type", ev.Type)
			return
		}
		m.seenEvents[ev.ID] = struct{}{}
	}

	switch ev.Type {
	case domain.EventCallConnected:
		m.onCallConnected(ctx)
	case domain.EventCallDisconnected:
		m.onCallDisconnected(ctx)
	case domain.EventRecordingReady:
		m.onRecordingReady(ctx, ev)
	case domain.EventRecordingFailed:
		m.recordingIncomplete = true
		m.publishSnapshot()
		m.log.Warn("Recording failed on provider side")
	case domain.EventRecognitionFailed:
		m.onStreamError(ctx, fmt.Errorf("provider reported recognition failure"))
	default:
		m.log.Debug("Unhandled event type", "type", ev.Type)
	}
}

func (m *Manager) onCallConnected(ctx context.Context) {
	switch m.state {
	case domain.SessionConnecting:
		m.goLive(ctx)
	default:
		// Late or duplicate delivery; the target state was already
		// reached or passed.
		m.log.Debug("call.connected ignored", "state", m.state)
	}
}

func (m *Manager) onCallDisconnected(ctx context.Context) {
	switch m.state {
	case domain.SessionLive:
		m.finalize(ctx, false)
	case domain.SessionCreated, domain.SessionConnecting:
		// The call dropped before the session ever went live.
		m.fail(ctx, "call disconnected before the session was live")
	default:
		m.log.Debug("call.disconnected ignored", "state", m.state)
	}
}

// goLive transitions CONNECTING -> LIVE: starts recording and opens the
// recognition push stream.
func (m *Manager) goLive(ctx context.Context) {
	now := time.Now()
	m.startedAt = &now
	m.setState(domain.SessionLive)

	m.persistStatus(ctx, storage.StatusUpdate{
		Status:    domain.InterviewInProgress,
		StartedAt: m.startedAt,
	})

	// Recording is a non-critical side effect: a session without a
	// recording is degraded, not dead.
	recID, err := m.cfg.Providers.Call.StartRecording(ctx, m.callConnectionID)
	if err != nil {
		m.log.Warn("Failed to start recording", "error", err)
		m.recordingIncomplete = true
	} else {
		m.recordingID = recID
		m.log.Info("Recording started", "recording_id", recID)
	}
	m.publishSnapshot()

	m.openStream(ctx)

	if m.cfg.SystemPrompt != "" {
		m.history = append(m.history, provider.Message{Role: "system", Content: m.cfg.SystemPrompt})
	}

	m.send(Outbound{Type: "session_started"})
}

func (m *Manager) openStream(ctx context.Context) {
	stream, err := m.cfg.Providers.Speech.OpenRecognitionStream(ctx, m.id)
	if err != nil {
		m.log.Warn("Failed to open recognition stream", "error", err)
		m.onStreamError(ctx, err)
		return
	}
	m.stream = stream
	m.recogErrors = 0
}

// onAudio pushes one candidate audio chunk to the speech provider.
func (m *Manager) onAudio(ctx context.Context, chunk []byte) {
	if m.state != domain.SessionLive {
		return
	}
	if m.stream == nil {
		m.openStream(ctx)
		if m.stream == nil {
			return
		}
	}
	if err := m.stream.PushAudio(ctx, chunk); err != nil {
		m.onStreamError(ctx, err)
	}
}

// onRecognized appends a candidate transcript segment for one recognized
// utterance.
func (m *Manager) onRecognized(ctx context.Context, ev domain.RecognizedSpeech) {
	if m.state != domain.SessionLive {
		return
	}
	m.recogErrors = 0

	end := ev.OffsetMs + ev.DurationMs
	conf := ev.Confidence
	seg := &domain.TranscriptSegment{
		ID:          uuid.NewString(),
		InterviewID: m.id,
		Speaker:     domain.SpeakerCandidate,
		Content:     ev.Text,
		StartTimeMs: ev.OffsetMs,
		EndTimeMs:   &end,
		Confidence:  &conf,
	}
	m.appendSegment(ctx, seg)
	if end > m.lastMs {
		m.lastMs = end
	}
	m.history = append(m.history, provider.Message{Role: "user", Content: ev.Text})
}

// onRespond asks the AI interviewer for its next turn and appends it as an
// interviewer segment.
func (m *Manager) onRespond(ctx context.Context) {
	if m.state != domain.SessionLive {
		m.log.Debug("AI response request ignored", "state", m.state)
		return
	}

	text, err := m.cfg.Providers.AI.Complete(ctx, m.history)
	if err != nil {
		// Not critical path: the session stays live, the candidate gets
		// a generic error without provider internals.
		m.log.Warn("AI completion failed", "error", err)
		if errors.Is(err, domain.ErrCircuitOpen) {
			m.send(Outbound{Type: "error", Message: "interviewer is temporarily unavailable"})
		} else {
			m.send(Outbound{Type: "error", Message: "could not generate a response"})
		}
		return
	}

	m.lastMs++
	seg := &domain.TranscriptSegment{
		ID:          uuid.NewString(),
		InterviewID: m.id,
		Speaker:     domain.SpeakerInterviewer,
		Content:     text,
		StartTimeMs: m.lastMs,
	}
	m.appendSegment(ctx, seg)
	m.history = append(m.history, provider.Message{Role: "assistant", Content: text})

	// Synthesis is best-effort; the text segment already went out.
	audio, err := m.cfg.Providers.Speech.Synthesize(ctx, text)
	if err != nil {
		m.log.Warn("Synthesis failed", "error", err)
		return
	}
	m.send(Outbound{Type: "audio", Audio: audio})
}

// onStreamError counts consecutive recognition-stream failures; the third
// one is critical and fails the session.
func (m *Manager) onStreamError(ctx context.Context, err error) {
	if m.state.Terminal() {
		return
	}
	m.recogErrors++
	m.log.Warn("Recognition stream error", "error", err, "consecutive", m.recogErrors)

	if m.recogErrors >= maxConsecutiveRecognitionErrors {
		m.closeStream()
		m.fail(ctx, "speech recognition is unavailable")
	}
}

// onEnd handles the explicit "end interview" command.
func (m *Manager) onEnd(ctx context.Context) {
	switch m.state {
	case domain.SessionCreated:
		// Nothing was started; terminal without provider work.
		now := time.Now()
		m.endedAt = &now
		m.setState(domain.SessionEnded)
		m.send(Outbound{Type: "session_ended"})
	case domain.SessionConnecting, domain.SessionLive:
		m.finalize(ctx, true)
	default:
		m.log.Debug("End ignored", "state", m.state)
	}
}

// finalize drives ENDING -> ENDED: abandon audio, stop the recording,
// flush the transcript. Recording-stop failure never blocks termination;
// flush failure is critical path and fails the session instead.
func (m *Manager) finalize(ctx context.Context, hangup bool) {
	m.setState(domain.SessionEnding)

	// Abandon further audio pushes immediately.
	m.closeStream()

	if m.recordingID != "" {
		if err := m.cfg.Providers.Call.StopRecording(ctx, m.recordingID); err != nil {
			m.log.Warn("Failed to stop recording", "error", err)
			m.recordingIncomplete = true
		}
	}

	if hangup && m.callConnectionID != "" {
		if err := m.cfg.Providers.Call.HangUp(ctx, m.callConnectionID); err != nil {
			m.log.Warn("Hang-up failed", "error", err)
		}
	}

	if err := m.flush(ctx); err != nil {
		m.log.Error("Final transcript flush failed", "error", err)
		m.fail(ctx, "could not finalize the interview")
		return
	}

	now := time.Now()
	m.endedAt = &now
	m.setState(domain.SessionEnded)
	m.send(Outbound{Type: "session_ended"})
}

// flush persists the full transcript and the terminal interview status.
func (m *Manager) flush(ctx context.Context) error {
	if err := m.cfg.Transcripts.SaveBatch(ctx, m.segments); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	now := time.Now()
	if err := m.cfg.Interviews.UpdateStatus(ctx, m.id, storage.StatusUpdate{
		Status:  domain.InterviewCompleted,
		EndedAt: &now,
	}); err != nil {
		return fmt.Errorf("update interview status: %w", err)
	}
	return nil
}

// fail transitions to the terminal FAILED state. Reported upstream once,
// never retried.
func (m *Manager) fail(ctx context.Context, reason string) {
	if m.state.Terminal() {
		return
	}
	m.closeStream()
	now := time.Now()
	m.endedAt = &now

	m.persistStatus(ctx, storage.StatusUpdate{
		Status:  domain.InterviewFailed,
		EndedAt: &now,
	})

	m.setState(domain.SessionFailed)
	m.send(Outbound{Type: "error", Message: reason})
}

// onRecordingReady archives the finished recording: download from the call
// provider, upload to blob storage, persist the blob URL.
func (m *Manager) onRecordingReady(ctx context.Context, ev domain.ProviderEvent) {
	recID := m.recordingID
	if v, ok := ev.Data["recordingId"].(string); ok && v != "" {
		recID = v
	}
	if recID == "" {
		m.log.Warn("recording.ready without a recording id")
		return
	}

	data, err := m.cfg.Providers.Call.DownloadRecording(ctx, recID)
	if err != nil {
		m.log.Warn("Failed to download recording", "recording_id", recID, "error", err)
		return
	}

	url, err := m.cfg.Providers.Blob.Upload(ctx, fmt.Sprintf("recordings/%s.wav", m.id), data)
	if err != nil {
		m.log.Warn("Failed to archive recording", "recording_id", recID, "error", err)
		return
	}

	m.persistStatus(ctx, storage.StatusUpdate{
		Status:       m.interviewStatus(),
		RecordingID:  &recID,
		RecordingURL: &url,
	})
	m.log.Info("Recording archived", "recording_id", recID, "url", url)
}

func (m *Manager) interviewStatus() domain.InterviewStatus {
	switch m.state {
	case domain.SessionEnded:
		return domain.InterviewCompleted
	case domain.SessionFailed:
		return domain.InterviewFailed
	default:
		return domain.InterviewInProgress
	}
}

// appendSegment appends to the in-memory transcript, persists, and notifies
// the candidate channel. Ordering key is StartTimeMs with Seq as tiebreak.
func (m *Manager) appendSegment(ctx context.Context, seg *domain.TranscriptSegment) {
	m.seq++
	seg.Seq = m.seq
	m.segments = append(m.segments, seg)
	metrics.TranscriptSegmentsTotal.WithLabelValues(string(seg.Speaker)).Inc()

	m.mu.Lock()
	m.transcriptView = append(m.transcriptView, *seg)
	m.mu.Unlock()
	m.publishSnapshot()

	if err := m.cfg.Transcripts.SaveSegment(ctx, seg); err != nil {
		// The final flush re-saves the whole transcript; a single failed
		// append is not critical.
		m.log.Warn("Failed to persist transcript segment", "error", err)
	}

	m.send(Outbound{
		Type: "transcript_segment",
		Segment: &SegmentPayload{
			Speaker:     string(seg.Speaker),
			Content:     seg.Content,
			StartTimeMs: seg.StartTimeMs,
			EndTimeMs:   seg.EndTimeMs,
			Confidence:  seg.Confidence,
		},
	})
}

// Transcript returns the ordered transcript accumulated so far. Safe to
// call off the worker goroutine: returns copies.
func (m *Manager) Transcript() []domain.TranscriptSegment {
	m.mu.RLock()
	out := make([]domain.TranscriptSegment, len(m.transcriptView))
	copy(out, m.transcriptView)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartTimeMs != out[j].StartTimeMs {
			return out[i].StartTimeMs < out[j].StartTimeMs
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (m *Manager) persistStatus(ctx context.Context, update storage.StatusUpdate) {
	if err := m.cfg.Interviews.UpdateStatus(ctx, m.id, update); err != nil {
		m.log.Warn("Failed to persist interview status", "error", err)
	}
}
