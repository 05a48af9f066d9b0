package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/provider"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/storage/memory"
)

// ---------------------------------------------------------------------------
// Provider fakes
// ---------------------------------------------------------------------------

type fakeStream struct {
	events  chan domain.RecognizedSpeech
	errs    chan error
	pushErr error

	mu     sync.Mutex
	pushed [][]byte
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan domain.RecognizedSpeech, 16),
		errs:   make(chan error, 4),
	}
}

func (s *fakeStream) PushAudio(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushed = append(s.pushed, chunk)
	return nil
}

func (s *fakeStream) Events() <-chan domain.RecognizedSpeech { return s.events }
func (s *fakeStream) Errs() <-chan error                     { return s.errs }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeSpeech struct {
	stream  *fakeStream
	openErr error
	synth   []byte
	synErr  error
}

func (f *fakeSpeech) OpenRecognitionStream(ctx context.Context, sessionID string) (provider.RecognitionStream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if f.synErr != nil {
		return nil, f.synErr
	}
	return f.synth, nil
}

type fakeAI struct {
	responses []string
	err       error
	calls     int
}

func (f *fakeAI) Complete(ctx context.Context, messages []provider.Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "next question", nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeAI) CompleteStream(ctx context.Context, messages []provider.Message, onChunk func(string) error) error {
	text, err := f.Complete(ctx, messages)
	if err != nil {
		return err
	}
	return onChunk(text)
}

type fakeCall struct {
	createErr error
	startErr  error
	stopErr   error

	created  int
	hangUps  int
	stopped  int
	download []byte
	dlErr    error
}

func (f *fakeCall) CreateCall(ctx context.Context, target, callbackURL string) (string, error) {
	f.created++
	if f.createErr != nil {
		return "", f.createErr
	}
	return "call-1", nil
}

func (f *fakeCall) HangUp(ctx context.Context, id string) error {
	f.hangUps++
	return nil
}

func (f *fakeCall) StartRecording(ctx context.Context, id string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "rec-1", nil
}

func (f *fakeCall) StopRecording(ctx context.Context, id string) error {
	f.stopped++
	return f.stopErr
}

func (f *fakeCall) PauseRecording(ctx context.Context, id string) error  { return nil }
func (f *fakeCall) ResumeRecording(ctx context.Context, id string) error { return nil }

func (f *fakeCall) DownloadRecording(ctx context.Context, id string) ([]byte, error) {
	if f.dlErr != nil {
		return nil, f.dlErr
	}
	return f.download, nil
}

type fakeBlob struct {
	mu      sync.Mutex
	uploads map[string][]byte
	err     error
}

func (f *fakeBlob) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[name] = data
	return "https://blob.example/" + name, nil
}

func (f *fakeBlob) Download(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[name], nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type env struct {
	m      *Manager
	store  *memory.MemoryStorage
	speech *fakeSpeech
	ai     *fakeAI
	call   *fakeCall
	blob   *fakeBlob
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewMemoryStorage()
	store.Seed(&domain.Interview{
		ID:            "iv-1",
		CandidateName: "Jordan",
		RoleTitle:     "Backend Engineer",
		PhoneNumber:   "+15550100",
		Status:        domain.InterviewScheduled,
	})

	e := &env{
		store:  store,
		speech: &fakeSpeech{stream: newFakeStream(), synth: []byte("pcm")},
		ai:     &fakeAI{},
		call:   &fakeCall{download: []byte("wav")},
		blob:   &fakeBlob{},
	}
	e.m = NewManager(Config{
		Interview:   &domain.Interview{ID: "iv-1", PhoneNumber: "+15550100", Status: domain.InterviewScheduled},
		CallbackURL: "https://api.example/webhook/events",
		Providers: &provider.Clients{
			Speech: e.speech,
			AI:     e.ai,
			Call:   e.call,
			Blob:   e.blob,
		},
		Interviews:      memory.NewInterviewRepo(store),
		Transcripts:     memory.NewTranscriptRepo(store),
		SystemPrompt:    "You are an interviewer.",
		QueueSize:       32,
		RecordingLinger: 10 * time.Millisecond,
	})
	return e
}

func (e *env) event(id string, typ domain.EventType) {
	e.m.onEvent(context.Background(), domain.ProviderEvent{
		ID:            id,
		Type:          typ,
		CorrelationID: e.m.ID(),
		EventTime:     time.Now(),
	})
}

func (e *env) goLive(t *testing.T) {
	t.Helper()
	e.m.onStart(context.Background())
	e.event("ev-connect", domain.EventCallConnected)
	if e.m.state != domain.SessionLive {
		t.Fatalf("state = %s, want %s", e.m.state, domain.SessionLive)
	}
}

func (e *env) interview(t *testing.T) *domain.Interview {
	t.Helper()
	iv, err := memory.NewInterviewRepo(e.store).Get(context.Background(), "iv-1")
	if err != nil {
		t.Fatalf("get interview: %v", err)
	}
	return iv
}

func drainOutbound(m *Manager) []Outbound {
	var out []Outbound
	for {
		select {
		case msg := <-m.outbound:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

func TestStartCreatesCall(t *testing.T) {
	e := newTestEnv(t)
	e.m.onStart(context.Background())

	if e.m.state != domain.SessionConnecting {
		t.Errorf("state = %s, want %s", e.m.state, domain.SessionConnecting)
	}
	if e.m.callConnectionID != "call-1" {
		t.Errorf("callConnectionID = %q, want call-1", e.m.callConnectionID)
	}
	if e.call.created != 1 {
		t.Errorf("CreateCall calls = %d, want 1", e.call.created)
	}
}

func TestStartCallFailureFailsSession(t *testing.T) {
	e := newTestEnv(t)
	e.call.createErr = fmt.Errorf("provider down")

	e.m.onStart(context.Background())

	if e.m.state != domain.SessionFailed {
		t.Fatalf("state = %s, want %s", e.m.state, domain.SessionFailed)
	}
	if got := e.interview(t).Status; got != domain.InterviewFailed {
		t.Errorf("interview status = %s, want %s", got, domain.InterviewFailed)
	}
}

func TestCallConnectedIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	startedAt := e.m.startedAt

	// Same event id redelivered, then a distinct late duplicate.
	e.event("ev-connect", domain.EventCallConnected)
	e.event("ev-connect-2", domain.EventCallConnected)

	if e.m.state != domain.SessionLive {
		t.Errorf("state = %s, want %s", e.m.state, domain.SessionLive)
	}
	if e.m.startedAt != startedAt {
		t.Error("duplicate call.connected restarted the session")
	}
}

func TestDisconnectBeforeLiveFailsSession(t *testing.T) {
	e := newTestEnv(t)
	e.m.onStart(context.Background())
	e.event("ev-disc", domain.EventCallDisconnected)

	if e.m.state != domain.SessionFailed {
		t.Errorf("state = %s, want %s", e.m.state, domain.SessionFailed)
	}
}

func TestDisconnectWhileLiveEndsSession(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	e.event("ev-disc", domain.EventCallDisconnected)

	if e.m.state != domain.SessionEnded {
		t.Errorf("state = %s, want %s", e.m.state, domain.SessionEnded)
	}
	// Disconnect means there is no call left to hang up.
	if e.call.hangUps != 0 {
		t.Errorf("hangUps = %d, want 0", e.call.hangUps)
	}
}

func TestEndBeforeStartTerminatesDirectly(t *testing.T) {
	e := newTestEnv(t)
	e.m.onEnd(context.Background())

	if e.m.state != domain.SessionEnded {
		t.Errorf("state = %s, want %s", e.m.state, domain.SessionEnded)
	}
	if e.call.created != 0 || e.call.stopped != 0 {
		t.Error("provider calls made for a session that never started")
	}
}

// ---------------------------------------------------------------------------
// Transcript
// ---------------------------------------------------------------------------

func TestInterleavedTranscriptOrdering(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	ctx := context.Background()

	utterances := []struct {
		text   string
		offset int64
	}{
		{"Hello, I'm ready.", 1000},
		{"I have five years of Go experience.", 5000},
		{"Mostly backend services.", 9000},
		{"Yes, with Postgres and Redis.", 14000},
		{"Thank you.", 20000},
	}

	e.ai.responses = []string{"Tell me about your experience.", "What databases have you used?"}

	for i, u := range utterances {
		e.m.onRecognized(ctx, domain.RecognizedSpeech{
			Text:       u.text,
			OffsetMs:   u.offset,
			DurationMs: 900,
			Confidence: 0.95,
		})
		// AI turns are requested after the second and fourth answers.
		if i == 1 || i == 3 {
			e.m.onRespond(ctx)
		}
	}

	e.m.onEnd(ctx)
	if e.m.state != domain.SessionEnded {
		t.Fatalf("state = %s, want %s", e.m.state, domain.SessionEnded)
	}
	if e.m.recordingIncomplete {
		t.Error("recordingIncomplete = true, want false")
	}

	segs := e.m.Transcript()
	if len(segs) != 7 {
		t.Fatalf("segments = %d, want 7", len(segs))
	}

	wantSpeakers := []domain.Speaker{
		domain.SpeakerCandidate,
		domain.SpeakerCandidate,
		domain.SpeakerInterviewer,
		domain.SpeakerCandidate,
		domain.SpeakerCandidate,
		domain.SpeakerInterviewer,
		domain.SpeakerCandidate,
	}
	for i, want := range wantSpeakers {
		if segs[i].Speaker != want {
			t.Errorf("segment %d speaker = %s, want %s (%q)", i, segs[i].Speaker, want, segs[i].Content)
		}
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].StartTimeMs < segs[i-1].StartTimeMs {
			t.Errorf("segment %d out of order: %d < %d", i, segs[i].StartTimeMs, segs[i-1].StartTimeMs)
		}
	}

	// Flush persisted everything with terminal status.
	stored, err := memory.NewTranscriptRepo(e.store).ListByInterview(context.Background(), "iv-1")
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(stored) != 7 {
		t.Errorf("persisted segments = %d, want 7", len(stored))
	}
	if got := e.interview(t).Status; got != domain.InterviewCompleted {
		t.Errorf("interview status = %s, want %s", got, domain.InterviewCompleted)
	}
}

func TestRecognizedSpeechFeedsAIHistory(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	ctx := context.Background()

	e.m.onRecognized(ctx, domain.RecognizedSpeech{Text: "I like Go.", OffsetMs: 100, DurationMs: 500, Confidence: 0.9})
	e.m.onRespond(ctx)

	// system prompt + user turn + assistant turn
	if len(e.m.history) != 3 {
		t.Fatalf("history length = %d, want 3", len(e.m.history))
	}
	if e.m.history[0].Role != "system" || e.m.history[1].Role != "user" || e.m.history[2].Role != "assistant" {
		t.Errorf("history roles = %s/%s/%s", e.m.history[0].Role, e.m.history[1].Role, e.m.history[2].Role)
	}
}

// ---------------------------------------------------------------------------
// Degraded provider behavior
// ---------------------------------------------------------------------------

func TestAIFailureKeepsSessionLive(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	drainOutbound(e.m)

	e.ai.err = fmt.Errorf("completion failed")
	e.m.onRespond(context.Background())

	if e.m.state != domain.SessionLive {
		t.Errorf("state = %s, want %s", e.m.state, domain.SessionLive)
	}
	if len(e.m.segments) != 0 {
		t.Errorf("segments = %d, want 0", len(e.m.segments))
	}
	out := drainOutbound(e.m)
	if len(out) != 1 || out[0].Type != "error" {
		t.Fatalf("outbound = %+v, want one error message", out)
	}
	if out[0].Message != "could not generate a response" {
		t.Errorf("message = %q leaks provider detail", out[0].Message)
	}
}

func TestAICircuitOpenMessage(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	drainOutbound(e.m)

	e.ai.err = fmt.Errorf("ai: %w", domain.ErrCircuitOpen)
	e.m.onRespond(context.Background())

	out := drainOutbound(e.m)
	if len(out) != 1 || out[0].Message != "interviewer is temporarily unavailable" {
		t.Fatalf("outbound = %+v, want circuit-open message", out)
	}
}

func TestStartRecordingFailureIsNonCritical(t *testing.T) {
	e := newTestEnv(t)
	e.call.startErr = fmt.Errorf("recording backend down")
	e.goLive(t)

	if e.m.state != domain.SessionLive {
		t.Errorf("state = %s, want %s", e.m.state, domain.SessionLive)
	}
	if !e.m.recordingIncomplete {
		t.Error("recordingIncomplete = false, want true")
	}
}

func TestStopRecordingFailureStillEnds(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	e.call.stopErr = fmt.Errorf("stop failed")

	e.m.onEnd(context.Background())

	if e.m.state != domain.SessionEnded {
		t.Errorf("state = %s, want %s", e.m.state, domain.SessionEnded)
	}
	if !e.m.recordingIncomplete {
		t.Error("recordingIncomplete = false, want true")
	}
	if got := e.interview(t).Status; got != domain.InterviewCompleted {
		t.Errorf("interview status = %s, want %s", got, domain.InterviewCompleted)
	}
}

func TestConsecutiveRecognitionErrorsFailSession(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	ctx := context.Background()

	e.m.onStreamError(ctx, fmt.Errorf("push failed"))
	e.m.onStreamError(ctx, fmt.Errorf("push failed"))
	if e.m.state != domain.SessionLive {
		t.Fatalf("state after 2 errors = %s, want %s", e.m.state, domain.SessionLive)
	}

	e.m.onStreamError(ctx, fmt.Errorf("push failed"))
	if e.m.state != domain.SessionFailed {
		t.Errorf("state after 3 errors = %s, want %s", e.m.state, domain.SessionFailed)
	}
}

func TestRecognizedSpeechResetsErrorCount(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	ctx := context.Background()

	e.m.onStreamError(ctx, fmt.Errorf("push failed"))
	e.m.onStreamError(ctx, fmt.Errorf("push failed"))
	e.m.onRecognized(ctx, domain.RecognizedSpeech{Text: "still here", OffsetMs: 100, DurationMs: 300, Confidence: 0.8})
	e.m.onStreamError(ctx, fmt.Errorf("push failed"))

	if e.m.state != domain.SessionLive {
		t.Errorf("state = %s, want %s", e.m.state, domain.SessionLive)
	}
}

// ---------------------------------------------------------------------------
// Recording archival
// ---------------------------------------------------------------------------

func TestRecordingReadyArchivesToBlob(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	e.m.onEnd(context.Background())

	e.event("ev-rec", domain.EventRecordingReady)

	iv := e.interview(t)
	if iv.RecordingURL == "" {
		t.Fatal("recording URL not persisted")
	}
	if iv.RecordingID != "rec-1" {
		t.Errorf("recording id = %q, want rec-1", iv.RecordingID)
	}
	if _, ok := e.blob.uploads["recordings/iv-1.wav"]; !ok {
		t.Error("recording not uploaded to blob storage")
	}
	if got := iv.Status; got != domain.InterviewCompleted {
		t.Errorf("interview status = %s, want %s", got, domain.InterviewCompleted)
	}
}

func TestRecordingFailedMarksIncomplete(t *testing.T) {
	e := newTestEnv(t)
	e.goLive(t)
	e.event("ev-recfail", domain.EventRecordingFailed)

	if !e.m.recordingIncomplete {
		t.Error("recordingIncomplete = false, want true")
	}
	if e.m.state != domain.SessionLive {
		t.Errorf("state = %s, want %s", e.m.state, domain.SessionLive)
	}
}

// ---------------------------------------------------------------------------
// Worker loop
// ---------------------------------------------------------------------------

func TestWorkerRunsFullLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- e.m.Run(ctx) }()

	e.m.Start()
	if !e.m.DeliverEvent(domain.ProviderEvent{
		ID: "ev-1", Type: domain.EventCallConnected, CorrelationID: "iv-1",
	}) {
		t.Fatal("event not accepted")
	}
	e.m.End()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after end")
	}

	if got := e.m.Snapshot().State; got != domain.SessionEnded {
		t.Errorf("final state = %s, want %s", got, domain.SessionEnded)
	}
}

func TestWorkerDrainsOnContextCancel(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- e.m.Run(ctx) }()

	e.m.Start()
	e.m.DeliverEvent(domain.ProviderEvent{
		ID: "ev-1", Type: domain.EventCallConnected, CorrelationID: "iv-1",
	})

	// Give the worker a moment to reach LIVE before cancelling.
	deadline := time.Now().Add(time.Second)
	for e.m.Snapshot().State != domain.SessionLive {
		if time.Now().After(deadline) {
			t.Fatal("session never went live")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit on cancel")
	}
	if got := e.m.Snapshot().State; !got.Terminal() {
		t.Errorf("state after cancel = %s, want terminal", got)
	}
}

func TestInboxOverflowDropsInput(t *testing.T) {
	store := memory.NewMemoryStorage()
	store.Seed(&domain.Interview{ID: "iv-2", Status: domain.InterviewScheduled})
	m := NewManager(Config{
		Interview:   &domain.Interview{ID: "iv-2"},
		Providers:   &provider.Clients{},
		Interviews:  memory.NewInterviewRepo(store),
		Transcripts: memory.NewTranscriptRepo(store),
		QueueSize:   2,
	})

	// No worker running; the inbox fills and further input is rejected.
	if !m.PushAudio([]byte("a")) || !m.PushAudio([]byte("b")) {
		t.Fatal("inbox rejected input below capacity")
	}
	if m.PushAudio([]byte("c")) {
		t.Error("inbox accepted input beyond capacity")
	}
}
