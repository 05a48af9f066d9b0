package domain

import "time"

// EventType classifies inbound provider webhook events.
type EventType string

const (
	EventCallConnected     EventType = "call.connected"
	EventCallDisconnected  EventType = "call.disconnected"
	EventRecordingReady    EventType = "recording.ready"
	EventRecordingFailed   EventType = "recording.failed"
	EventRecognitionFailed EventType = "recognition.failed"
)

// ProviderEvent is one normalized webhook event. CorrelationID links it to
// an InterviewSession; delivery is at-least-once, so ID is used for dedup.
type ProviderEvent struct {
	ID            string
	Type          EventType
	CorrelationID string
	Data          map[string]any
	EventTime     time.Time
}

// RecognizedSpeech is a recognized-text event from the speech push stream.
type RecognizedSpeech struct {
	Text       string
	OffsetMs   int64
	DurationMs int64
	Confidence float64
}
