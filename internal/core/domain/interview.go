package domain

import (
	"time"
)

// SessionState represents the lifecycle state of a live interview session.
type SessionState string

const (
	SessionCreated    SessionState = "created"
	SessionConnecting SessionState = "connecting"
	SessionLive       SessionState = "live"
	SessionEnding     SessionState = "ending"
	SessionEnded      SessionState = "ended"
	SessionFailed     SessionState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionState) Terminal() bool {
	return s == SessionEnded || s == SessionFailed
}

// InterviewStatus is the persisted status of an interview record.
type InterviewStatus string

const (
	InterviewScheduled  InterviewStatus = "scheduled"
	InterviewInProgress InterviewStatus = "in_progress"
	InterviewCompleted  InterviewStatus = "completed"
	InterviewFailed     InterviewStatus = "failed"
)

// Interview is the persisted interview record the session orchestrator
// operates on. CRUD beyond status/transcript updates lives elsewhere.
type Interview struct {
	ID            string
	CandidateName string
	RoleTitle     string
	PhoneNumber   string
	Status        InterviewStatus
	RecordingID   string
	RecordingURL  string
	StartedAt     *time.Time
	EndedAt       *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Speaker identifies who produced a transcript segment.
type Speaker string

const (
	SpeakerInterviewer Speaker = "interviewer"
	SpeakerCandidate   Speaker = "candidate"
)

// TranscriptSegment is one recognized or generated utterance. Segments are
// append-only: once appended they are never mutated, only superseded by a
// later segment.
type TranscriptSegment struct {
	ID          string
	InterviewID string
	Speaker     Speaker
	Content     string
	StartTimeMs int64
	EndTimeMs   *int64   // nil while the utterance is still streaming
	Confidence  *float64 // nil for generated (interviewer) segments
	Seq         int      // insertion order, tiebreak for equal StartTimeMs
}

// SessionSnapshot is a read-only view of a session's state, safe to hand
// across goroutines.
type SessionSnapshot struct {
	SessionID           string
	State               SessionState
	CallConnectionID    string
	RecordingID         string
	RecordingIncomplete bool
	SegmentCount        int
	StartedAt           *time.Time
	EndedAt             *time.Time
}
