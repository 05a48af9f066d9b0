package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

var (
	// ErrInterviewNotFound is returned when an interview id doesn't exist
	ErrInterviewNotFound = errors.New("interview not found")
)

// StatusUpdate carries the interview fields the session orchestrator may
// change. Nil pointers leave the column untouched.
type StatusUpdate struct {
	Status       domain.InterviewStatus
	RecordingID  *string
	RecordingURL *string
	StartedAt    *time.Time
	EndedAt      *time.Time
}

// InterviewRepository handles interview persistence operations
type InterviewRepository interface {
	// Get retrieves an interview by id
	Get(ctx context.Context, id string) (*domain.Interview, error)

	// UpdateStatus updates status and session-owned fields
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error
}

// TranscriptRepository handles transcript segment persistence
type TranscriptRepository interface {
	// SaveSegment appends one segment
	SaveSegment(ctx context.Context, seg *domain.TranscriptSegment) error

	// SaveBatch appends multiple segments
	SaveBatch(ctx context.Context, segs []*domain.TranscriptSegment) error

	// ListByInterview returns segments ordered by start time, then insertion order
	ListByInterview(ctx context.Context, interviewID string) ([]*domain.TranscriptSegment, error)
}
