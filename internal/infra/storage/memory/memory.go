package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/storage"
)

// MemoryStorage backs the repositories with in-process maps. Used for tests
// and local runs without a database.
type MemoryStorage struct {
	interviews map[string]*domain.Interview
	segments   map[string][]*domain.TranscriptSegment
	mu         sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		interviews: make(map[string]*domain.Interview),
		segments:   make(map[string][]*domain.TranscriptSegment),
	}
}

// Seed inserts an interview directly. Test/dev helper.
func (s *MemoryStorage) Seed(iv *domain.Interview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *iv
	s.interviews[iv.ID] = &cp
}

// -----------------------------------------------------------------------------
// Interview Repository
// -----------------------------------------------------------------------------

type InterviewRepo struct {
	store *MemoryStorage
}

func NewInterviewRepo(store *MemoryStorage) *InterviewRepo {
	return &InterviewRepo{store: store}
}

func (r *InterviewRepo) Get(ctx context.Context, id string) (*domain.Interview, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	iv, ok := r.store.interviews[id]
	if !ok {
		return nil, storage.ErrInterviewNotFound
	}
	cp := *iv
	return &cp, nil
}

func (r *InterviewRepo) UpdateStatus(ctx context.Context, id string, update storage.StatusUpdate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	iv, ok := r.store.interviews[id]
	if !ok {
		return storage.ErrInterviewNotFound
	}
	iv.Status = update.Status
	if update.RecordingID != nil {
		iv.RecordingID = *update.RecordingID
	}
	if update.RecordingURL != nil {
		iv.RecordingURL = *update.RecordingURL
	}
	if update.StartedAt != nil {
		iv.StartedAt = update.StartedAt
	}
	if update.EndedAt != nil {
		iv.EndedAt = update.EndedAt
	}
	iv.UpdatedAt = time.Now()
	return nil
}

// -----------------------------------------------------------------------------
// Transcript Repository
// -----------------------------------------------------------------------------

type TranscriptRepo struct {
	store *MemoryStorage
}

func NewTranscriptRepo(store *MemoryStorage) *TranscriptRepo {
	return &TranscriptRepo{store: store}
}

func (r *TranscriptRepo) SaveSegment(ctx context.Context, seg *domain.TranscriptSegment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.segments[seg.InterviewID] {
		if existing.ID == seg.ID {
			return nil // idempotent append
		}
	}
	cp := *seg
	r.store.segments[seg.InterviewID] = append(r.store.segments[seg.InterviewID], &cp)
	return nil
}

func (r *TranscriptRepo) SaveBatch(ctx context.Context, segs []*domain.TranscriptSegment) error {
	for _, seg := range segs {
		if err := r.SaveSegment(ctx, seg); err != nil {
			return err
		}
	}
	return nil
}

func (r *TranscriptRepo) ListByInterview(ctx context.Context, interviewID string) ([]*domain.TranscriptSegment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	segs := make([]*domain.TranscriptSegment, len(r.store.segments[interviewID]))
	copy(segs, r.store.segments[interviewID])
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].StartTimeMs != segs[j].StartTimeMs {
			return segs[i].StartTimeMs < segs[j].StartTimeMs
		}
		return segs[i].Seq < segs[j].Seq
	})
	return segs, nil
}
