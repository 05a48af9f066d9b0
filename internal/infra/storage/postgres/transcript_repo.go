package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

// TranscriptRepo implements storage.TranscriptRepository using PostgreSQL.
type TranscriptRepo struct {
	db *DB
}

// NewTranscriptRepo creates a new PostgreSQL transcript repository.
func NewTranscriptRepo(db *DB) *TranscriptRepo {
	return &TranscriptRepo{db: db}
}

type segmentRow struct {
	ID          string          `db:"id"`
	InterviewID string          `db:"interview_id"`
	Speaker     string          `db:"speaker"`
	Content     string          `db:"content"`
	StartTimeMs int64           `db:"start_time_ms"`
	EndTimeMs   sql.NullInt64   `db:"end_time_ms"`
	Confidence  sql.NullFloat64 `db:"confidence"`
	Seq         int             `db:"seq"`
}

// SaveSegment appends one transcript segment.
func (r *TranscriptRepo) SaveSegment(ctx context.Context, seg *domain.TranscriptSegment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transcript_segments
			(id, interview_id, speaker, content, start_time_ms, end_time_ms, confidence, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		seg.ID, seg.InterviewID, string(seg.Speaker), seg.Content,
		seg.StartTimeMs, seg.EndTimeMs, seg.Confidence, seg.Seq)
	if err != nil {
		return fmt.Errorf("failed to save transcript segment: %w", err)
	}
	return nil
}

// SaveBatch appends multiple segments in one transaction.
func (r *TranscriptRepo) SaveBatch(ctx context.Context, segs []*domain.TranscriptSegment) error {
	if len(segs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, seg := range segs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_segments
				(id, interview_id, speaker, content, start_time_ms, end_time_ms, confidence, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			seg.ID, seg.InterviewID, string(seg.Speaker), seg.Content,
			seg.StartTimeMs, seg.EndTimeMs, seg.Confidence, seg.Seq); err != nil {
			return fmt.Errorf("failed to save segment batch: %w", err)
		}
	}
	return tx.Commit()
}

// ListByInterview returns segments ordered by start time, insertion order
// as tiebreak.
func (r *TranscriptRepo) ListByInterview(ctx context.Context, interviewID string) ([]*domain.TranscriptSegment, error) {
	var rows []segmentRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, interview_id, speaker, content, start_time_ms, end_time_ms, confidence, seq
		FROM transcript_segments
		WHERE interview_id = $1
		ORDER BY start_time_ms, seq`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript segments: %w", err)
	}

	segs := make([]*domain.TranscriptSegment, 0, len(rows))
	for _, row := range rows {
		seg := &domain.TranscriptSegment{
			ID:          row.ID,
			InterviewID: row.InterviewID,
			Speaker:     domain.Speaker(row.Speaker),
			Content:     row.Content,
			StartTimeMs: row.StartTimeMs,
			Seq:         row.Seq,
		}
		if row.EndTimeMs.Valid {
			v := row.EndTimeMs.Int64
			seg.EndTimeMs = &v
		}
		if row.Confidence.Valid {
			v := row.Confidence.Float64
			seg.Confidence = &v
		}
		segs = append(segs, seg)
	}
	return segs, nil
}
