package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/storage"
)

// InterviewRepo implements storage.InterviewRepository using PostgreSQL.
type InterviewRepo struct {
	db *DB
}

// NewInterviewRepo creates a new PostgreSQL interview repository.
func NewInterviewRepo(db *DB) *InterviewRepo {
	return &InterviewRepo{db: db}
}

type interviewRow struct {
	ID            string         `db:"id"`
	CandidateName string         `db:"candidate_name"`
	RoleTitle     string         `db:"role_title"`
	PhoneNumber   string         `db:"phone_number"`
	Status        string         `db:"status"`
	RecordingID   sql.NullString `db:"recording_id"`
	RecordingURL  sql.NullString `db:"recording_url"`
	StartedAt     sql.NullTime   `db:"started_at"`
	EndedAt       sql.NullTime   `db:"ended_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// Get retrieves an interview by id.
func (r *InterviewRepo) Get(ctx context.Context, id string) (*domain.Interview, error) {
	var row interviewRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, candidate_name, role_title, phone_number, status,
		       recording_id, recording_url, started_at, ended_at,
		       created_at, updated_at
		FROM interviews WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrInterviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interview: %w", err)
	}

	iv := &domain.Interview{
		ID:            row.ID,
		CandidateName: row.CandidateName,
		RoleTitle:     row.RoleTitle,
		PhoneNumber:   row.PhoneNumber,
		Status:        domain.InterviewStatus(row.Status),
		RecordingID:   row.RecordingID.String,
		RecordingURL:  row.RecordingURL.String,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		iv.StartedAt = &t
	}
	if row.EndedAt.Valid {
		t := row.EndedAt.Time
		iv.EndedAt = &t
	}
	return iv, nil
}

// UpdateStatus updates status and any session-owned fields that are set.
func (r *InterviewRepo) UpdateStatus(ctx context.Context, id string, update storage.StatusUpdate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE interviews SET
			status        = $2,
			recording_id  = COALESCE($3, recording_id),
			recording_url = COALESCE($4, recording_url),
			started_at    = COALESCE($5, started_at),
			ended_at      = COALESCE($6, ended_at),
			updated_at    = NOW()
		WHERE id = $1`,
		id, string(update.Status), update.RecordingID, update.RecordingURL,
		update.StartedAt, update.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to update interview status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrInterviewNotFound
	}
	return nil
}
