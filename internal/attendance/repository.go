package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillup-live/backend/internal/models"
)

// Repository is the PostgreSQL attendance Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save upserts the session's summary.
func (r *Repository) Save(ctx context.Context, s models.AttendanceSummary) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO session_attendance
			(session_id, max_participants, distinct_users, total_entries, total_watch_seconds, archive_key, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			max_participants = EXCLUDED.max_participants,
			distinct_users = EXCLUDED.distinct_users,
			total_entries = EXCLUDED.total_entries,
			total_watch_seconds = EXCLUDED.total_watch_seconds,
			archive_key = EXCLUDED.archive_key,
			computed_at = EXCLUDED.computed_at`,
		s.SessionID, s.MaxParticipants, s.DistinctUsers, s.TotalEntries, s.TotalWatchSeconds, s.ArchiveKey, s.ComputedAt)
	if err != nil {
		return fmt.Errorf("save attendance: %w", err)
	}
	return nil
}

// Get returns the session's summary.
func (r *Repository) Get(ctx context.Context, sessionID uuid.UUID) (*models.AttendanceSummary, error) {
	var s models.AttendanceSummary
	err := r.pool.QueryRow(ctx, `SELECT session_id, max_participants, distinct_users, total_entries,
			total_watch_seconds, archive_key, computed_at
		FROM session_attendance WHERE session_id = $1`, sessionID).
		Scan(&s.SessionID, &s.MaxParticipants, &s.DistinctUsers, &s.TotalEntries, &s.TotalWatchSeconds, &s.ArchiveKey, &s.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return &s, nil
}
