package devices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillup-live/backend/internal/models"
)

const deviceColumns = `id, user_id, device_id, device_name, platform, user_agent, ip_address, last_active_at, is_active, revoked_at, created_at`

// Repository is the PostgreSQL device Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a device session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts a device or refreshes its activity. A revoked row is only refreshed when
// reactivate is set; otherwise it is returned unchanged.
func (r *Repository) Upsert(ctx context.Context, d *models.DeviceSession, reactivate bool) error {
	q := `INSERT INTO device_sessions (user_id, device_id, device_name, platform, user_agent, ip_address, last_active_at, created_at)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), $9), $4, $5, $6, $7, $7)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			last_active_at = EXCLUDED.last_active_at,
			platform = EXCLUDED.platform,
			user_agent = EXCLUDED.user_agent,
			ip_address = EXCLUDED.ip_address,
			device_name = CASE WHEN EXCLUDED.device_name <> '' THEN EXCLUDED.device_name ELSE device_sessions.device_name END,
			is_active = TRUE,
			revoked_at = NULL
		WHERE device_sessions.is_active OR $8
		RETURNING ` + deviceColumns
	row := r.pool.QueryRow(ctx, q, d.UserID, d.DeviceID, d.DeviceName, string(d.Platform), d.UserAgent, d.IPAddress, d.LastActiveAt, reactivate, DefaultDeviceName)
	got, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// revoked and not reactivated
		got, err = scanDevice(r.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM device_sessions WHERE user_id = $1 AND device_id = $2`, d.UserID, d.DeviceID))
	}
	if err != nil {
		return fmt.Errorf("upsert device session: %w", err)
	}
	*d = *got
	return nil
}

// ListActive returns the user's active devices, most recently active first.
func (r *Repository) ListActive(ctx context.Context, userID uuid.UUID) ([]models.DeviceSession, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deviceColumns+` FROM device_sessions
		WHERE user_id = $1 AND is_active ORDER BY last_active_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list device sessions: %w", err)
	}
	return collectDevices(rows)
}

// Revoke signs one active device out.
func (r *Repository) Revoke(ctx context.Context, userID uuid.UUID, deviceID string, at time.Time) (*models.DeviceSession, error) {
	d, err := scanDevice(r.pool.QueryRow(ctx, `UPDATE device_sessions SET is_active = FALSE, revoked_at = $3
		WHERE user_id = $1 AND device_id = $2 AND is_active RETURNING `+deviceColumns, userID, deviceID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("revoke device session: %w", err)
	}
	return d, nil
}

// RevokeAllExcept signs out every active device of the user but one.
func (r *Repository) RevokeAllExcept(ctx context.Context, userID uuid.UUID, exceptDeviceID string, at time.Time) ([]models.DeviceSession, error) {
	rows, err := r.pool.Query(ctx, `UPDATE device_sessions SET is_active = FALSE, revoked_at = $3
		WHERE user_id = $1 AND device_id <> $2 AND is_active RETURNING `+deviceColumns, userID, exceptDeviceID, at)
	if err != nil {
		return nil, fmt.Errorf("revoke device sessions: %w", err)
	}
	return collectDevices(rows)
}

// DeactivateIdle revokes devices not seen since before.
func (r *Repository) DeactivateIdle(ctx context.Context, before, at time.Time) ([]models.DeviceSession, error) {
	rows, err := r.pool.Query(ctx, `UPDATE device_sessions SET is_active = FALSE, revoked_at = $2
		WHERE is_active AND last_active_at < $1 RETURNING `+deviceColumns, before, at)
	if err != nil {
		return nil, fmt.Errorf("deactivate idle devices: %w", err)
	}
	return collectDevices(rows)
}

func scanDevice(row pgx.Row) (*models.DeviceSession, error) {
	var (
		d        models.DeviceSession
		platform string
	)
	err := row.Scan(&d.ID, &d.UserID, &d.DeviceID, &d.DeviceName, &platform, &d.UserAgent, &d.IPAddress,
		&d.LastActiveAt, &d.IsActive, &d.RevokedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Platform = models.Platform(platform)
	return &d, nil
}

func collectDevices(rows pgx.Rows) ([]models.DeviceSession, error) {
	defer rows.Close()
	var out []models.DeviceSession
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
