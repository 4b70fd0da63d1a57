package livesessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillup-live/backend/internal/models"
)

const sessionColumns = `id, title, description, session_type, reference_id, reference_name, host_id, host_name,
	scheduled_at, duration_minutes, status, room_id, max_participants, started_at, ended_at, created_at, updated_at`

const activeCountExpr = `(SELECT COUNT(*) FROM live_session_participants WHERE session_id = $1 AND left_at IS NULL)`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the PostgreSQL Store. Mutations run in one transaction that first locks the
// session rows they touch, so concurrent join/leave/transfer on a session are serialised.
// Locks are always taken in the order session, presence, participants; several sessions are
// locked in id order.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new session. ID and RoomID must be set by the caller.
func (r *Repository) Create(ctx context.Context, s *models.LiveSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	const q = `INSERT INTO live_sessions (id, title, description, session_type, reference_id, reference_name, host_id, host_name,
		scheduled_at, duration_minutes, status, room_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, s.ID, s.Title, s.Description, string(s.SessionType), s.ReferenceID, s.ReferenceName,
		s.HostID, s.HostName, s.ScheduledAt, s.DurationMinutes, string(s.Status), s.RoomID).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert live session: %w", err)
	}
	s.Derive()
	return nil
}

// Get returns a session with its participant log.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return getSession(ctx, r.pool, id)
}

// List returns sessions matching q with their participant logs.
func (r *Repository) List(ctx context.Context, q Query) ([]*models.LiveSession, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.SessionType != "" {
		conds = append(conds, "session_type = "+arg(string(q.SessionType)))
	}
	if q.ReferenceID != "" {
		conds = append(conds, "reference_id = "+arg(q.ReferenceID))
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+"::text[])")
	}
	if q.ScheduledAfter != nil {
		conds = append(conds, "scheduled_at >= "+arg(*q.ScheduledAfter))
	}

	sql := "SELECT " + sessionColumns + " FROM live_sessions"
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	switch q.Order {
	case OrderScheduledAsc:
		sql += " ORDER BY scheduled_at ASC"
	case OrderStartedDesc:
		sql += " ORDER BY started_at DESC NULLS LAST"
	case OrderEndedDesc:
		sql += " ORDER BY ended_at DESC NULLS LAST, scheduled_at DESC"
	default:
		sql += " ORDER BY scheduled_at DESC"
	}
	if q.Limit > 0 {
		sql += " LIMIT " + arg(q.Limit)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	defer rows.Close()
	var list []*models.LiveSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachParticipants(ctx, r.pool, list); err != nil {
		return nil, err
	}
	return list, nil
}

// Update changes editable fields of a SCHEDULED session.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*models.LiveSession, error) {
	var out *models.LiveSession
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		status, err := lockSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if status != models.StatusScheduled {
			return ErrNotScheduled
		}
		const q = `UPDATE live_sessions SET title = COALESCE($2, title), description = COALESCE($3, description),
			scheduled_at = COALESCE($4, scheduled_at), duration_minutes = COALESCE($5, duration_minutes), updated_at = NOW()
			WHERE id = $1`
		if _, err := tx.Exec(ctx, q, id, p.Title, p.Description, p.ScheduledAt, p.DurationMinutes); err != nil {
			return fmt.Errorf("update live session: %w", err)
		}
		out, err = getSession(ctx, tx, id)
		return err
	})
	return out, err
}

// Delete removes a non-LIVE session; participants and presence rows cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	var out *models.LiveSession
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		status, err := lockSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if status == models.StatusLive {
			return ErrSessionLive
		}
		if out, err = getSession(ctx, tx, id); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM live_sessions WHERE id = $1`, id)
		return err
	})
	return out, err
}

// Transition applies start/end/cancel. end also closes every open participant entry and presence.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, t models.Transition, at time.Time) (*TransitionResult, error) {
	res := &TransitionResult{}
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		status, err := lockSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if !status.Allows(t) {
			return ErrInvalidTransition
		}
		res.From = status
		switch t {
		case models.TransitionStart:
			_, err = tx.Exec(ctx, `UPDATE live_sessions SET status = 'LIVE', started_at = $2, updated_at = $2 WHERE id = $1`, id, at)
		case models.TransitionCancel:
			_, err = tx.Exec(ctx, `UPDATE live_sessions SET status = 'CANCELLED', updated_at = $2 WHERE id = $1`, id, at)
		case models.TransitionEnd:
			res.Closed, err = endSession(ctx, tx, id, at)
		}
		if err != nil {
			return fmt.Errorf("%s live session: %w", t, err)
		}
		res.Session, err = getSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func endSession(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) ([]models.PresenceEntry, error) {
	q := `UPDATE live_sessions SET status = 'ENDED', started_at = COALESCE(started_at, $2), ended_at = $2,
		max_participants = GREATEST(max_participants, ` + activeCountExpr + `), updated_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, q, id, at); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `DELETE FROM session_presence WHERE session_id = $1
		RETURNING user_id, session_id, device_id, platform, joined_at, participant_id`, id)
	if err != nil {
		return nil, err
	}
	closed, err := collectPresence(rows)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE live_session_participants SET left_at = $2 WHERE session_id = $1 AND left_at IS NULL`, id, at); err != nil {
		return nil, err
	}
	return closed, nil
}

// ListOverdue returns LIVE sessions whose scheduled duration plus grace has elapsed since start.
func (r *Repository) ListOverdue(ctx context.Context, now time.Time, grace time.Duration) ([]uuid.UUID, error) {
	const q = `SELECT id FROM live_sessions WHERE status = 'LIVE'
		AND started_at + make_interval(mins => duration_minutes, secs => $2::double precision) < $1`
	rows, err := r.pool.Query(ctx, q, now, grace.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list overdue sessions: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Join records a participant entry and presence unless the user is already present.
func (r *Repository) Join(ctx context.Context, p JoinParams) (*JoinResult, error) {
	var res *JoinResult
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		displaced, err := deviceSession(ctx, tx, p.UserID, p.DeviceID)
		if err != nil {
			return err
		}
		statuses, err := lockSessions(ctx, tx, p.SessionID, displaced)
		if err != nil {
			return err
		}
		status, ok := statuses[p.SessionID]
		if !ok {
			return ErrNotFound
		}
		if status != models.StatusLive {
			return ErrSessionNotLive
		}
		present, err := userPresenceInSession(ctx, tx, p.UserID, p.SessionID)
		if err != nil {
			return err
		}
		for _, e := range present {
			if e.DeviceID == p.DeviceID {
				res = &JoinResult{Outcome: JoinExisting, Entry: e}
				res.Session, err = getSession(ctx, tx, p.SessionID)
				return err
			}
		}
		if len(present) > 0 && !p.AsAdditionalDevice {
			res = &JoinResult{Outcome: JoinActiveElsewhere, ActiveOn: &present[0]}
			res.Session, err = getSession(ctx, tx, p.SessionID)
			return err
		}

		res = &JoinResult{Outcome: JoinCreated}
		if res.Replaced, err = closeDevicePresence(ctx, tx, p.UserID, p.DeviceID, displaced, p.At); err != nil {
			return err
		}
		var participantID int64
		err = tx.QueryRow(ctx, `INSERT INTO live_session_participants (session_id, user_id, name, email, device_id, platform, joined_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			p.SessionID, p.UserID, p.Name, p.Email, p.DeviceID, string(p.Platform), p.At).Scan(&participantID)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
		_, err = tx.Exec(ctx, `INSERT INTO session_presence (user_id, device_id, session_id, platform, joined_at, participant_id)
			VALUES ($1, $2, $3, $4, $5, $6)`, p.UserID, p.DeviceID, p.SessionID, string(p.Platform), p.At, participantID)
		if err != nil {
			return fmt.Errorf("insert presence: %w", err)
		}
		q := `UPDATE live_sessions SET max_participants = GREATEST(max_participants, ` + activeCountExpr + `), updated_at = $2 WHERE id = $1`
		if _, err := tx.Exec(ctx, q, p.SessionID, p.At); err != nil {
			return fmt.Errorf("update max participants: %w", err)
		}
		res.Entry = models.PresenceEntry{
			UserID: p.UserID, SessionID: p.SessionID, DeviceID: p.DeviceID,
			Platform: p.Platform, JoinedAt: p.At, ParticipantID: participantID,
		}
		res.Session, err = getSession(ctx, tx, p.SessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Leave closes the user's presence in a session, for one device or (deviceID == "") all of them.
func (r *Repository) Leave(ctx context.Context, sessionID, userID uuid.UUID, deviceID string, at time.Time) (*LeaveResult, error) {
	res := &LeaveResult{}
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockSession(ctx, tx, sessionID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		rows, err := tx.Query(ctx, `DELETE FROM session_presence
			WHERE session_id = $1 AND user_id = $2 AND ($3::text = '' OR device_id = $3)
			RETURNING user_id, session_id, device_id, platform, joined_at, participant_id`, sessionID, userID, deviceID)
		if err != nil {
			return fmt.Errorf("delete presence: %w", err)
		}
		if res.Closed, err = collectPresence(rows); err != nil {
			return err
		}
		if len(res.Closed) > 0 {
			ids := make([]int64, len(res.Closed))
			for i, e := range res.Closed {
				ids[i] = e.ParticipantID
			}
			if _, err := tx.Exec(ctx, `UPDATE live_session_participants SET left_at = $2 WHERE id = ANY($1::bigint[]) AND left_at IS NULL`, ids, at); err != nil {
				return fmt.Errorf("close participants: %w", err)
			}
			if _, err := tx.Exec(ctx, `UPDATE live_sessions SET updated_at = $2 WHERE id = $1`, sessionID, at); err != nil {
				return err
			}
		}
		res.Session, err = getSession(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// LeaveDevice closes whatever presence the (user, device) pair holds.
func (r *Repository) LeaveDevice(ctx context.Context, userID uuid.UUID, deviceID string, at time.Time) (*LeaveResult, error) {
	res := &LeaveResult{}
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		res.Closed, res.Session = nil, nil
		sessionID, err := deviceSession(ctx, tx, userID, deviceID)
		if err != nil || sessionID == uuid.Nil {
			return err
		}
		if _, err := lockSession(ctx, tx, sessionID); err != nil {
			if errors.Is(err, ErrNotFound) {
				// deleted in the meantime; its presence rows went with it
				return errPresenceMoved
			}
			return err
		}
		closed, err := closeDevicePresence(ctx, tx, userID, deviceID, sessionID, at)
		if err != nil || closed == nil {
			return err
		}
		res.Closed = []models.PresenceEntry{*closed}
		res.Session, err = getSession(ctx, tx, closed.SessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Transfer repoints the user's presence in a session at a new device. The participant entry is
// reused, so the participant log and active count do not change.
func (r *Repository) Transfer(ctx context.Context, p TransferParams) (*TransferResult, error) {
	var res *TransferResult
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		displaced, err := deviceSession(ctx, tx, p.UserID, p.DeviceID)
		if err != nil {
			return err
		}
		statuses, err := lockSessions(ctx, tx, p.SessionID, displaced)
		if err != nil {
			return err
		}
		if _, ok := statuses[p.SessionID]; !ok {
			return ErrNotFound
		}
		present, err := userPresenceInSession(ctx, tx, p.UserID, p.SessionID)
		if err != nil {
			return err
		}
		for _, e := range present {
			if e.DeviceID == p.DeviceID {
				res = &TransferResult{From: e, To: e, NoOp: true}
				res.Session, err = getSession(ctx, tx, p.SessionID)
				return err
			}
		}
		if len(present) == 0 {
			return ErrNoActiveSessionToTransfer
		}
		from := present[0]
		res = &TransferResult{From: from}
		if res.Replaced, err = closeDevicePresence(ctx, tx, p.UserID, p.DeviceID, displaced, p.At); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE session_presence SET device_id = $3, platform = $4, joined_at = $5
			WHERE user_id = $1 AND device_id = $2`, p.UserID, from.DeviceID, p.DeviceID, string(p.Platform), p.At)
		if err != nil {
			return fmt.Errorf("move presence: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE live_session_participants SET device_id = $2, platform = $3 WHERE id = $1`,
			from.ParticipantID, p.DeviceID, string(p.Platform))
		if err != nil {
			return fmt.Errorf("move participant: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE live_sessions SET updated_at = $2 WHERE id = $1`, p.SessionID, p.At); err != nil {
			return err
		}
		res.To = from
		res.To.DeviceID = p.DeviceID
		res.To.Platform = p.Platform
		res.To.JoinedAt = p.At
		res.Session, err = getSession(ctx, tx, p.SessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ActivePresences returns the user's presences in LIVE sessions, newest first.
func (r *Repository) ActivePresences(ctx context.Context, userID uuid.UUID) ([]models.PresenceEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.user_id, p.session_id, p.device_id, p.platform, p.joined_at, p.participant_id
		FROM session_presence p JOIN live_sessions s ON s.id = p.session_id
		WHERE p.user_id = $1 AND s.status = 'LIVE' ORDER BY p.joined_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("active presences: %w", err)
	}
	return collectPresence(rows)
}

// maxTxAttempts bounds the retries of a presence transaction.
const maxTxAttempts = 3

// errPresenceMoved reports that a device presence changed session between the unlocked read
// and the locked write. The transaction is retried.
var errPresenceMoved = errors.New("device presence moved")

// inTx runs fn in a transaction, retrying when the presence it read moved or when Postgres
// aborts it as a deadlock or serialization failure.
func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err = pgx.BeginFunc(ctx, r.pool, fn); !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, errPresenceMoved) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40P01" || pgErr.Code == "40001")
}

func lockSession(ctx context.Context, tx pgx.Tx, id uuid.UUID) (models.SessionStatus, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM live_sessions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock live session: %w", err)
	}
	return models.SessionStatus(status), nil
}

// lockSessions locks the given sessions in id order and returns the status of each one found.
// uuid.Nil entries are ignored.
func lockSessions(ctx context.Context, tx pgx.Tx, ids ...uuid.UUID) (map[uuid.UUID]models.SessionStatus, error) {
	var keys []string
	for _, id := range ids {
		if id != uuid.Nil {
			keys = append(keys, id.String())
		}
	}
	rows, err := tx.Query(ctx, `SELECT id, status FROM live_sessions WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, keys)
	if err != nil {
		return nil, fmt.Errorf("lock live sessions: %w", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]models.SessionStatus, len(keys))
	for rows.Next() {
		var (
			id     uuid.UUID
			status string
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out[id] = models.SessionStatus(status)
	}
	return out, rows.Err()
}

// deviceSession returns the session the (user, device) presence is in, or uuid.Nil. The read
// takes no lock; closeDevicePresence detects a change.
func deviceSession(ctx context.Context, q querier, userID uuid.UUID, deviceID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `SELECT session_id FROM session_presence WHERE user_id = $1 AND device_id = $2`, userID, deviceID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("select device presence: %w", err)
	}
	return id, nil
}

func userPresenceInSession(ctx context.Context, q querier, userID, sessionID uuid.UUID) ([]models.PresenceEntry, error) {
	rows, err := q.Query(ctx, `SELECT user_id, session_id, device_id, platform, joined_at, participant_id
		FROM session_presence WHERE user_id = $1 AND session_id = $2 ORDER BY joined_at DESC`, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select presence: %w", err)
	}
	return collectPresence(rows)
}

// closeDevicePresence deletes the (user, device) presence in sessionID, which the caller has
// locked, and stamps leftAt on its participant entry. A presence found in any other session
// returns errPresenceMoved.
func closeDevicePresence(ctx context.Context, tx pgx.Tx, userID uuid.UUID, deviceID string, sessionID uuid.UUID, at time.Time) (*models.PresenceEntry, error) {
	rows, err := tx.Query(ctx, `DELETE FROM session_presence WHERE user_id = $1 AND device_id = $2 AND session_id = $3
		RETURNING user_id, session_id, device_id, platform, joined_at, participant_id`, userID, deviceID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("delete device presence: %w", err)
	}
	closed, err := collectPresence(rows)
	if err != nil {
		return nil, err
	}
	if len(closed) == 0 {
		other, err := deviceSession(ctx, tx, userID, deviceID)
		if err != nil {
			return nil, err
		}
		if other != uuid.Nil {
			return nil, errPresenceMoved
		}
		return nil, nil
	}
	e := closed[0]
	if _, err := tx.Exec(ctx, `UPDATE live_session_participants SET left_at = $2 WHERE id = $1 AND left_at IS NULL`, e.ParticipantID, at); err != nil {
		return nil, fmt.Errorf("close participant: %w", err)
	}
	return &e, nil
}

func collectPresence(rows pgx.Rows) ([]models.PresenceEntry, error) {
	defer rows.Close()
	var out []models.PresenceEntry
	for rows.Next() {
		var (
			e        models.PresenceEntry
			platform string
		)
		if err := rows.Scan(&e.UserID, &e.SessionID, &e.DeviceID, &platform, &e.JoinedAt, &e.ParticipantID); err != nil {
			return nil, err
		}
		e.Platform = models.Platform(platform)
		out = append(out, e)
	}
	return out, rows.Err()
}

func getSession(ctx context.Context, q querier, id uuid.UUID) (*models.LiveSession, error) {
	s, err := scanSession(q.QueryRow(ctx, "SELECT "+sessionColumns+" FROM live_sessions WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := attachParticipants(ctx, q, []*models.LiveSession{s}); err != nil {
		return nil, err
	}
	return s, nil
}

func scanSession(row pgx.Row) (*models.LiveSession, error) {
	var (
		s                   models.LiveSession
		sessionType, status string
	)
	err := row.Scan(&s.ID, &s.Title, &s.Description, &sessionType, &s.ReferenceID, &s.ReferenceName, &s.HostID, &s.HostName,
		&s.ScheduledAt, &s.DurationMinutes, &status, &s.RoomID, &s.MaxParticipants, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.SessionType = models.SessionType(sessionType)
	s.Status = models.SessionStatus(status)
	return &s, nil
}

func attachParticipants(ctx context.Context, q querier, list []*models.LiveSession) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	byID := make(map[uuid.UUID]*models.LiveSession, len(list))
	for i, s := range list {
		ids[i] = s.ID.String()
		byID[s.ID] = s
		s.Participants = []models.Participant{}
	}
	rows, err := q.Query(ctx, `SELECT id, session_id, user_id, name, email, device_id, platform, joined_at, left_at
		FROM live_session_participants WHERE session_id = ANY($1::uuid[]) ORDER BY joined_at, id`, ids)
	if err != nil {
		return fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p         models.Participant
			sessionID uuid.UUID
			platform  string
		)
		if err := rows.Scan(&p.ID, &sessionID, &p.UserID, &p.Name, &p.Email, &p.DeviceID, &platform, &p.JoinedAt, &p.LeftAt); err != nil {
			return err
		}
		p.Platform = models.Platform(platform)
		if s := byID[sessionID]; s != nil {
			s.Participants = append(s.Participants, p)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, s := range list {
		s.Derive()
	}
	return nil
}
