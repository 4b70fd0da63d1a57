package livesessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/skillup-live/backend/internal/models"
)

var (
	ErrNotFound                  = errors.New("session not found")
	ErrSessionNotLive            = errors.New("session is not live")
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrNoActiveSessionToTransfer = errors.New("no active session to transfer")
	ErrSessionLive               = errors.New("cannot delete a live session, end it first")
	ErrNotScheduled              = errors.New("only scheduled sessions can be updated")
	ErrInvalidInput              = errors.New("invalid input")
)

// Order selects the sort applied by List.
type Order int

const (
	OrderScheduledDesc Order = iota
	OrderScheduledAsc
	OrderStartedDesc
	OrderEndedDesc
)

// Query filters List. Empty fields do not filter.
type Query struct {
	SessionType    models.SessionType
	ReferenceID    string
	Statuses       []models.SessionStatus
	ScheduledAfter *time.Time
	Order          Order
	Limit          int
}

// UpdateParams carries the editable fields of a scheduled session; nil leaves a field unchanged.
type UpdateParams struct {
	Title           *string
	Description     *string
	ScheduledAt     *time.Time
	DurationMinutes *int
}

// TransitionResult is a session after a lifecycle change plus the presences the change closed.
type TransitionResult struct {
	Session *models.LiveSession
	From    models.SessionStatus
	Closed  []models.PresenceEntry
}

// JoinParams identifies who joins from where.
type JoinParams struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Name      string
	Email     string
	DeviceID  string
	Platform  models.Platform
	// AsAdditionalDevice joins even though the user is already present from another device.
	AsAdditionalDevice bool
	At                 time.Time
}

// JoinOutcome tells which branch a join took.
type JoinOutcome int

const (
	// JoinCreated appended a participant entry and created the presence.
	JoinCreated JoinOutcome = iota
	// JoinExisting found a presence for the same device and changed nothing.
	JoinExisting
	// JoinActiveElsewhere found the user present from another device and changed nothing.
	JoinActiveElsewhere
)

// JoinResult is the outcome of Store.Join.
type JoinResult struct {
	Session  *models.LiveSession
	Outcome  JoinOutcome
	Entry    models.PresenceEntry
	ActiveOn *models.PresenceEntry
	// Replaced is this device's presence in a different session, closed by the join.
	Replaced *models.PresenceEntry
}

// LeaveResult lists the presences a leave closed. Session is nil when the session does not exist.
type LeaveResult struct {
	Session *models.LiveSession
	Closed  []models.PresenceEntry
}

// TransferParams identifies the device a presence moves to.
type TransferParams struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	DeviceID  string
	Platform  models.Platform
	At        time.Time
}

// TransferResult is the outcome of Store.Transfer.
type TransferResult struct {
	Session *models.LiveSession
	From    models.PresenceEntry
	To      models.PresenceEntry
	// NoOp is set when the presence already pointed at the requesting device.
	NoOp     bool
	Replaced *models.PresenceEntry
}

// Store persists live sessions, their participant logs and presence entries.
// Every mutating method is atomic with respect to concurrent calls on the same session.
type Store interface {
	Create(ctx context.Context, s *models.LiveSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	List(ctx context.Context, q Query) ([]*models.LiveSession, error)
	Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*models.LiveSession, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	Transition(ctx context.Context, id uuid.UUID, t models.Transition, at time.Time) (*TransitionResult, error)
	ListOverdue(ctx context.Context, now time.Time, grace time.Duration) ([]uuid.UUID, error)

	Join(ctx context.Context, p JoinParams) (*JoinResult, error)
	Leave(ctx context.Context, sessionID, userID uuid.UUID, deviceID string, at time.Time) (*LeaveResult, error)
	LeaveDevice(ctx context.Context, userID uuid.UUID, deviceID string, at time.Time) (*LeaveResult, error)
	Transfer(ctx context.Context, p TransferParams) (*TransferResult, error)
	ActivePresences(ctx context.Context, userID uuid.UUID) ([]models.PresenceEntry, error)
}
