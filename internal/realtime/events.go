package realtime

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skillup-live/backend/internal/models"
)

// Server to client events.
const (
	EventSessionStarted       = "session:started"
	EventSessionEnded         = "session:ended"
	EventSessionCancelled     = "session:cancelled"
	EventSessionDeleted       = "session:deleted"
	EventSessionUpdated       = "session:updated"
	EventParticipantJoined    = "participant:joined"
	EventParticipantLeft      = "participant:left"
	EventTransferLeaving      = "transfer:leaving"
	EventActiveSessionChanged = "activeSession:changed"
	EventDeviceRevoked        = "device:revoked"
	EventDevicesAllRevoked    = "devices:allRevoked"
	EventAuthRefreshed        = "auth:refreshed"
	EventAuthError            = "auth:error"
	EventSubscribed           = "session:subscribed"
)

// Client to server messages.
const (
	MsgSessionSubscribe   = "session:subscribe"
	MsgSessionUnsubscribe = "session:unsubscribe"
	MsgAuthRefresh        = "auth:refresh"
)

// TopicLiveSessions is joined by every connection and carries session lifecycle events.
const TopicLiveSessions = "live-sessions"

// SessionTopic is the room for participant events of one session.
func SessionTopic(id uuid.UUID) string { return "session:" + id.String() }

// UserTopic is the room joined by every authenticated connection of a user.
func UserTopic(id uuid.UUID) string { return "user:" + id.String() }

// LifecycleEvent maps a transition to the event it emits.
func LifecycleEvent(t models.Transition) string {
	switch t {
	case models.TransitionStart:
		return EventSessionStarted
	case models.TransitionEnd:
		return EventSessionEnded
	case models.TransitionCancel:
		return EventSessionCancelled
	}
	panic(fmt.Sprintf("realtime: unknown transition %q", t))
}

// PublicSession is the view of a session sent on rooms any connection can join. It leaves out
// the host id and the participant log.
type PublicSession struct {
	ID                      uuid.UUID            `json:"id"`
	Title                   string               `json:"title"`
	Description             string               `json:"description"`
	SessionType             models.SessionType   `json:"sessionType"`
	ReferenceID             string               `json:"referenceId"`
	ReferenceName           string               `json:"referenceName"`
	HostName                string               `json:"hostName"`
	ScheduledAt             time.Time            `json:"scheduledAt"`
	DurationMinutes         int                  `json:"durationMinutes"`
	Status                  models.SessionStatus `json:"status"`
	RoomID                  string               `json:"roomId"`
	MaxParticipants         int                  `json:"maxParticipants"`
	ActiveParticipantsCount int                  `json:"activeParticipantsCount"`
	StartedAt               *time.Time           `json:"startedAt,omitempty"`
	EndedAt                 *time.Time           `json:"endedAt,omitempty"`
}

// Public projects s for broadcast. nil stays nil.
func Public(s *models.LiveSession) *PublicSession {
	if s == nil {
		return nil
	}
	return &PublicSession{
		ID:                      s.ID,
		Title:                   s.Title,
		Description:             s.Description,
		SessionType:             s.SessionType,
		ReferenceID:             s.ReferenceID,
		ReferenceName:           s.ReferenceName,
		HostName:                s.HostName,
		ScheduledAt:             s.ScheduledAt,
		DurationMinutes:         s.DurationMinutes,
		Status:                  s.Status,
		RoomID:                  s.RoomID,
		MaxParticipants:         s.MaxParticipants,
		ActiveParticipantsCount: s.ActiveParticipantsCount,
		StartedAt:               s.StartedAt,
		EndedAt:                 s.EndedAt,
	}
}

// SessionPayload is sent with session:* events.
type SessionPayload struct {
	SessionID uuid.UUID            `json:"sessionId"`
	Status    models.SessionStatus `json:"status,omitempty"`
	Session   *PublicSession       `json:"session,omitempty"`
}

// NewSessionPayload builds the session:* payload from a stored session.
func NewSessionPayload(s *models.LiveSession) SessionPayload {
	return SessionPayload{SessionID: s.ID, Status: s.Status, Session: Public(s)}
}

// ParticipantPayload is sent with participant:joined and participant:left. Anonymous
// connections receive it, so it names the participant by display name only.
type ParticipantPayload struct {
	SessionID               uuid.UUID `json:"sessionId"`
	ActiveParticipantsCount int       `json:"activeParticipantsCount"`
	ParticipantName         string    `json:"participantName,omitempty"`
}

// TransferLeavingPayload instructs the old device to tear down its conference connection.
type TransferLeavingPayload struct {
	DeviceID      string    `json:"deviceId"`
	SessionID     uuid.UUID `json:"sessionId"`
	SessionTitle  string    `json:"sessionTitle"`
	TransferredTo string    `json:"transferredTo"`
	Message       string    `json:"message"`
}

// ActiveSessionPayload is the user's current active session, as returned by GET /my-active.
type ActiveSessionPayload struct {
	HasActiveSession bool                `json:"hasActiveSession"`
	Session          *models.LiveSession `json:"session"`
	ActiveOnDevice   *models.DeviceRef   `json:"activeOnDevice"`
}

// DeviceRevokedPayload is sent to the user room when a device is signed out.
type DeviceRevokedPayload struct {
	DeviceID string `json:"deviceId"`
}

// DevicesAllRevokedPayload is sent when every device except one is signed out.
type DevicesAllRevokedPayload struct {
	ExceptDeviceID string `json:"exceptDeviceId"`
	Count          int    `json:"count"`
}

// Emitter publishes events to topics. Emit never blocks on subscribers.
type Emitter interface {
	Emit(topic, event string, payload any)
	// EmitToDevice targets one device's connections inside the user room. Connections that did
	// not declare a device id also receive it and filter on the payload's deviceId.
	EmitToDevice(userID uuid.UUID, deviceID, event string, payload any)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(string, string, any) {}

func (Nop) EmitToDevice(uuid.UUID, string, string, any) {}
