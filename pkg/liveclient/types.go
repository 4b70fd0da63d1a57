// Package liveclient is the client SDK for live sessions: a shared realtime channel, a pure
// cache reducer, a REST client with retry and a session hook tying them together.
package liveclient

import (
	"encoding/json"
	"time"
)

// Server events.
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

// EventReconnected is dispatched locally after the channel re-established a dropped connection.
// Anything may have been missed, so subscribers should refetch.
const EventReconnected = "reconnected"

// AllEvents subscribes a handler to every event.
const AllEvents = "*"

const (
	msgSessionSubscribe   = "session:subscribe"
	msgSessionUnsubscribe = "session:unsubscribe"
	msgAuthRefresh        = "auth:refresh"
)

// Session statuses.
const (
	StatusScheduled = "SCHEDULED"
	StatusLive      = "LIVE"
	StatusEnded     = "ENDED"
	StatusCancelled = "CANCELLED"
)

// Event is one message received on the channel.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event data.
func (e Event) Decode(v any) error { return json.Unmarshal(e.Data, v) }

// Session is a live session as returned by the server.
type Session struct {
	ID                      string     `json:"id"`
	Title                   string     `json:"title"`
	Description             string     `json:"description"`
	SessionType             string     `json:"sessionType"`
	ReferenceID             string     `json:"referenceId"`
	ReferenceName           string     `json:"referenceName"`
	HostName                string     `json:"hostName"`
	ScheduledAt             time.Time  `json:"scheduledAt"`
	DurationMinutes         int        `json:"durationMinutes"`
	Status                  string     `json:"status"`
	RoomID                  string     `json:"roomId"`
	MaxParticipants         int        `json:"maxParticipants"`
	ActiveParticipantsCount int        `json:"activeParticipantsCount"`
	StartedAt               *time.Time `json:"startedAt,omitempty"`
	EndedAt                 *time.Time `json:"endedAt,omitempty"`
}

// DeviceRef identifies the device holding a presence.
type DeviceRef struct {
	DeviceID string    `json:"deviceId"`
	Platform string    `json:"platform"`
	JoinedAt time.Time `json:"joinedAt,omitempty"`
}

// ActiveSession is the user's current call, if any.
type ActiveSession struct {
	HasActiveSession bool       `json:"hasActiveSession"`
	Session          *Session   `json:"session"`
	ActiveOnDevice   *DeviceRef `json:"activeOnDevice"`
}

// JoinResult is the response to a join.
type JoinResult struct {
	Session        *Session   `json:"session"`
	RoomID         string     `json:"roomId"`
	AlreadyActive  bool       `json:"alreadyActive"`
	ActiveOnDevice *DeviceRef `json:"activeOnDevice,omitempty"`
}

// TransferResult is the response to a transfer.
type TransferResult struct {
	Session         *Session   `json:"session"`
	RoomID          string     `json:"roomId"`
	TransferredFrom *DeviceRef `json:"transferredFrom"`
}

// SessionEvent is the data of session:* events.
type SessionEvent struct {
	SessionID string   `json:"sessionId"`
	Status    string   `json:"status,omitempty"`
	Session   *Session `json:"session,omitempty"`
}

// ParticipantEvent is the data of participant:joined and participant:left.
type ParticipantEvent struct {
	SessionID               string `json:"sessionId"`
	ActiveParticipantsCount int    `json:"activeParticipantsCount"`
	ParticipantName         string `json:"participantName,omitempty"`
}

// TransferLeaving tells a device its call moved elsewhere.
type TransferLeaving struct {
	DeviceID      string `json:"deviceId"`
	SessionID     string `json:"sessionId"`
	SessionTitle  string `json:"sessionTitle"`
	TransferredTo string `json:"transferredTo"`
	Message       string `json:"message"`
}
