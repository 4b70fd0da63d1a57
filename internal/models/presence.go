package models

import (
	"time"

	"github.com/google/uuid"
)

// PresenceEntry is an active connection of one user, from one device, to one session.
// At most one exists per (UserID, DeviceID).
type PresenceEntry struct {
	UserID        uuid.UUID `json:"userId"`
	SessionID     uuid.UUID `json:"sessionId"`
	DeviceID      string    `json:"deviceId"`
	Platform      Platform  `json:"platform"`
	JoinedAt      time.Time `json:"joinedAt"`
	ParticipantID int64     `json:"-"`
}

// DeviceRef identifies the device holding a presence, as returned to clients.
type DeviceRef struct {
	DeviceID string    `json:"deviceId"`
	Platform Platform  `json:"platform"`
	JoinedAt time.Time `json:"joinedAt,omitempty"`
}

// Ref converts an entry to the client-facing device reference.
func (p PresenceEntry) Ref() *DeviceRef {
	return &DeviceRef{DeviceID: p.DeviceID, Platform: p.Platform, JoinedAt: p.JoinedAt}
}

// DeviceSession is a device a user has signed in from.
type DeviceSession struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"userId"`
	DeviceID     string     `json:"deviceId"`
	DeviceName   string     `json:"deviceName"`
	Platform     Platform   `json:"platform"`
	UserAgent    string     `json:"userAgent,omitempty"`
	IPAddress    string     `json:"ipAddress,omitempty"`
	LastActiveAt time.Time  `json:"lastActiveAt"`
	IsActive     bool       `json:"isActive"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	IsCurrent    bool       `json:"isCurrent"`
}

// AttendanceSummary aggregates a session's participant log once it has ended.
type AttendanceSummary struct {
	SessionID         uuid.UUID `json:"sessionId"`
	MaxParticipants   int       `json:"maxParticipants"`
	DistinctUsers     int       `json:"distinctUsers"`
	TotalEntries      int       `json:"totalEntries"`
	TotalWatchSeconds int64     `json:"totalWatchSeconds"`
	ArchiveKey        string    `json:"archiveKey,omitempty"`
	ComputedAt        time.Time `json:"computedAt"`
}
