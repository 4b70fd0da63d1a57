package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionType is what a live session belongs to.
type SessionType string

const (
	SessionTypeCourse     SessionType = "COURSE"
	SessionTypeProject    SessionType = "PROJECT"
	SessionTypeInternship SessionType = "INTERNSHIP"
)

// ParseSessionType accepts any casing ("course", "Course", "COURSE").
func ParseSessionType(s string) (SessionType, bool) {
	t := SessionType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case SessionTypeCourse, SessionTypeProject, SessionTypeInternship:
		return t, true
	}
	return "", false
}

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "SCHEDULED"
	StatusLive      SessionStatus = "LIVE"
	StatusEnded     SessionStatus = "ENDED"
	StatusCancelled SessionStatus = "CANCELLED"
)

// ParseSessionStatus validates a status filter value.
func ParseSessionStatus(s string) (SessionStatus, bool) {
	st := SessionStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusScheduled, StatusLive, StatusEnded, StatusCancelled:
		return st, true
	}
	return "", false
}

// Transition names a lifecycle operation.
type Transition string

const (
	TransitionStart  Transition = "start"
	TransitionEnd    Transition = "end"
	TransitionCancel Transition = "cancel"
)

// Allows reports whether the transition may be applied from status s.
// end is accepted from SCHEDULED so a host can terminate a session that never went live.
func (s SessionStatus) Allows(t Transition) bool {
	switch t {
	case TransitionStart, TransitionCancel:
		return s == StatusScheduled
	case TransitionEnd:
		return s == StatusLive || s == StatusScheduled
	}
	return false
}

// Target returns the status a transition leads to.
func (t Transition) Target() SessionStatus {
	switch t {
	case TransitionStart:
		return StatusLive
	case TransitionEnd:
		return StatusEnded
	case TransitionCancel:
		return StatusCancelled
	}
	return ""
}

// Platform is the client platform tag of a device.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

// ParsePlatform defaults an empty value to web.
func ParsePlatform(s string) (Platform, bool) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PlatformWeb, true
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return p, true
	}
	return "", false
}

// Label is the human name shown in "transferred to X" notices.
func (p Platform) Label() string {
	switch p {
	case PlatformAndroid:
		return "Android"
	case PlatformIOS:
		return "iOS"
	default:
		return "Web"
	}
}

// Participant is one join/leave cycle in a session's participant log.
type Participant struct {
	ID       int64      `json:"id"`
	UserID   uuid.UUID  `json:"userId"`
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	DeviceID string     `json:"deviceId"`
	Platform Platform   `json:"platform"`
	JoinedAt time.Time  `json:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
}

// Active reports whether the entry is still connected.
func (p Participant) Active() bool { return p.LeftAt == nil }

// LiveSession is a scheduled or running video session attached to a course, project or internship.
type LiveSession struct {
	ID              uuid.UUID     `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	SessionType     SessionType   `json:"sessionType"`
	ReferenceID     string        `json:"referenceId"`
	ReferenceName   string        `json:"referenceName"`
	HostID          *uuid.UUID    `json:"hostId,omitempty"`
	HostName        string        `json:"hostName"`
	ScheduledAt     time.Time     `json:"scheduledAt"`
	DurationMinutes int           `json:"durationMinutes"`
	Status          SessionStatus `json:"status"`
	RoomID          string        `json:"roomId"`
	Participants    []Participant `json:"participants"`
	MaxParticipants int           `json:"maxParticipants"`
	// ActiveParticipantsCount is derived from Participants; it is never stored.
	ActiveParticipantsCount int        `json:"activeParticipantsCount"`
	StartedAt               *time.Time `json:"startedAt,omitempty"`
	EndedAt                 *time.Time `json:"endedAt,omitempty"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// CountActive returns the number of participant entries without leftAt.
func (s *LiveSession) CountActive() int {
	n := 0
	for _, p := range s.Participants {
		if p.Active() {
			n++
		}
	}
	return n
}

// Derive recomputes derived fields after the participant log changed.
func (s *LiveSession) Derive() {
	if s.Participants == nil {
		s.Participants = []Participant{}
	}
	s.ActiveParticipantsCount = s.CountActive()
}

// CheckTimestamps verifies startedAt/endedAt agree with the status.
func (s *LiveSession) CheckTimestamps() error {
	started := s.Status == StatusLive || s.Status == StatusEnded
	if (s.StartedAt != nil) != started {
		return fmt.Errorf("session %s: startedAt set=%t with status %s", s.ID, s.StartedAt != nil, s.Status)
	}
	if (s.EndedAt != nil) != (s.Status == StatusEnded) {
		return fmt.Errorf("session %s: endedAt set=%t with status %s", s.ID, s.EndedAt != nil, s.Status)
	}
	return nil
}

// Clone returns a deep copy safe to hand out of a store.
func (s *LiveSession) Clone() *LiveSession {
	c := *s
	c.Participants = make([]Participant, len(s.Participants))
	copy(c.Participants, s.Participants)
	for i := range c.Participants {
		if t := c.Participants[i].LeftAt; t != nil {
			v := *t
			c.Participants[i].LeftAt = &v
		}
	}
	if s.HostID != nil {
		h := *s.HostID
		c.HostID = &h
	}
	if s.StartedAt != nil {
		v := *s.StartedAt
		c.StartedAt = &v
	}
	if s.EndedAt != nil {
		v := *s.EndedAt
		c.EndedAt = &v
	}
	return &c
}

// NewRoomID builds the immutable room identifier: skillup-<typ>-<base36 millis>-<16 hex>.
func NewRoomID(t SessionType, now time.Time) string {
	prefix := strings.ToLower(string(t))
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		copy(buf, uuid.New().NodeID())
	}
	return fmt.Sprintf("skillup-%s-%s-%s", prefix, strconv.FormatInt(now.UnixMilli(), 36), hex.EncodeToString(buf))
}
