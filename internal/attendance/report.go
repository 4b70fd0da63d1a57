package attendance

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/skillup-live/backend/internal/models"
)

// Attendee is one user's line in an attendance report.
type Attendee struct {
	UserID       uuid.UUID         `json:"userId"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Entries      int               `json:"entries"`
	WatchSeconds int64             `json:"watchSeconds"`
	FirstJoined  time.Time         `json:"firstJoinedAt"`
	LastLeft     *time.Time        `json:"lastLeftAt,omitempty"`
	Platforms    []models.Platform `json:"platforms"`
}

// Report is the archived attendance of one session.
type Report struct {
	Summary   models.AttendanceSummary `json:"summary"`
	Title     string                   `json:"title"`
	RoomID    string                   `json:"roomId"`
	StartedAt *time.Time               `json:"startedAt,omitempty"`
	EndedAt   *time.Time               `json:"endedAt,omitempty"`
	Attendees []Attendee               `json:"attendees"`
}

// Compute aggregates a session's participant log. Entries still open are counted up to the
// session's end, or up to now while it is live.
func Compute(sess *models.LiveSession, now time.Time) Report {
	until := now
	if sess.EndedAt != nil {
		until = *sess.EndedAt
	}
	r := Report{
		Title:     sess.Title,
		RoomID:    sess.RoomID,
		StartedAt: sess.StartedAt,
		EndedAt:   sess.EndedAt,
		Attendees: []Attendee{},
	}
	byUser := make(map[uuid.UUID]*Attendee)
	var order []uuid.UUID
	var total int64
	for _, p := range sess.Participants {
		a, ok := byUser[p.UserID]
		if !ok {
			a = &Attendee{UserID: p.UserID, Name: p.Name, Email: p.Email, FirstJoined: p.JoinedAt}
			byUser[p.UserID] = a
			order = append(order, p.UserID)
		}
		a.Entries++
		end := until
		if p.LeftAt != nil {
			end = *p.LeftAt
			if a.LastLeft == nil || end.After(*a.LastLeft) {
				v := end
				a.LastLeft = &v
			}
		}
		if secs := int64(end.Sub(p.JoinedAt) / time.Second); secs > 0 {
			a.WatchSeconds += secs
			total += secs
		}
		if p.JoinedAt.Before(a.FirstJoined) {
			a.FirstJoined = p.JoinedAt
		}
		if !containsPlatform(a.Platforms, p.Platform) {
			a.Platforms = append(a.Platforms, p.Platform)
		}
	}
	for _, id := range order {
		r.Attendees = append(r.Attendees, *byUser[id])
	}
	sort.SliceStable(r.Attendees, func(i, j int) bool {
		return r.Attendees[i].WatchSeconds > r.Attendees[j].WatchSeconds
	})

	max := sess.MaxParticipants
	if peak := peakConcurrent(sess.Participants, until); peak > max {
		max = peak
	}
	r.Summary = models.AttendanceSummary{
		SessionID:         sess.ID,
		MaxParticipants:   max,
		DistinctUsers:     len(byUser),
		TotalEntries:      len(sess.Participants),
		TotalWatchSeconds: total,
		ComputedAt:        now,
	}
	return r
}

// peakConcurrent is the largest number of overlapping entries in the log.
func peakConcurrent(log []models.Participant, until time.Time) int {
	type edge struct {
		at    time.Time
		delta int
	}
	edges := make([]edge, 0, 2*len(log))
	for _, p := range log {
		end := until
		if p.LeftAt != nil {
			end = *p.LeftAt
		}
		edges = append(edges, edge{p.JoinedAt, 1}, edge{end, -1})
	}
	// leaves sort before joins at the same instant
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})
	cur, peak := 0, 0
	for _, e := range edges {
		cur += e.delta
		if cur > peak {
			peak = cur
		}
	}
	return peak
}

func containsPlatform(list []models.Platform, p models.Platform) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}
