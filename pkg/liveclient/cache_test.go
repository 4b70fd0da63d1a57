package liveclient

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(t testing.TB, name string, data any) Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Event{Name: name, Data: raw}
}

func sess(id, status string, count int) Session {
	return Session{ID: id, Status: status, ActiveParticipantsCount: count, ScheduledAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func TestApplyEventStartedMovesUpcomingToLive(t *testing.T) {
	state := CacheState{Upcoming: []Session{sess("a", StatusScheduled, 0), sess("b", StatusScheduled, 0)}}
	started := sess("a", StatusLive, 0)

	next := ApplyEvent(state, event(t, EventSessionStarted, SessionEvent{SessionID: "a", Status: StatusLive, Session: &started}))

	assert.Equal(t, []Session{started}, next.Live)
	require.Len(t, next.Upcoming, 1)
	assert.Equal(t, "b", next.Upcoming[0].ID)
	assert.False(t, next.Stale)
	assert.Len(t, state.Upcoming, 2, "input untouched")
}

func TestApplyEventEndedWithoutBodyMarksStale(t *testing.T) {
	state := CacheState{
		Live:   []Session{sess("a", StatusLive, 3)},
		Active: &ActiveSession{HasActiveSession: true, Session: &Session{ID: "a"}},
	}
	next := ApplyEvent(state, event(t, EventSessionEnded, SessionEvent{SessionID: "a"}))

	assert.Empty(t, next.Live)
	assert.True(t, next.Stale)
	assert.False(t, next.Active.HasActiveSession)
	assert.True(t, state.Active.HasActiveSession, "input untouched")
}

func TestApplyEventCancelledGoesToHistory(t *testing.T) {
	state := CacheState{Upcoming: []Session{sess("a", StatusScheduled, 0)}}
	cancelled := sess("a", StatusCancelled, 0)
	next := ApplyEvent(state, event(t, EventSessionCancelled, SessionEvent{SessionID: "a", Session: &cancelled}))

	assert.Empty(t, next.Upcoming)
	assert.Equal(t, []Session{cancelled}, next.History)
}

func TestApplyEventParticipantCount(t *testing.T) {
	state := CacheState{
		Live:   []Session{sess("a", StatusLive, 1), sess("b", StatusLive, 4)},
		Active: &ActiveSession{HasActiveSession: true, Session: &Session{ID: "a", ActiveParticipantsCount: 1}},
	}
	next := ApplyEvent(state, event(t, EventParticipantJoined, ParticipantEvent{SessionID: "a", ActiveParticipantsCount: 2}))

	assert.Equal(t, 2, next.Live[0].ActiveParticipantsCount)
	assert.Equal(t, 4, next.Live[1].ActiveParticipantsCount)
	assert.Equal(t, 2, next.Active.Session.ActiveParticipantsCount)
	assert.Equal(t, 1, state.Live[0].ActiveParticipantsCount)
}

func TestApplyEventUpdatedKeepsUpcomingOrdered(t *testing.T) {
	early, late := sess("a", StatusScheduled, 0), sess("b", StatusScheduled, 0)
	late.ScheduledAt = early.ScheduledAt.Add(time.Hour)
	state := CacheState{Upcoming: []Session{early, late}}

	moved := early
	moved.ScheduledAt = late.ScheduledAt.Add(time.Hour)
	next := ApplyEvent(state, event(t, EventSessionUpdated, SessionEvent{SessionID: "a", Session: &moved}))

	require.Len(t, next.Upcoming, 2)
	assert.Equal(t, "b", next.Upcoming[0].ID)
	assert.Equal(t, "a", next.Upcoming[1].ID)
}

func TestApplyEventUnknownAndIgnored(t *testing.T) {
	state := CacheState{Live: []Session{sess("a", StatusLive, 1)}}

	assert.True(t, ApplyEvent(state, Event{Name: "course:published"}).Stale)
	assert.True(t, ApplyEvent(state, Event{Name: EventSessionStarted, Data: json.RawMessage(`{`)}).Stale)

	next := ApplyEvent(state, event(t, EventTransferLeaving, TransferLeaving{DeviceID: "x"}))
	assert.False(t, next.Stale)
	assert.Equal(t, state.Live, next.Live)
}

func TestApplyEventActiveChanged(t *testing.T) {
	next := ApplyEvent(CacheState{}, event(t, EventActiveSessionChanged, ActiveSession{
		HasActiveSession: true,
		Session:          &Session{ID: "a"},
		ActiveOnDevice:   &DeviceRef{DeviceID: "web-1", Platform: "web"},
	}))
	require.NotNil(t, next.Active)
	assert.Equal(t, "web-1", next.Active.ActiveOnDevice.DeviceID)
}

// genEvent draws a cache event over a small id space so events collide on the same sessions.
func genEvent() gopter.Gen {
	ids := gen.OneConstOf("s1", "s2", "s3", "s4")
	names := gen.OneConstOf(
		EventSessionStarted, EventSessionEnded, EventSessionCancelled, EventSessionDeleted,
		EventSessionUpdated, EventParticipantJoined, EventParticipantLeft, EventActiveSessionChanged,
	)
	statuses := gen.OneConstOf(StatusScheduled, StatusLive, StatusEnded, StatusCancelled)
	return gopter.CombineGens(names, ids, statuses, gen.IntRange(0, 50), gen.Bool()).Map(func(v []interface{}) Event {
		name, id, status, count, withBody := v[0].(string), v[1].(string), v[2].(string), v[3].(int), v[4].(bool)
		s := Session{ID: id, Status: status, ActiveParticipantsCount: count}
		var data any
		switch name {
		case EventParticipantJoined, EventParticipantLeft:
			data = ParticipantEvent{SessionID: id, ActiveParticipantsCount: count}
		case EventActiveSessionChanged:
			data = ActiveSession{HasActiveSession: withBody, Session: &s}
		default:
			p := SessionEvent{SessionID: id, Status: status}
			if withBody {
				p.Session = &s
			}
			data = p
		}
		raw, _ := json.Marshal(data)
		return Event{Name: name, Data: raw}
	})
}

func unique(list []Session) bool {
	seen := map[string]bool{}
	for _, s := range list {
		if seen[s.ID] {
			return false
		}
		seen[s.ID] = true
	}
	return true
}

func contains(list []Session, id string) bool {
	for _, s := range list {
		if s.ID == id {
			return true
		}
	}
	return false
}

func sessionIDOf(ev Event) string {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(ev.Data, &p)
	return p.SessionID
}

func TestProperty_ApplyEvent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("each list holds a session at most once", prop.ForAll(
		func(events []Event) bool {
			var state CacheState
			for _, ev := range events {
				state = ApplyEvent(state, ev)
				if !unique(state.Live) || !unique(state.Upcoming) || !unique(state.History) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genEvent()),
	))

	properties.Property("ended, cancelled and deleted sessions leave live and upcoming", prop.ForAll(
		func(events []Event) bool {
			var state CacheState
			for _, ev := range events {
				state = ApplyEvent(state, ev)
				switch ev.Name {
				case EventSessionEnded, EventSessionCancelled, EventSessionDeleted:
					id := sessionIDOf(ev)
					if contains(state.Live, id) || contains(state.Upcoming, id) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(genEvent()),
	))

	properties.Property("participant events never change list membership", prop.ForAll(
		func(events []Event, id string, count int) bool {
			var state CacheState
			for _, ev := range events {
				state = ApplyEvent(state, ev)
			}
			raw, _ := json.Marshal(ParticipantEvent{SessionID: id, ActiveParticipantsCount: count})
			next := ApplyEvent(state, Event{Name: EventParticipantLeft, Data: raw})
			if len(next.Live) != len(state.Live) || len(next.Upcoming) != len(state.Upcoming) || len(next.History) != len(state.History) {
				return false
			}
			for _, s := range next.Live {
				if s.ID == id && s.ActiveParticipantsCount != count {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genEvent()),
		gen.OneConstOf("s1", "s2", "s3", "s4"),
		gen.IntRange(0, 50),
	))

	properties.Property("the input state is never modified", prop.ForAll(
		func(events []Event, last Event) bool {
			var state CacheState
			for _, ev := range events {
				state = ApplyEvent(state, ev)
			}
			before := fmt.Sprintf("%+v", snapshot(state))
			_ = ApplyEvent(state, last)
			return before == fmt.Sprintf("%+v", snapshot(state))
		},
		gen.SliceOf(genEvent()),
		genEvent(),
	))

	properties.TestingRun(t)
}

// snapshot flattens pointers so two states can be compared as strings.
func snapshot(s CacheState) []any {
	out := []any{s.Live, s.Upcoming, s.History, s.Stale}
	if s.Active != nil {
		out = append(out, s.Active.HasActiveSession)
		if s.Active.Session != nil {
			out = append(out, *s.Active.Session)
		}
	}
	return out
}
