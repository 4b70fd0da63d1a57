package livesessions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillup-live/backend/internal/models"
)

type opKind int

const (
	opJoin opKind = iota
	opJoinAdditional
	opLeave
	opTransfer
	opLeaveDevice
)

type presenceOp struct {
	Kind    opKind
	User    int
	Device  int
	Session int
}

func (o presenceOp) String() string {
	return fmt.Sprintf("%d(u%d,d%d,s%d)", o.Kind, o.User, o.Device, o.Session)
}

func genPresenceOp() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(int(opJoin), int(opLeaveDevice)),
		gen.IntRange(0, 1),
		gen.IntRange(0, 2),
		gen.IntRange(0, 1),
	).Map(func(v []interface{}) presenceOp {
		return presenceOp{Kind: opKind(v[0].(int)), User: v[1].(int), Device: v[2].(int), Session: v[3].(int)}
	})
}

// world is a store with two LIVE sessions and a fixed cast of users and devices.
type world struct {
	store    Store
	sessions []uuid.UUID
	users    []uuid.UUID
	at       time.Time
}

func newWorld(t testing.TB, store Store) *world {
	ctx := context.Background()
	w := &world{
		store: store,
		users: []uuid.UUID{uuid.New(), uuid.New()},
		at:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	for i := 0; i < 2; i++ {
		s := &models.LiveSession{
			ID: uuid.New(), Title: "s", SessionType: models.SessionTypeCourse, ReferenceID: "course-1",
			Status: models.StatusScheduled, ScheduledAt: w.at, DurationMinutes: 60, RoomID: models.NewRoomID(models.SessionTypeCourse, w.at),
		}
		if err := w.store.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
		if _, err := w.store.Transition(ctx, s.ID, models.TransitionStart, w.at); err != nil {
			t.Fatal(err)
		}
		w.sessions = append(w.sessions, s.ID)
	}
	return w
}

func (w *world) device(i int) string { return fmt.Sprintf("device-%d", i) }

func (w *world) apply(op presenceOp) error {
	ctx := context.Background()
	w.at = w.at.Add(time.Second)
	user, device, session := w.users[op.User], w.device(op.Device), w.sessions[op.Session]
	var err error
	switch op.Kind {
	case opJoin, opJoinAdditional:
		_, err = w.store.Join(ctx, JoinParams{
			SessionID: session, UserID: user, DeviceID: device, Platform: models.PlatformWeb,
			AsAdditionalDevice: op.Kind == opJoinAdditional, At: w.at,
		})
	case opLeave:
		_, err = w.store.Leave(ctx, session, user, device, w.at)
	case opTransfer:
		_, err = w.store.Transfer(ctx, TransferParams{SessionID: session, UserID: user, DeviceID: device, Platform: models.PlatformAndroid, At: w.at})
		if errors.Is(err, ErrNoActiveSessionToTransfer) {
			err = nil
		}
	case opLeaveDevice:
		_, err = w.store.LeaveDevice(ctx, user, device, w.at)
	}
	return err
}

func (w *world) get(t testing.TB, id uuid.UUID) *models.LiveSession {
	s, err := w.store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// consistent checks the participant log against the presence entries.
func (w *world) consistent(t testing.TB) bool {
	ctx := context.Background()
	perSession := map[uuid.UUID]int{}
	for _, u := range w.users {
		entries, err := w.store.ActivePresences(ctx, u)
		if err != nil {
			return false
		}
		seen := map[string]bool{}
		for _, e := range entries {
			if seen[e.DeviceID] {
				return false
			}
			seen[e.DeviceID] = true
			perSession[e.SessionID]++
		}
	}
	for _, id := range w.sessions {
		s := w.get(t, id)
		if s.ActiveParticipantsCount != perSession[id] {
			return false
		}
		open := map[string]bool{}
		for _, p := range s.Participants {
			if !p.Active() {
				continue
			}
			key := p.UserID.String() + "/" + p.DeviceID
			if open[key] {
				return false
			}
			open[key] = true
		}
		if s.MaxParticipants < s.ActiveParticipantsCount {
			return false
		}
	}
	return true
}

func TestProperty_PresenceStore(t *testing.T) {
	checkPresenceStore(t, func(testing.TB) Store { return NewMemoryStore() }, 100)
}

// checkPresenceStore runs the presence and lifecycle properties against stores built by newStore.
func checkPresenceStore(t *testing.T, newStore func(testing.TB) Store, runs int) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = runs
	properties := gopter.NewProperties(parameters)

	properties.Property("one presence per user and device, matching the participant log", prop.ForAll(
		func(ops []presenceOp) bool {
			w := newWorld(t, newStore(t))
			for _, op := range ops {
				if err := w.apply(op); err != nil {
					return false
				}
				if !w.consistent(t) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genPresenceOp()),
	))

	properties.Property("transfer keeps the active count and the log length", prop.ForAll(
		func(ops []presenceOp, user, device, session int) bool {
			w := newWorld(t, newStore(t))
			for _, op := range ops {
				if err := w.apply(op); err != nil {
					return false
				}
			}
			id := w.sessions[session]
			before := w.get(t, id)
			res, err := w.store.Transfer(context.Background(), TransferParams{
				SessionID: id, UserID: w.users[user], DeviceID: w.device(device), Platform: models.PlatformIOS, At: w.at.Add(time.Second),
			})
			if errors.Is(err, ErrNoActiveSessionToTransfer) {
				return true
			}
			if err != nil {
				return false
			}
			after := w.get(t, id)
			if res.Replaced != nil && res.Replaced.SessionID == id {
				return false
			}
			return before.ActiveParticipantsCount == after.ActiveParticipantsCount &&
				len(before.Participants) == len(after.Participants)
		},
		gen.SliceOf(genPresenceOp()),
		gen.IntRange(0, 1),
		gen.IntRange(0, 2),
		gen.IntRange(0, 1),
	))

	properties.Property("a repeated leave changes nothing", prop.ForAll(
		func(ops []presenceOp, user, device, session int) bool {
			w := newWorld(t, newStore(t))
			for _, op := range ops {
				if err := w.apply(op); err != nil {
					return false
				}
			}
			ctx := context.Background()
			id := w.sessions[session]
			if _, err := w.store.Leave(ctx, id, w.users[user], w.device(device), w.at); err != nil {
				return false
			}
			first := w.get(t, id)
			res, err := w.store.Leave(ctx, id, w.users[user], w.device(device), w.at.Add(time.Second))
			if err != nil || len(res.Closed) != 0 {
				return false
			}
			second := w.get(t, id)
			return first.ActiveParticipantsCount == second.ActiveParticipantsCount
		},
		gen.SliceOf(genPresenceOp()),
		gen.IntRange(0, 1),
		gen.IntRange(0, 2),
		gen.IntRange(0, 1),
	))

	properties.Property("end closes every entry", prop.ForAll(
		func(ops []presenceOp, session int) bool {
			w := newWorld(t, newStore(t))
			for _, op := range ops {
				if err := w.apply(op); err != nil {
					return false
				}
			}
			id := w.sessions[session]
			active := w.get(t, id).ActiveParticipantsCount
			res, err := w.store.Transition(context.Background(), id, models.TransitionEnd, w.at.Add(time.Second))
			if err != nil || len(res.Closed) != active {
				return false
			}
			s := res.Session
			for _, p := range s.Participants {
				if p.LeftAt == nil {
					return false
				}
			}
			return s.Status == models.StatusEnded && s.ActiveParticipantsCount == 0 && s.CheckTimestamps() == nil
		},
		gen.SliceOf(genPresenceOp()),
		gen.IntRange(0, 1),
	))

	properties.Property("timestamps agree with status after any transition sequence", prop.ForAll(
		func(transitions []int) bool {
			ctx := context.Background()
			store := newStore(t)
			at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			s := &models.LiveSession{
				ID: uuid.New(), Title: "t", Status: models.StatusScheduled, SessionType: models.SessionTypeProject,
				ReferenceID: "project-1", ScheduledAt: at, DurationMinutes: 30, RoomID: models.NewRoomID(models.SessionTypeProject, at),
			}
			if err := store.Create(ctx, s); err != nil {
				return false
			}
			all := []models.Transition{models.TransitionStart, models.TransitionEnd, models.TransitionCancel}
			for _, i := range transitions {
				at = at.Add(time.Minute)
				before, _ := store.Get(ctx, s.ID)
				_, err := store.Transition(ctx, s.ID, all[i], at)
				if (err == nil) != before.Status.Allows(all[i]) {
					return false
				}
				got, _ := store.Get(ctx, s.ID)
				if got.CheckTimestamps() != nil {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

func TestMemoryJoinAndTransferScenario(t *testing.T) {
	w := newWorld(t, NewMemoryStore())
	ctx := context.Background()
	user, session := w.users[0], w.sessions[0]

	res, err := w.store.Join(ctx, JoinParams{SessionID: session, UserID: user, DeviceID: "web-x", Platform: models.PlatformWeb, At: w.at})
	require.NoError(t, err)
	assert.Equal(t, JoinCreated, res.Outcome)
	assert.Equal(t, 1, res.Session.ActiveParticipantsCount)

	probe, err := w.store.Join(ctx, JoinParams{SessionID: session, UserID: user, DeviceID: "android-y", Platform: models.PlatformAndroid, At: w.at})
	require.NoError(t, err)
	assert.Equal(t, JoinActiveElsewhere, probe.Outcome)
	assert.Equal(t, "web-x", probe.ActiveOn.DeviceID)
	assert.Equal(t, 1, probe.Session.ActiveParticipantsCount)

	again, err := w.store.Join(ctx, JoinParams{SessionID: session, UserID: user, DeviceID: "web-x", Platform: models.PlatformWeb, At: w.at})
	require.NoError(t, err)
	assert.Equal(t, JoinExisting, again.Outcome)
	assert.Len(t, again.Session.Participants, 1)

	moved, err := w.store.Transfer(ctx, TransferParams{SessionID: session, UserID: user, DeviceID: "android-y", Platform: models.PlatformAndroid, At: w.at})
	require.NoError(t, err)
	assert.Equal(t, "web-x", moved.From.DeviceID)
	assert.Equal(t, "android-y", moved.To.DeviceID)
	assert.Equal(t, 1, moved.Session.ActiveParticipantsCount)
	assert.Equal(t, "android-y", moved.Session.Participants[0].DeviceID)

	noop, err := w.store.Transfer(ctx, TransferParams{SessionID: session, UserID: user, DeviceID: "android-y", Platform: models.PlatformAndroid, At: w.at})
	require.NoError(t, err)
	assert.True(t, noop.NoOp)
}

func TestMemoryJoinMovesDeviceBetweenSessions(t *testing.T) {
	w := newWorld(t, NewMemoryStore())
	ctx := context.Background()
	user := w.users[0]

	_, err := w.store.Join(ctx, JoinParams{SessionID: w.sessions[0], UserID: user, DeviceID: "web-x", At: w.at})
	require.NoError(t, err)
	res, err := w.store.Join(ctx, JoinParams{SessionID: w.sessions[1], UserID: user, DeviceID: "web-x", At: w.at.Add(time.Second)})
	require.NoError(t, err)
	require.NotNil(t, res.Replaced)
	assert.Equal(t, w.sessions[0], res.Replaced.SessionID)
	assert.Equal(t, 0, w.get(t, w.sessions[0]).ActiveParticipantsCount)
	assert.Equal(t, 1, w.get(t, w.sessions[1]).ActiveParticipantsCount)
}

func TestMemoryLeaveWithoutDeviceClosesAll(t *testing.T) {
	w := newWorld(t, NewMemoryStore())
	ctx := context.Background()
	user, session := w.users[0], w.sessions[0]

	for _, d := range []string{"web-x", "android-y"} {
		_, err := w.store.Join(ctx, JoinParams{SessionID: session, UserID: user, DeviceID: d, AsAdditionalDevice: true, At: w.at})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, w.get(t, session).ActiveParticipantsCount)

	res, err := w.store.Leave(ctx, session, user, "", w.at)
	require.NoError(t, err)
	assert.Len(t, res.Closed, 2)
	assert.Equal(t, 0, res.Session.ActiveParticipantsCount)

	res, err = w.store.Leave(ctx, uuid.New(), user, "", w.at)
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
	assert.Nil(t, res.Session)
}
