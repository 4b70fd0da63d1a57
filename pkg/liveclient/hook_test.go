package liveclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type restServer struct {
	*httptest.Server
	liveCalls atomic.Int32
	joins     atomic.Int32

	mu     sync.Mutex
	onLive func()
}

func (s *restServer) setOnLive(fn func()) {
	s.mu.Lock()
	s.onLive = fn
	s.mu.Unlock()
}

func newRESTServer(t *testing.T) *restServer {
	t.Helper()
	s := &restServer{}
	live := Session{ID: "s-live", Title: "Go", Status: StatusLive, ActiveParticipantsCount: 3}
	upcoming := Session{ID: "s-up", Title: "Rust", Status: StatusScheduled, ScheduledAt: time.Now().Add(time.Hour)}

	mux := http.NewServeMux()
	mux.HandleFunc("/live-sessions/live", func(w http.ResponseWriter, r *http.Request) {
		s.liveCalls.Add(1)
		s.mu.Lock()
		fn := s.onLive
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"sessions": []Session{live}}, "")
	})
	mux.HandleFunc("/live-sessions/upcoming", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"sessions": []Session{upcoming}}, "")
	})
	mux.HandleFunc("/live-sessions/history", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"sessions": []Session{}}, "")
	})
	mux.HandleFunc("/live-sessions/my-active", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, ActiveSession{}, "")
	})
	mux.HandleFunc("/live-sessions/s-live/join", func(w http.ResponseWriter, r *http.Request) {
		s.joins.Add(1)
		writeEnvelope(w, http.StatusOK, JoinResult{Session: &live, RoomID: "room-1"}, "")
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func push(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Event{Name: name, Data: raw}))
}

func TestHookReconcilesFromEvents(t *testing.T) {
	rest := newRESTServer(t)
	ws := newWSServer(t)

	ch := NewChannel(ws.wsURL(), ChannelOptions{Backoff: fastReconnect})
	ch.Connect("tok")
	t.Cleanup(ch.Disconnect)
	conn := recv(t, ws.conns)

	var (
		mu      sync.Mutex
		leaving []TransferLeaving
	)
	hook := NewHook(ch, newTestClient(rest.URL), HookOptions{
		RefreshInterval: time.Hour,
		OnTransferLeaving: func(p TransferLeaving) {
			mu.Lock()
			leaving = append(leaving, p)
			mu.Unlock()
		},
	})
	require.NoError(t, hook.Start(context.Background()))
	t.Cleanup(hook.Stop)

	state := hook.State()
	require.Len(t, state.Live, 1)
	require.Len(t, state.Upcoming, 1)
	assert.EqualValues(t, 1, rest.liveCalls.Load())

	started := Session{ID: "s-up", Title: "Rust", Status: StatusLive}
	push(t, conn, EventSessionStarted, SessionEvent{SessionID: "s-up", Status: StatusLive, Session: &started})
	require.Eventually(t, func() bool {
		s := hook.State()
		return len(s.Live) == 2 && len(s.Upcoming) == 0
	}, 3*time.Second, 5*time.Millisecond)

	push(t, conn, EventParticipantJoined, ParticipantEvent{SessionID: "s-live", ActiveParticipantsCount: 4})
	require.Eventually(t, func() bool {
		s, ok := hook.State().Find("s-live")
		return ok && s.ActiveParticipantsCount == 4
	}, 3*time.Second, 5*time.Millisecond)

	// unknown events fall back to a refetch
	push(t, conn, "poll:created", map[string]string{"id": "p1"})
	require.Eventually(t, func() bool { return rest.liveCalls.Load() >= 2 }, 3*time.Second, 5*time.Millisecond)

	push(t, conn, EventTransferLeaving, TransferLeaving{DeviceID: "android-1", SessionID: "s-live"})
	push(t, conn, EventTransferLeaving, TransferLeaving{DeviceID: "web-1", SessionID: "s-live", TransferredTo: "Android"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(leaving) == 1
	}, 3*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "Android", leaving[0].TransferredTo)
	mu.Unlock()
}

func TestHookJoinSubscribesWithoutTouchingCache(t *testing.T) {
	rest := newRESTServer(t)
	ws := newWSServer(t)

	ch := NewChannel(ws.wsURL(), ChannelOptions{Backoff: fastReconnect})
	ch.Connect("tok")
	t.Cleanup(ch.Disconnect)
	recv(t, ws.conns)

	hook := NewHook(ch, newTestClient(rest.URL), HookOptions{RefreshInterval: time.Hour})
	require.NoError(t, hook.Start(context.Background()))
	t.Cleanup(hook.Stop)
	before := hook.State()

	res, err := hook.Join(context.Background(), "s-live", false)
	require.NoError(t, err)
	assert.Equal(t, "room-1", res.RoomID)
	assert.EqualValues(t, 1, rest.joins.Load())

	ev := recvEvent(t, ws.received, msgSessionSubscribe)
	var body map[string]string
	require.NoError(t, ev.Decode(&body))
	assert.Equal(t, "s-live", body["sessionId"])
	assert.Equal(t, before, hook.State())
}

func TestHookRefreshRacingEventRequeues(t *testing.T) {
	rest := newRESTServer(t)
	ws := newWSServer(t)

	ch := NewChannel(ws.wsURL(), ChannelOptions{Backoff: fastReconnect})
	ch.Connect("tok")
	t.Cleanup(ch.Disconnect)
	recv(t, ws.conns)

	var (
		mu     sync.Mutex
		states []CacheState
	)
	hook := NewHook(ch, newTestClient(rest.URL), HookOptions{
		RefreshInterval: time.Hour,
		OnChange: func(s CacheState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	require.NoError(t, hook.Start(context.Background()))
	t.Cleanup(hook.Stop)
	require.EqualValues(t, 1, rest.liveCalls.Load())

	entered, release := make(chan struct{}), make(chan struct{})
	rest.setOnLive(func() {
		close(entered)
		<-release
	})
	refreshed := make(chan error, 1)
	go func() { refreshed <- hook.Refresh(context.Background()) }()

	<-entered
	rest.setOnLive(nil)
	raw, err := json.Marshal(ParticipantEvent{SessionID: "s-live", ActiveParticipantsCount: 9})
	require.NoError(t, err)
	hook.onEvent(Event{Name: EventParticipantJoined, Data: raw})
	close(release)
	require.NoError(t, <-refreshed)

	mu.Lock()
	sawStale := false
	for _, st := range states {
		sawStale = sawStale || st.Stale
	}
	mu.Unlock()
	assert.True(t, sawStale, "a fetch that raced an event is not authoritative")
	require.Eventually(t, func() bool { return rest.liveCalls.Load() >= 3 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !hook.State().Stale }, 3*time.Second, 5*time.Millisecond)
}
