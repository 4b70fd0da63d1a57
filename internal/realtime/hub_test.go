package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(userID uuid.UUID, deviceID string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		DeviceID: deviceID,
		send:     make(chan WSMessage, 8),
		topics:   make(map[string]struct{}),
		logger:   zap.NewNop(),
	}
}

func next(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return WSMessage{}
	}
}

func assertIdle(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %s", msg.Event)
	default:
	}
}

func TestHubRoutesByTopic(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	user := uuid.New()
	anon := testClient(uuid.Nil, "")
	member := testClient(user, "web-1")
	hub.Register(anon)
	hub.Register(member)

	assert.Equal(t, 2, hub.TopicSize(TopicLiveSessions))
	assert.Equal(t, 1, hub.TopicSize(UserTopic(user)))

	hub.Emit(TopicLiveSessions, EventSessionStarted, SessionPayload{SessionID: uuid.New()})
	assert.Equal(t, EventSessionStarted, next(t, anon).Event)
	assert.Equal(t, EventSessionStarted, next(t, member).Event)

	hub.Emit(UserTopic(user), EventActiveSessionChanged, ActiveSessionPayload{})
	assert.Equal(t, EventActiveSessionChanged, next(t, member).Event)
	assertIdle(t, anon)

	session := uuid.New()
	hub.Subscribe(anon, SessionTopic(session))
	hub.Emit(SessionTopic(session), EventParticipantJoined, ParticipantPayload{SessionID: session, ActiveParticipantsCount: 3})
	msg := next(t, anon)
	var p ParticipantPayload
	require.NoError(t, json.Unmarshal(msg.Data, &p))
	assert.Equal(t, 3, p.ActiveParticipantsCount)
	assertIdle(t, member)

	hub.Unsubscribe(anon, SessionTopic(session))
	assert.Equal(t, 0, hub.TopicSize(SessionTopic(session)))
}

func TestHubEmitToDeviceFiltersConnections(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	user := uuid.New()
	web := testClient(user, "web-1")
	phone := testClient(user, "android-1")
	legacy := testClient(user, "")
	for _, c := range []*Client{web, phone, legacy} {
		hub.Register(c)
	}

	hub.EmitToDevice(user, "web-1", EventTransferLeaving, TransferLeavingPayload{DeviceID: "web-1"})

	assert.Equal(t, EventTransferLeaving, next(t, web).Event)
	assert.Equal(t, EventTransferLeaving, next(t, legacy).Event, "connections without a device id filter on the payload")
	assertIdle(t, phone)
}

func TestHubRebindMovesUserRoom(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	first, second := uuid.New(), uuid.New()
	c := testClient(first, "")
	hub.Register(c)

	hub.Rebind(c, second, "student")
	assert.Equal(t, 0, hub.TopicSize(UserTopic(first)))
	assert.Equal(t, 1, hub.TopicSize(UserTopic(second)))

	hub.Unregister(c)
	assert.Equal(t, 0, hub.TopicSize(TopicLiveSessions))
	_, open := <-c.send
	assert.False(t, open)
}

type loopback struct {
	mu        sync.Mutex
	handler   func(Envelope)
	published []Envelope
	fail      bool
}

func (l *loopback) PublishEvent(_ context.Context, env Envelope) error {
	l.mu.Lock()
	if l.fail {
		l.mu.Unlock()
		return errors.New("redis down")
	}
	l.published = append(l.published, env)
	h := l.handler
	l.mu.Unlock()
	h(env)
	return nil
}

func (l *loopback) SubscribeEvents(handler func(Envelope)) (func(), error) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
	return func() {}, nil
}

func (l *loopback) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.published)
}

func TestHubBridgedDeliversOnce(t *testing.T) {
	bridge := &loopback{}
	hub := NewHub(nil, bridge, bridge)
	c := testClient(uuid.Nil, "")
	hub.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	require.Eventually(t, hub.bridged.Load, 2*time.Second, 5*time.Millisecond)

	hub.Emit(TopicLiveSessions, EventSessionEnded, SessionPayload{SessionID: uuid.New()})
	assert.Equal(t, EventSessionEnded, next(t, c).Event)
	assert.Equal(t, 1, bridge.count())
	assertIdle(t, c)
}

func TestHubBridgePublishFailureDeliversLocally(t *testing.T) {
	bridge := &loopback{fail: true}
	hub := NewHub(nil, bridge, bridge)
	c := testClient(uuid.Nil, "")
	hub.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	require.Eventually(t, hub.bridged.Load, 2*time.Second, 5*time.Millisecond)

	hub.Emit(TopicLiveSessions, EventSessionCancelled, SessionPayload{SessionID: uuid.New()})
	assert.Equal(t, EventSessionCancelled, next(t, c).Event)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	user := uuid.New()
	r.Emit(TopicLiveSessions, EventSessionStarted, SessionPayload{Status: "LIVE"})
	r.EmitToDevice(user, "web-1", EventTransferLeaving, TransferLeavingPayload{DeviceID: "web-1"})

	require.Len(t, r.Events(), 2)
	leaving := r.Named(EventTransferLeaving)
	require.Len(t, leaving, 1)
	assert.Equal(t, UserTopic(user), leaving[0].Topic)
	assert.Equal(t, "web-1", leaving[0].DeviceID)

	r.Reset()
	assert.Empty(t, r.Events())
}
