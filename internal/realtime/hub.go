package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/middleware"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	outboundBuffer = 1024
)

// Envelope is one event addressed to a topic, as carried between instances.
type Envelope struct {
	Topic    string          `json:"topic"`
	DeviceID string          `json:"deviceId,omitempty"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	At       int64           `json:"at"`
}

// RedisPublisher publishes envelopes for cross-instance delivery.
type RedisPublisher interface {
	PublishEvent(ctx context.Context, env Envelope) error
}

// RedisSubscriber delivers envelopes published by any instance, including this one.
type RedisSubscriber interface {
	SubscribeEvents(handler func(Envelope)) (cancel func(), err error)
}

// Hub maintains topic -> set of connections and fans events out to them.
// With a Redis bridge running, events are published only and delivered when they come back
// from the subscription, so every instance (this one included) delivers each event once.
type Hub struct {
	topics   map[string]map[string]*Client
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
	out      chan Envelope
	bridged  atomic.Bool
}

// NewHub creates a hub. pub and sub may be nil for single-instance deployments.
func NewHub(logger *zap.Logger, pub RedisPublisher, sub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics:   make(map[string]map[string]*Client),
		logger:   logger,
		redis:    pub,
		redisSub: sub,
		out:      make(chan Envelope, outboundBuffer),
	}
}

// Run bridges the hub through Redis until ctx is cancelled. Without a bridge it returns at once
// and events are delivered locally.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil || h.redisSub == nil {
		return
	}
	cancel, err := h.redisSub.SubscribeEvents(h.deliver)
	if err != nil {
		h.logger.Warn("redis event subscription failed, delivering locally", zap.Error(err))
		return
	}
	defer cancel()
	h.bridged.Store(true)
	defer h.bridged.Store(false)
	h.logger.Info("realtime hub bridged through redis")

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-h.out:
			pctx, pcancel := context.WithTimeout(ctx, eventTTL)
			err := h.redis.PublishEvent(pctx, env)
			pcancel()
			if err != nil {
				h.logger.Warn("redis publish failed, delivering locally", zap.String("event", env.Event), zap.Error(err))
				h.deliver(env)
			}
		}
	}
}

// Emit sends an event to every connection in topic. It never blocks on subscribers.
func (h *Hub) Emit(topic, event string, payload any) {
	h.emit(Envelope{Topic: topic, Event: event}, payload)
}

// EmitToDevice sends an event to the user's connections on one device.
func (h *Hub) EmitToDevice(userID uuid.UUID, deviceID, event string, payload any) {
	h.emit(Envelope{Topic: UserTopic(userID), DeviceID: deviceID, Event: event}, payload)
}

func (h *Hub) emit(env Envelope, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal event", zap.String("event", env.Event), zap.Error(err))
		return
	}
	env.Data = data
	env.At = time.Now().UnixMilli()
	middleware.RecordEvent(env.Event)

	if h.bridged.Load() {
		select {
		case h.out <- env:
		default:
			h.logger.Warn("realtime outbound buffer full, event dropped", zap.String("event", env.Event))
		}
		return
	}
	h.deliver(env)
}

// deliver writes to local connections only. A full connection buffer drops the event for that
// connection; clients recover by refetching over REST.
func (h *Hub) deliver(env Envelope) {
	msg := WSMessage{Event: env.Event, Data: env.Data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.topics[env.Topic] {
		if env.DeviceID != "" && c.DeviceID != "" && c.DeviceID != env.DeviceID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("client buffer full, event dropped", zap.String("client_id", c.ID), zap.String("event", env.Event))
		}
	}
}

// Register adds a connection to the broadcast room and, when authenticated, to its user room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.join(c, TopicLiveSessions)
	if c.UserID != uuid.Nil {
		h.join(c, UserTopic(c.UserID))
	}
	h.mu.Unlock()
	middleware.RecordConnectionOpened()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()), zap.String("device_id", c.DeviceID))
}

// Unregister removes a connection from every topic and closes its send buffer.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	for topic := range c.topics {
		h.leave(c, topic)
	}
	close(c.send)
	h.mu.Unlock()
	middleware.RecordConnectionClosed()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID))
}

// Subscribe adds a connection to a topic.
func (h *Hub) Subscribe(c *Client, topic string) {
	h.mu.Lock()
	h.join(c, topic)
	h.mu.Unlock()
}

// Unsubscribe removes a connection from a topic.
func (h *Hub) Unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	h.leave(c, topic)
	h.mu.Unlock()
}

// Rebind moves a connection to another user's room after its token was swapped.
func (h *Hub) Rebind(c *Client, userID uuid.UUID, role string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.UserID == userID {
		c.Role = role
		return
	}
	if c.UserID != uuid.Nil {
		h.leave(c, UserTopic(c.UserID))
	}
	c.UserID = userID
	c.Role = role
	h.join(c, UserTopic(userID))
}

// TopicSize returns the number of local connections in a topic.
func (h *Hub) TopicSize(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) join(c *Client, topic string) {
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Client)
	}
	h.topics[topic][c.ID] = c
	c.topics[topic] = struct{}{}
}

func (h *Hub) leave(c *Client, topic string) {
	if m, ok := h.topics[topic]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(c.topics, topic)
}
