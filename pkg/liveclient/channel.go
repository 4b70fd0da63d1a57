package liveclient

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 75 * time.Second
)

// Handler receives channel events. Handlers run on the channel's read goroutine, in arrival
// order, and must not block.
type Handler func(Event)

// Subscription identifies one registered handler.
type Subscription struct {
	event string
	id    uint64
}

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	Dialer   *websocket.Dialer
	DeviceID string
	Backoff  Backoff
	Logger   *zap.Logger
}

// Channel is a shared realtime connection. It dials lazily when the first handler subscribes,
// reconnects with backoff when the connection drops and stays up until Disconnect, regardless
// of how many handlers remain.
type Channel struct {
	url      string
	dialer   *websocket.Dialer
	deviceID string
	backoff  Backoff
	logger   *zap.Logger

	mu       sync.Mutex
	token    string
	handlers map[string]map[uint64]Handler
	sessions map[string]struct{}
	nextID   uint64
	conn     *websocket.Conn
	running  bool
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu sync.Mutex
}

var defaultChannel atomic.Pointer[Channel]

// InitDefault creates the process-wide channel. Calls after the first return the existing one.
func InitDefault(wsURL string, opts ChannelOptions) *Channel {
	ch := NewChannel(wsURL, opts)
	if defaultChannel.CompareAndSwap(nil, ch) {
		return ch
	}
	return defaultChannel.Load()
}

// Default returns the process-wide channel, or nil before InitDefault.
func Default() *Channel { return defaultChannel.Load() }

// NewChannel creates a channel for the websocket endpoint at wsURL (e.g. wss://api.example.com/ws).
func NewChannel(wsURL string, opts ChannelOptions) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 20 * time.Second}
	}
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = ReconnectBackoff
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Channel{
		url:      wsURL,
		dialer:   opts.Dialer,
		deviceID: opts.DeviceID,
		backoff:  opts.Backoff,
		logger:   opts.Logger,
		handlers: make(map[string]map[uint64]Handler),
		sessions: make(map[string]struct{}),
	}
}

// Connect sets the token and dials if not already connected.
func (c *Channel) Connect(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.closed = false
	c.start()
}

// UpdateAuth swaps the token on the live connection without reconnecting. The new token is
// also used for any later reconnect.
func (c *Channel) UpdateAuth(token string) {
	c.mu.Lock()
	c.token = token
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.send(conn, msgAuthRefresh, map[string]string{"token": token})
	}
}

// Disconnect closes the connection and stops reconnecting until the next Connect. Handlers
// stay registered; session subscriptions and the token are dropped.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.token = ""
	c.sessions = make(map[string]struct{})
	cancel, conn, done := c.cancel, c.conn, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

// Connected reports whether a connection is currently established.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe registers h for event (or AllEvents). The first subscription dials.
func (c *Channel) Subscribe(event string, h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	sub := Subscription{event: event, id: c.nextID}
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][sub.id] = h
	if !c.closed {
		c.start()
	}
	return sub
}

// Unsubscribe removes a handler. The connection stays open.
func (c *Channel) Unsubscribe(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers[sub.event], sub.id)
	if len(c.handlers[sub.event]) == 0 {
		delete(c.handlers, sub.event)
	}
}

// SubscribeSession joins a session's room for participant events. It is renewed on reconnect.
func (c *Channel) SubscribeSession(sessionID string) {
	c.mu.Lock()
	c.sessions[sessionID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.send(conn, msgSessionSubscribe, map[string]string{"sessionId": sessionID})
	}
}

// UnsubscribeSession leaves a session's room.
func (c *Channel) UnsubscribeSession(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.send(conn, msgSessionUnsubscribe, map[string]string{"sessionId": sessionID})
	}
}

// start launches the connection loop. Caller holds mu.
func (c *Channel) start() {
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		c.running = false
		c.conn = nil
		c.mu.Unlock()
	}()

	connectedBefore := false
	for attempt := 0; ; {
		if attempt > 0 {
			if c.backoff.wait(ctx, attempt-1) != nil {
				return
			}
		}
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			if attempt > c.backoff.MaxAttempts {
				c.logger.Error("realtime channel giving up", zap.Int("attempts", attempt-1), zap.Error(err))
				return
			}
			c.logger.Warn("realtime channel dial failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		attempt = 0

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		sessions := make([]string, 0, len(c.sessions))
		for id := range c.sessions {
			sessions = append(sessions, id)
		}
		c.mu.Unlock()

		for _, id := range sessions {
			c.send(conn, msgSessionSubscribe, map[string]string{"sessionId": id})
		}
		if connectedBefore {
			c.logger.Info("realtime channel reconnected")
			c.dispatch(Event{Name: EventReconnected})
		}
		connectedBefore = true

		err = c.read(conn)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("realtime channel dropped", zap.Error(err))
		attempt = 1
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	c.mu.Lock()
	if c.token != "" {
		q.Set("token", c.token)
	}
	c.mu.Unlock()
	if c.deviceID != "" {
		q.Set("deviceId", c.deviceID)
	}
	u.RawQuery = q.Encode()
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// read dispatches events until the connection fails.
func (c *Channel) read(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(ev)
	}
}

func (c *Channel) send(conn *websocket.Conn, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Event{Name: event, Data: data}); err != nil {
		c.logger.Debug("realtime channel write failed", zap.String("event", event), zap.Error(err))
	}
}

func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[ev.Name])+len(c.handlers[AllEvents]))
	for _, h := range c.handlers[ev.Name] {
		hs = append(hs, h)
	}
	for _, h := range c.handlers[AllEvents] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}
