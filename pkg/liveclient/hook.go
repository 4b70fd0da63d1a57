package liveclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HookOptions configures a Hook.
type HookOptions struct {
	// RefreshInterval is the REST backstop period. Default 30s.
	RefreshInterval time.Duration
	HistoryLimit    int
	// OnChange is called after every cache change, from the goroutine that made it.
	OnChange func(CacheState)
	// OnTransferLeaving is called when this device must tear down its call.
	OnTransferLeaving func(TransferLeaving)
	Logger            *zap.Logger
}

// Hook keeps a CacheState in sync from channel events, with periodic REST refetch as the
// source of truth. Join, Leave and TransferHere never touch the cache directly; the events the
// server emits for them reconcile it.
type Hook struct {
	channel *Channel
	client  *Client
	opts    HookOptions
	logger  *zap.Logger

	mu    sync.RWMutex
	state CacheState
	sub   *Subscription

	// applied counts events applied to state; Refresh uses it to spot events that raced a fetch.
	applied uint64

	refreshMu sync.Mutex
	kick      chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewHook creates a hook over a channel and a REST client.
func NewHook(channel *Channel, client *Client, opts HookOptions) *Hook {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Hook{
		channel: channel,
		client:  client,
		opts:    opts,
		logger:  opts.Logger,
		kick:    make(chan struct{}, 1),
	}
}

// Start subscribes to the channel, loads the initial state and starts the refresh loop.
// The initial load error is returned but the hook keeps running and retries on its schedule.
func (h *Hook) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.sub != nil {
		h.mu.Unlock()
		return nil
	}
	sub := h.channel.Subscribe(AllEvents, h.onEvent)
	h.sub = &sub
	loopCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	h.mu.Unlock()

	err := h.Refresh(ctx)
	go h.loop(loopCtx)
	return err
}

// Stop unsubscribes and stops the refresh loop. The shared channel stays connected.
func (h *Hook) Stop() {
	h.mu.Lock()
	sub, cancel, done := h.sub, h.cancel, h.done
	h.sub = nil
	h.mu.Unlock()
	if sub == nil {
		return
	}
	h.channel.Unsubscribe(*sub)
	cancel()
	<-done
}

// State returns a snapshot of the cache.
func (h *Hook) State() CacheState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.clone()
}

// Refresh refetches every list and the active session over REST. Events applied while the
// fetch was in flight are lost by the replacement, so the result is marked Stale and another
// refresh is queued.
func (h *Hook) Refresh(ctx context.Context) error {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	h.mu.RLock()
	start := h.applied
	h.mu.RUnlock()

	live, err := h.client.Live(ctx)
	if err != nil {
		return err
	}
	upcoming, err := h.client.Upcoming(ctx)
	if err != nil {
		return err
	}
	history, err := h.client.History(ctx, h.opts.HistoryLimit)
	if err != nil {
		return err
	}
	active, err := h.client.MyActive(ctx)
	if err != nil && !IsAuthExpired(err) {
		return err
	}

	next := CacheState{Live: live, Upcoming: upcoming, History: history, Active: active}
	h.mu.Lock()
	next.Stale = h.applied != start
	h.state = next
	h.mu.Unlock()
	if active != nil && active.Session != nil {
		h.channel.SubscribeSession(active.Session.ID)
	}
	if next.Stale {
		h.requestRefresh()
	}
	h.changed(next)
	return nil
}

// Join joins the session from this device and follows its participant events.
func (h *Hook) Join(ctx context.Context, sessionID string, additional bool) (*JoinResult, error) {
	res, err := h.client.Join(ctx, sessionID, additional)
	if err != nil {
		return nil, err
	}
	h.channel.SubscribeSession(sessionID)
	return res, nil
}

// Leave leaves the session from this device.
func (h *Hook) Leave(ctx context.Context, sessionID string) error {
	if err := h.client.Leave(ctx, sessionID); err != nil {
		return err
	}
	h.channel.UnsubscribeSession(sessionID)
	return nil
}

// LeaveBeacon is the teardown variant of Leave: one attempt, outcome unknown.
func (h *Hook) LeaveBeacon(ctx context.Context, sessionID string) {
	h.client.LeaveBeacon(ctx, sessionID)
	h.channel.UnsubscribeSession(sessionID)
}

// TransferHere moves the user's call in the session to this device.
func (h *Hook) TransferHere(ctx context.Context, sessionID string) (*TransferResult, error) {
	res, err := h.client.TransferHere(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	h.channel.SubscribeSession(sessionID)
	return res, nil
}

func (h *Hook) onEvent(ev Event) {
	switch ev.Name {
	case EventReconnected:
		h.requestRefresh()
		return
	case EventTransferLeaving:
		var p TransferLeaving
		if ev.Decode(&p) == nil && h.forThisDevice(p.DeviceID) && h.opts.OnTransferLeaving != nil {
			h.opts.OnTransferLeaving(p)
		}
		return
	}
	h.mu.Lock()
	h.state = ApplyEvent(h.state, ev)
	h.applied++
	next := h.state.clone()
	h.mu.Unlock()
	if next.Stale {
		h.requestRefresh()
	}
	h.changed(next)
}

func (h *Hook) forThisDevice(deviceID string) bool {
	own := h.client.Identity().DeviceID
	return own == "" || deviceID == own
}

func (h *Hook) requestRefresh() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

func (h *Hook) changed(s CacheState) {
	if h.opts.OnChange != nil {
		h.opts.OnChange(s)
	}
}

func (h *Hook) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-h.kick:
		}
		rctx, cancel := context.WithTimeout(ctx, h.opts.RefreshInterval)
		err := h.Refresh(rctx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("live session refresh failed", zap.Error(err))
		}
	}
}
