package devices

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/internal/realtime"
)

const (
	touchTimeout       = 5 * time.Second
	touchInterval      = time.Minute // minimum gap between two activity writes for one device
	maxTouchesInFlight = 32          // background activity writes
	maxTrackedTouches  = 10_000      // throttle entries before expired ones are swept
)

// PresenceCloser closes whatever live session presence a device holds.
type PresenceCloser interface {
	LeaveDevice(ctx context.Context, userID uuid.UUID, deviceID string) error
}

// Registry manages device sessions and signs devices out.
type Registry struct {
	store    Store
	presence PresenceCloser
	events   realtime.Emitter
	logger   *zap.Logger
	now      func() time.Time

	touchMu    sync.Mutex
	touched    map[deviceKey]time.Time
	touchSlots chan struct{}
}

// NewRegistry creates a device registry. presence may be nil.
func NewRegistry(store Store, presence PresenceCloser, events realtime.Emitter, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = realtime.Nop{}
	}
	return &Registry{
		store:      store,
		presence:   presence,
		events:     events,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		touched:    make(map[deviceKey]time.Time),
		touchSlots: make(chan struct{}, maxTouchesInFlight),
	}
}

// Register records a sign-in from a device, reactivating it if it had been revoked.
func (r *Registry) Register(ctx context.Context, d models.DeviceSession) (*models.DeviceSession, error) {
	r.normalize(&d)
	if err := r.store.Upsert(ctx, &d, true); err != nil {
		return nil, err
	}
	return &d, nil
}

// Touch refreshes lastActiveAt in the background, at most once per touchInterval for a device.
// Failures are logged only.
func (r *Registry) Touch(d models.DeviceSession) {
	r.normalize(&d)
	key := deviceKey{d.UserID, d.DeviceID}
	if !r.claimTouch(key, d.LastActiveAt) {
		return
	}
	select {
	case r.touchSlots <- struct{}{}:
	default:
		r.releaseTouch(key)
		r.logger.Debug("touch skipped, writes saturated", zap.String("device_id", d.DeviceID))
		return
	}
	go func() {
		defer func() { <-r.touchSlots }()
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := r.store.Upsert(ctx, &d, false); err != nil {
			r.releaseTouch(key)
			r.logger.Warn("touch device failed", zap.String("user_id", d.UserID.String()), zap.String("device_id", d.DeviceID), zap.Error(err))
		}
	}()
}

// claimTouch reports whether the device is due an activity write and records it.
func (r *Registry) claimTouch(key deviceKey, at time.Time) bool {
	r.touchMu.Lock()
	defer r.touchMu.Unlock()
	if last, ok := r.touched[key]; ok && at.Sub(last) < touchInterval {
		return false
	}
	if len(r.touched) >= maxTrackedTouches {
		for k, last := range r.touched {
			if at.Sub(last) >= touchInterval {
				delete(r.touched, k)
			}
		}
	}
	r.touched[key] = at
	return true
}

func (r *Registry) releaseTouch(key deviceKey) {
	r.touchMu.Lock()
	delete(r.touched, key)
	r.touchMu.Unlock()
}

func (r *Registry) normalize(d *models.DeviceSession) {
	if d.Platform == "" {
		d.Platform = models.PlatformWeb
	}
	if d.LastActiveAt.IsZero() {
		d.LastActiveAt = r.now()
	}
}

// List returns the user's active devices with IsCurrent set for currentDeviceID.
func (r *Registry) List(ctx context.Context, userID uuid.UUID, currentDeviceID string) ([]models.DeviceSession, error) {
	list, err := r.store.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].IsCurrent = currentDeviceID != "" && list[i].DeviceID == currentDeviceID
	}
	return list, nil
}

// Revoke signs one device out. The device cannot be the caller's own.
func (r *Registry) Revoke(ctx context.Context, userID uuid.UUID, deviceID, currentDeviceID string) (*models.DeviceSession, error) {
	if deviceID == currentDeviceID {
		return nil, ErrCurrentDevice
	}
	d, err := r.store.Revoke(ctx, userID, deviceID, r.now())
	if err != nil {
		return nil, err
	}
	r.logger.Info("device revoked", zap.String("user_id", userID.String()), zap.String("device_id", deviceID))
	r.closePresence(ctx, userID, deviceID)
	r.events.Emit(realtime.UserTopic(userID), realtime.EventDeviceRevoked, realtime.DeviceRevokedPayload{DeviceID: deviceID})
	return d, nil
}

// RevokeAll signs out every device of the user except the current one.
func (r *Registry) RevokeAll(ctx context.Context, userID uuid.UUID, currentDeviceID string) (int, error) {
	if currentDeviceID == "" {
		return 0, ErrNoDeviceID
	}
	revoked, err := r.store.RevokeAllExcept(ctx, userID, currentDeviceID, r.now())
	if err != nil {
		return 0, err
	}
	for _, d := range revoked {
		r.closePresence(ctx, userID, d.DeviceID)
	}
	r.logger.Info("devices revoked", zap.String("user_id", userID.String()), zap.Int("count", len(revoked)))
	r.events.Emit(realtime.UserTopic(userID), realtime.EventDevicesAllRevoked, realtime.DevicesAllRevokedPayload{
		ExceptDeviceID: currentDeviceID,
		Count:          len(revoked),
	})
	return len(revoked), nil
}

// PruneIdle revokes devices idle for longer than maxIdle, closing their presence like Revoke.
func (r *Registry) PruneIdle(ctx context.Context, maxIdle time.Duration) (int64, error) {
	now := r.now()
	revoked, err := r.store.DeactivateIdle(ctx, now.Add(-maxIdle), now)
	if err != nil {
		return 0, err
	}
	for _, d := range revoked {
		r.closePresence(ctx, d.UserID, d.DeviceID)
		r.events.Emit(realtime.UserTopic(d.UserID), realtime.EventDeviceRevoked, realtime.DeviceRevokedPayload{DeviceID: d.DeviceID})
	}
	return int64(len(revoked)), nil
}

func (r *Registry) closePresence(ctx context.Context, userID uuid.UUID, deviceID string) {
	if r.presence == nil {
		return
	}
	if err := r.presence.LeaveDevice(ctx, userID, deviceID); err != nil {
		r.logger.Warn("close revoked device presence failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}
