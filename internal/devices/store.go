// Package devices keeps the registry of devices each user is signed in from.
package devices

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillup-live/backend/internal/models"
)

var (
	ErrNotFound      = errors.New("device session not found")
	ErrCurrentDevice = errors.New("cannot revoke current device, use logout instead")
	ErrNoDeviceID    = errors.New("device id header is required")
)

// DefaultDeviceName names devices first seen without a name. An empty name never overwrites a stored one.
const DefaultDeviceName = "Unknown Device"

// Store persists device sessions.
type Store interface {
	// Upsert records activity for a device. A revoked device is only reactivated when reactivate is set.
	Upsert(ctx context.Context, d *models.DeviceSession, reactivate bool) error
	// ListActive returns the user's active devices, most recently active first.
	ListActive(ctx context.Context, userID uuid.UUID) ([]models.DeviceSession, error)
	Revoke(ctx context.Context, userID uuid.UUID, deviceID string, at time.Time) (*models.DeviceSession, error)
	RevokeAllExcept(ctx context.Context, userID uuid.UUID, exceptDeviceID string, at time.Time) ([]models.DeviceSession, error)
	// DeactivateIdle revokes devices not seen since before and returns them.
	DeactivateIdle(ctx context.Context, before, at time.Time) ([]models.DeviceSession, error)
}

type deviceKey struct {
	userID   uuid.UUID
	deviceID string
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	devices map[deviceKey]*models.DeviceSession
	mutex   sync.RWMutex
}

// NewMemoryStore creates an empty in-memory device store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[deviceKey]*models.DeviceSession)}
}

func (s *MemoryStore) Upsert(_ context.Context, d *models.DeviceSession, reactivate bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := deviceKey{d.UserID, d.DeviceID}
	cur, ok := s.devices[key]
	if !ok {
		cp := *d
		cp.ID = uuid.New()
		cp.IsActive = true
		cp.RevokedAt = nil
		if cp.DeviceName == "" {
			cp.DeviceName = DefaultDeviceName
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = d.LastActiveAt
		}
		s.devices[key] = &cp
		*d = cp
		return nil
	}
	if !cur.IsActive && !reactivate {
		*d = *cur
		return nil
	}
	cur.IsActive = true
	cur.RevokedAt = nil
	cur.LastActiveAt = d.LastActiveAt
	cur.Platform = d.Platform
	cur.UserAgent = d.UserAgent
	cur.IPAddress = d.IPAddress
	if d.DeviceName != "" {
		cur.DeviceName = d.DeviceName
	}
	*d = *cur
	return nil
}

func (s *MemoryStore) ListActive(_ context.Context, userID uuid.UUID) ([]models.DeviceSession, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []models.DeviceSession
	for k, d := range s.devices {
		if k.userID == userID && d.IsActive {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (s *MemoryStore) Revoke(_ context.Context, userID uuid.UUID, deviceID string, at time.Time) (*models.DeviceSession, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	d, ok := s.devices[deviceKey{userID, deviceID}]
	if !ok || !d.IsActive {
		return nil, ErrNotFound
	}
	revoke(d, at)
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) RevokeAllExcept(_ context.Context, userID uuid.UUID, exceptDeviceID string, at time.Time) ([]models.DeviceSession, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var out []models.DeviceSession
	for k, d := range s.devices {
		if k.userID != userID || k.deviceID == exceptDeviceID || !d.IsActive {
			continue
		}
		revoke(d, at)
		out = append(out, *d)
	}
	return out, nil
}

func (s *MemoryStore) DeactivateIdle(_ context.Context, before, at time.Time) ([]models.DeviceSession, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var out []models.DeviceSession
	for _, d := range s.devices {
		if d.IsActive && d.LastActiveAt.Before(before) {
			revoke(d, at)
			out = append(out, *d)
		}
	}
	return out, nil
}

func revoke(d *models.DeviceSession, at time.Time) {
	t := at
	d.IsActive = false
	d.RevokedAt = &t
}
