package attendance

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/skillup-live/backend/internal/models"
)

// ErrNotFound is returned when a session has no stored summary yet.
var ErrNotFound = errors.New("attendance summary not found")

// Store persists attendance summaries.
type Store interface {
	Save(ctx context.Context, s models.AttendanceSummary) error
	Get(ctx context.Context, sessionID uuid.UUID) (*models.AttendanceSummary, error)
}

// MemoryStore keeps summaries in process.
type MemoryStore struct {
	mu        sync.RWMutex
	summaries map[uuid.UUID]models.AttendanceSummary
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{summaries: make(map[uuid.UUID]models.AttendanceSummary)}
}

// Save replaces the session's summary.
func (m *MemoryStore) Save(_ context.Context, s models.AttendanceSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[s.SessionID] = s
	return nil
}

// Get returns a copy of the session's summary.
func (m *MemoryStore) Get(_ context.Context, sessionID uuid.UUID) (*models.AttendanceSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}
