package livesessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillup-live/backend/internal/models"
)

type presenceKey struct {
	userID   uuid.UUID
	deviceID string
}

// MemoryStore is an in-process Store guarded by a single mutex.
// Used for STORE_DRIVER=memory and in tests.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*models.LiveSession
	presence  map[presenceKey]models.PresenceEntry
	nextEntry int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*models.LiveSession),
		presence: make(map[presenceKey]models.PresenceEntry),
	}
}

func (m *MemoryStore) Create(_ context.Context, s *models.LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Derive()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.snapshot(s), nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LiveSession
	for _, s := range m.sessions {
		if q.SessionType != "" && s.SessionType != q.SessionType {
			continue
		}
		if q.ReferenceID != "" && s.ReferenceID != q.ReferenceID {
			continue
		}
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, s.Status) {
			continue
		}
		if q.ScheduledAfter != nil && s.ScheduledAt.Before(*q.ScheduledAfter) {
			continue
		}
		out = append(out, m.snapshot(s))
	}
	sort.SliceStable(out, func(i, j int) bool { return less(q.Order, out[i], out[j]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, id uuid.UUID, p UpdateParams) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.StatusScheduled {
		return nil, ErrNotScheduled
	}
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.ScheduledAt != nil {
		s.ScheduledAt = *p.ScheduledAt
	}
	if p.DurationMinutes != nil {
		s.DurationMinutes = *p.DurationMinutes
	}
	s.UpdatedAt = time.Now().UTC()
	return m.snapshot(s), nil
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == models.StatusLive {
		return nil, ErrSessionLive
	}
	for k, e := range m.presence {
		if e.SessionID == id {
			delete(m.presence, k)
		}
	}
	delete(m.sessions, id)
	return m.snapshot(s), nil
}

func (m *MemoryStore) Transition(_ context.Context, id uuid.UUID, t models.Transition, at time.Time) (*TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	from := s.Status
	if !from.Allows(t) {
		return nil, ErrInvalidTransition
	}
	res := &TransitionResult{From: from}
	s.Status = t.Target()
	switch t {
	case models.TransitionStart:
		s.StartedAt = &at
	case models.TransitionEnd:
		if s.StartedAt == nil {
			s.StartedAt = &at
		}
		s.EndedAt = &at
		if n := s.CountActive(); n > s.MaxParticipants {
			s.MaxParticipants = n
		}
		for i := range s.Participants {
			if s.Participants[i].Active() {
				s.Participants[i].LeftAt = &at
			}
		}
		for k, e := range m.presence {
			if e.SessionID == id {
				res.Closed = append(res.Closed, e)
				delete(m.presence, k)
			}
		}
	}
	s.UpdatedAt = at
	res.Session = m.snapshot(s)
	return res, nil
}

func (m *MemoryStore) ListOverdue(_ context.Context, now time.Time, grace time.Duration) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, s := range m.sessions {
		if s.Status != models.StatusLive || s.StartedAt == nil {
			continue
		}
		deadline := s.StartedAt.Add(time.Duration(s.DurationMinutes)*time.Minute + grace)
		if deadline.Before(now) {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

func (m *MemoryStore) Join(_ context.Context, p JoinParams) (*JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[p.SessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.StatusLive {
		return nil, ErrSessionNotLive
	}
	if e, ok := m.presence[presenceKey{p.UserID, p.DeviceID}]; ok && e.SessionID == p.SessionID {
		return &JoinResult{Session: m.snapshot(s), Outcome: JoinExisting, Entry: e}, nil
	}
	if other := m.latestInSession(p.UserID, p.SessionID, ""); other != nil && !p.AsAdditionalDevice {
		return &JoinResult{Session: m.snapshot(s), Outcome: JoinActiveElsewhere, ActiveOn: other}, nil
	}

	res := &JoinResult{Outcome: JoinCreated}
	res.Replaced = m.closeDevice(p.UserID, p.DeviceID, p.At)

	m.nextEntry++
	s.Participants = append(s.Participants, models.Participant{
		ID:       m.nextEntry,
		UserID:   p.UserID,
		Name:     p.Name,
		Email:    p.Email,
		DeviceID: p.DeviceID,
		Platform: p.Platform,
		JoinedAt: p.At,
	})
	entry := models.PresenceEntry{
		UserID:        p.UserID,
		SessionID:     p.SessionID,
		DeviceID:      p.DeviceID,
		Platform:      p.Platform,
		JoinedAt:      p.At,
		ParticipantID: m.nextEntry,
	}
	m.presence[presenceKey{p.UserID, p.DeviceID}] = entry
	if n := s.CountActive(); n > s.MaxParticipants {
		s.MaxParticipants = n
	}
	s.UpdatedAt = p.At
	res.Entry = entry
	res.Session = m.snapshot(s)
	return res, nil
}

func (m *MemoryStore) Leave(_ context.Context, sessionID, userID uuid.UUID, deviceID string, at time.Time) (*LeaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return &LeaveResult{}, nil
	}
	res := &LeaveResult{}
	for k, e := range m.presence {
		if e.SessionID != sessionID || e.UserID != userID {
			continue
		}
		if deviceID != "" && e.DeviceID != deviceID {
			continue
		}
		m.closeEntry(s, e.ParticipantID, at)
		delete(m.presence, k)
		res.Closed = append(res.Closed, e)
	}
	if len(res.Closed) > 0 {
		s.UpdatedAt = at
	}
	res.Session = m.snapshot(s)
	return res, nil
}

func (m *MemoryStore) LeaveDevice(_ context.Context, userID uuid.UUID, deviceID string, at time.Time) (*LeaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	closed := m.closeDevice(userID, deviceID, at)
	if closed == nil {
		return &LeaveResult{}, nil
	}
	res := &LeaveResult{Closed: []models.PresenceEntry{*closed}}
	if s, ok := m.sessions[closed.SessionID]; ok {
		res.Session = m.snapshot(s)
	}
	return res, nil
}

func (m *MemoryStore) Transfer(_ context.Context, p TransferParams) (*TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[p.SessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if e, ok := m.presence[presenceKey{p.UserID, p.DeviceID}]; ok && e.SessionID == p.SessionID {
		return &TransferResult{Session: m.snapshot(s), From: e, To: e, NoOp: true}, nil
	}
	from := m.latestInSession(p.UserID, p.SessionID, "")
	if from == nil {
		return nil, ErrNoActiveSessionToTransfer
	}

	res := &TransferResult{From: *from}
	res.Replaced = m.closeDevice(p.UserID, p.DeviceID, p.At)

	delete(m.presence, presenceKey{p.UserID, from.DeviceID})
	to := *from
	to.DeviceID = p.DeviceID
	to.Platform = p.Platform
	to.JoinedAt = p.At
	m.presence[presenceKey{p.UserID, p.DeviceID}] = to
	for i := range s.Participants {
		if s.Participants[i].ID == from.ParticipantID {
			s.Participants[i].DeviceID = p.DeviceID
			s.Participants[i].Platform = p.Platform
		}
	}
	s.UpdatedAt = p.At
	res.To = to
	res.Session = m.snapshot(s)
	return res, nil
}

func (m *MemoryStore) ActivePresences(_ context.Context, userID uuid.UUID) ([]models.PresenceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PresenceEntry
	for _, e := range m.presence {
		if e.UserID != userID {
			continue
		}
		if s, ok := m.sessions[e.SessionID]; ok && s.Status == models.StatusLive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	return out, nil
}

// latestInSession returns the user's most recent presence in a session, skipping exceptDevice.
func (m *MemoryStore) latestInSession(userID, sessionID uuid.UUID, exceptDevice string) *models.PresenceEntry {
	var best *models.PresenceEntry
	for _, e := range m.presence {
		if e.UserID != userID || e.SessionID != sessionID || e.DeviceID == exceptDevice {
			continue
		}
		if best == nil || e.JoinedAt.After(best.JoinedAt) {
			e := e
			best = &e
		}
	}
	return best
}

// closeDevice removes the (user, device) presence wherever it points and stamps its participant entry.
func (m *MemoryStore) closeDevice(userID uuid.UUID, deviceID string, at time.Time) *models.PresenceEntry {
	key := presenceKey{userID, deviceID}
	e, ok := m.presence[key]
	if !ok {
		return nil
	}
	if s, ok := m.sessions[e.SessionID]; ok {
		m.closeEntry(s, e.ParticipantID, at)
		s.UpdatedAt = at
	}
	delete(m.presence, key)
	return &e
}

func (m *MemoryStore) closeEntry(s *models.LiveSession, participantID int64, at time.Time) {
	for i := range s.Participants {
		if s.Participants[i].ID == participantID && s.Participants[i].Active() {
			s.Participants[i].LeftAt = &at
		}
	}
}

func (m *MemoryStore) snapshot(s *models.LiveSession) *models.LiveSession {
	c := s.Clone()
	c.Derive()
	return c
}

func containsStatus(list []models.SessionStatus, s models.SessionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func less(o Order, a, b *models.LiveSession) bool {
	switch o {
	case OrderScheduledAsc:
		return a.ScheduledAt.Before(b.ScheduledAt)
	case OrderStartedDesc:
		return timeAfter(a.StartedAt, b.StartedAt)
	case OrderEndedDesc:
		if !derefTime(a.EndedAt).Equal(derefTime(b.EndedAt)) {
			return timeAfter(a.EndedAt, b.EndedAt)
		}
		return a.ScheduledAt.After(b.ScheduledAt)
	default:
		return a.ScheduledAt.After(b.ScheduledAt)
	}
}

// timeAfter sorts nil last.
func timeAfter(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	}
	return a.After(*b)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
