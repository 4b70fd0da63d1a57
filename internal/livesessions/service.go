package livesessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/middleware"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/internal/realtime"
)

const (
	defaultDurationMinutes = 60
	adminListLimit         = 100
)

// AttendanceQueue accepts post-session attendance jobs.
type AttendanceQueue interface {
	EnqueueAttendance(ctx context.Context, sessionID uuid.UUID) error
}

// Options tunes the service.
type Options struct {
	HistoryDefaultLimit int
	HistoryMaxLimit     int
	Attendance          AttendanceQueue
	Now                 func() time.Time
}

// CreateInput is a new session as submitted by a host.
type CreateInput struct {
	Title           string
	Description     string
	SessionType     string
	ReferenceID     string
	ReferenceName   string
	ScheduledAt     time.Time
	DurationMinutes int
}

// Filter narrows the public session queries.
type Filter struct {
	SessionType models.SessionType
	ReferenceID string
}

// Service owns the live session lifecycle and emits lifecycle events.
type Service struct {
	store      Store
	events     realtime.Emitter
	attendance AttendanceQueue
	logger     *zap.Logger
	now        func() time.Time

	historyDefault int
	historyMax     int
}

// NewService creates a lifecycle service.
func NewService(store Store, events realtime.Emitter, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = realtime.Nop{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.HistoryDefaultLimit <= 0 {
		opts.HistoryDefaultLimit = 50
	}
	if opts.HistoryMaxLimit < opts.HistoryDefaultLimit {
		opts.HistoryMaxLimit = opts.HistoryDefaultLimit
	}
	return &Service{
		store:          store,
		events:         events,
		attendance:     opts.Attendance,
		logger:         logger,
		now:            opts.Now,
		historyDefault: opts.HistoryDefaultLimit,
		historyMax:     opts.HistoryMaxLimit,
	}
}

// Store exposes the underlying store to collaborators that share it.
func (s *Service) Store() Store { return s.store }

// Create schedules a new session hosted by the actor.
func (s *Service) Create(ctx context.Context, host models.Actor, in CreateInput) (*models.LiveSession, error) {
	typ, ok := models.ParseSessionType(in.SessionType)
	if !ok {
		return nil, fmt.Errorf("%w: invalid session type", ErrInvalidInput)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.ReferenceID) == "" {
		return nil, fmt.Errorf("%w: referenceId is required", ErrInvalidInput)
	}
	if in.ScheduledAt.IsZero() {
		return nil, fmt.Errorf("%w: scheduledAt is required", ErrInvalidInput)
	}
	if in.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: durationMinutes must be positive", ErrInvalidInput)
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = defaultDurationMinutes
	}

	now := s.now()
	sess := &models.LiveSession{
		ID:              uuid.New(),
		Title:           title,
		Description:     in.Description,
		SessionType:     typ,
		ReferenceID:     strings.TrimSpace(in.ReferenceID),
		ReferenceName:   in.ReferenceName,
		HostName:        hostName(host),
		ScheduledAt:     in.ScheduledAt.UTC(),
		DurationMinutes: in.DurationMinutes,
		Status:          models.StatusScheduled,
		RoomID:          models.NewRoomID(typ, now),
	}
	if host.UserID != uuid.Nil {
		id := host.UserID
		sess.HostID = &id
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("live session scheduled", zap.String("session_id", sess.ID.String()), zap.String("room_id", sess.RoomID))
	s.events.Emit(realtime.TopicLiveSessions, realtime.EventSessionUpdated, realtime.NewSessionPayload(sess))
	return sess, nil
}

func hostName(a models.Actor) string {
	switch {
	case a.Name != "":
		return a.Name
	case a.Email != "":
		return a.Email
	}
	return "Host"
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return s.store.Get(ctx, id)
}

// Update edits a SCHEDULED session and emits session:updated.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*models.LiveSession, error) {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
	}
	if p.DurationMinutes != nil && *p.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: durationMinutes must be positive", ErrInvalidInput)
	}
	sess, err := s.store.Update(ctx, id, p)
	if err != nil {
		return nil, err
	}
	s.events.Emit(realtime.TopicLiveSessions, realtime.EventSessionUpdated, realtime.NewSessionPayload(sess))
	return sess, nil
}

// Delete removes a session that is not LIVE and emits session:deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	sess, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.logger.Info("live session deleted", zap.String("session_id", id.String()))
	payload := realtime.SessionPayload{SessionID: sess.ID, Status: sess.Status}
	s.events.Emit(realtime.TopicLiveSessions, realtime.EventSessionDeleted, payload)
	s.events.Emit(realtime.SessionTopic(id), realtime.EventSessionDeleted, payload)
	return nil
}

// Start moves a SCHEDULED session to LIVE.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return s.transition(ctx, id, models.TransitionStart)
}

// End moves a LIVE (or SCHEDULED) session to ENDED, closing every active participant entry.
func (s *Service) End(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return s.transition(ctx, id, models.TransitionEnd)
}

// Cancel moves a SCHEDULED session to CANCELLED.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return s.transition(ctx, id, models.TransitionCancel)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, t models.Transition) (*models.LiveSession, error) {
	res, err := s.store.Transition(ctx, id, t, s.now())
	if err != nil {
		return nil, err
	}
	sess := res.Session
	if err := sess.CheckTimestamps(); err != nil {
		s.logger.Error("session timestamp invariant violated", zap.Error(err))
	}
	s.logger.Info("live session transition",
		zap.String("session_id", id.String()),
		zap.String("transition", string(t)),
		zap.String("from", string(res.From)),
		zap.String("to", string(sess.Status)),
	)

	event := realtime.LifecycleEvent(t)
	payload := realtime.NewSessionPayload(sess)
	s.events.Emit(realtime.TopicLiveSessions, event, payload)
	if t != models.TransitionStart {
		s.events.Emit(realtime.SessionTopic(id), event, payload)
	}

	switch {
	case t == models.TransitionStart:
		middleware.RecordSessionStarted()
	case t == models.TransitionEnd && res.From == models.StatusLive:
		middleware.RecordSessionEnded()
	}
	if t == models.TransitionEnd {
		s.afterEnd(ctx, sess, res.Closed)
	}
	return sess, nil
}

// afterEnd tells every user whose presence the end closed, and queues the attendance job.
func (s *Service) afterEnd(ctx context.Context, sess *models.LiveSession, closed []models.PresenceEntry) {
	if len(closed) > 0 {
		middleware.RecordPresenceLeave(len(closed))
	}
	notified := make(map[uuid.UUID]bool)
	for _, e := range closed {
		if notified[e.UserID] {
			continue
		}
		notified[e.UserID] = true
		s.events.Emit(realtime.UserTopic(e.UserID), realtime.EventActiveSessionChanged, realtime.ActiveSessionPayload{})
	}
	if s.attendance == nil {
		return
	}
	if err := s.attendance.EnqueueAttendance(ctx, sess.ID); err != nil {
		s.logger.Warn("enqueue attendance job failed", zap.String("session_id", sess.ID.String()), zap.Error(err))
	}
}

// EndOverdue ends every LIVE session past its scheduled duration plus grace. Returns how many ended.
func (s *Service) EndOverdue(ctx context.Context, grace time.Duration) (int, error) {
	ids, err := s.store.ListOverdue(ctx, s.now(), grace)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, err := s.End(ctx, id); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				continue
			}
			return n, err
		}
		s.logger.Info("overdue live session ended", zap.String("session_id", id.String()))
		n++
	}
	return n, nil
}

// Live returns sessions currently LIVE, most recently started first.
func (s *Service) Live(ctx context.Context, f Filter) ([]*models.LiveSession, error) {
	return s.store.List(ctx, Query{
		SessionType: f.SessionType,
		ReferenceID: f.ReferenceID,
		Statuses:    []models.SessionStatus{models.StatusLive},
		Order:       OrderStartedDesc,
	})
}

// Upcoming returns SCHEDULED sessions in the future, soonest first.
func (s *Service) Upcoming(ctx context.Context, f Filter) ([]*models.LiveSession, error) {
	now := s.now()
	return s.store.List(ctx, Query{
		SessionType:    f.SessionType,
		ReferenceID:    f.ReferenceID,
		Statuses:       []models.SessionStatus{models.StatusScheduled},
		ScheduledAfter: &now,
		Order:          OrderScheduledAsc,
	})
}

// History returns ENDED and CANCELLED sessions, most recent first. limit is clamped to the
// configured maximum; zero means the default.
func (s *Service) History(ctx context.Context, f Filter, limit int) ([]*models.LiveSession, error) {
	switch {
	case limit <= 0:
		limit = s.historyDefault
	case limit > s.historyMax:
		limit = s.historyMax
	}
	return s.store.List(ctx, Query{
		SessionType: f.SessionType,
		ReferenceID: f.ReferenceID,
		Statuses:    []models.SessionStatus{models.StatusEnded, models.StatusCancelled},
		Order:       OrderEndedDesc,
		Limit:       limit,
	})
}

// ByReference returns the sessions of one course, project or internship. ENDED sessions are
// included only on request.
func (s *Service) ByReference(ctx context.Context, typ models.SessionType, referenceID string, includeEnded bool) ([]*models.LiveSession, error) {
	q := Query{SessionType: typ, ReferenceID: referenceID, Order: OrderScheduledDesc}
	if !includeEnded {
		q.Statuses = []models.SessionStatus{models.StatusScheduled, models.StatusLive, models.StatusCancelled}
	}
	return s.store.List(ctx, q)
}

// AdminList is the unrestricted listing for the admin console.
func (s *Service) AdminList(ctx context.Context, f Filter, status models.SessionStatus, includeEnded bool) ([]*models.LiveSession, error) {
	q := Query{SessionType: f.SessionType, ReferenceID: f.ReferenceID, Order: OrderScheduledDesc, Limit: adminListLimit}
	switch {
	case status != "":
		q.Statuses = []models.SessionStatus{status}
	case !includeEnded:
		q.Statuses = []models.SessionStatus{models.StatusScheduled, models.StatusLive, models.StatusCancelled}
	}
	return s.store.List(ctx, q)
}
