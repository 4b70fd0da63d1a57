// Package presence tracks which device each user is connected to a live session from, and
// moves that connection between devices.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/livesessions"
	"github.com/skillup-live/backend/internal/middleware"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/internal/realtime"
)

// JoinResult is returned to the joining device.
type JoinResult struct {
	Session        *models.LiveSession `json:"session"`
	RoomID         string              `json:"roomId"`
	AlreadyActive  bool                `json:"alreadyActive"`
	ActiveOnDevice *models.DeviceRef   `json:"activeOnDevice,omitempty"`
}

// ActiveSession answers "is this user in a call, and on which device".
type ActiveSession = realtime.ActiveSessionPayload

// Tracker is the authoritative owner of presence entries. Every mutation is a single atomic
// store call; events are emitted after it returns and never block the caller.
type Tracker struct {
	store  livesessions.Store
	events realtime.Emitter
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker creates a presence tracker.
func NewTracker(store livesessions.Store, events realtime.Emitter, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = realtime.Nop{}
	}
	return &Tracker{
		store:  store,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Join connects the actor's device to a LIVE session. If the user is already present from
// another device and additional is false, nothing changes and AlreadyActive is set.
func (t *Tracker) Join(ctx context.Context, actor models.Actor, sessionID uuid.UUID, deviceID string, platform models.Platform, additional bool) (*JoinResult, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", livesessions.ErrInvalidInput)
	}
	res, err := t.store.Join(ctx, livesessions.JoinParams{
		SessionID:          sessionID,
		UserID:             actor.UserID,
		Name:               actor.Name,
		Email:              actor.Email,
		DeviceID:           deviceID,
		Platform:           platform,
		AsAdditionalDevice: additional,
		At:                 t.now(),
	})
	if err != nil {
		return nil, err
	}
	out := &JoinResult{Session: res.Session, RoomID: res.Session.RoomID}

	switch res.Outcome {
	case livesessions.JoinExisting:
		t.logger.Debug("rejoin from same device",
			zap.String("session_id", sessionID.String()), zap.String("user_id", actor.UserID.String()), zap.String("device_id", deviceID))
	case livesessions.JoinActiveElsewhere:
		out.AlreadyActive = true
		out.ActiveOnDevice = res.ActiveOn.Ref()
		t.logger.Debug("join probe found presence on another device",
			zap.String("session_id", sessionID.String()), zap.String("user_id", actor.UserID.String()),
			zap.String("device_id", deviceID), zap.String("active_device_id", res.ActiveOn.DeviceID))
	case livesessions.JoinCreated:
		middleware.RecordPresenceJoin()
		t.logger.Debug("presence created",
			zap.String("session_id", sessionID.String()), zap.String("user_id", actor.UserID.String()), zap.String("device_id", deviceID))
		if res.Replaced != nil {
			t.announceReplaced(ctx, *res.Replaced, actor.Name)
		}
		t.emitParticipant(realtime.EventParticipantJoined, res.Session, actor.Name)
		t.events.Emit(realtime.UserTopic(actor.UserID), realtime.EventActiveSessionChanged, ActiveSession{
			HasActiveSession: true,
			Session:          res.Session,
			ActiveOnDevice:   res.Entry.Ref(),
		})
	}
	return out, nil
}

// Leave closes the actor's presence in a session from one device, or from every device when
// deviceID is empty. Leaving when not present succeeds and changes nothing.
func (t *Tracker) Leave(ctx context.Context, actor models.Actor, sessionID uuid.UUID, deviceID string) error {
	res, err := t.store.Leave(ctx, sessionID, actor.UserID, deviceID, t.now())
	if err != nil {
		return err
	}
	t.afterLeave(ctx, actor.UserID, actor.Name, res)
	return nil
}

// LeaveDevice closes whatever presence a device holds, in any session. Used when a device is revoked.
func (t *Tracker) LeaveDevice(ctx context.Context, userID uuid.UUID, deviceID string) error {
	res, err := t.store.LeaveDevice(ctx, userID, deviceID, t.now())
	if err != nil {
		return err
	}
	t.afterLeave(ctx, userID, "", res)
	return nil
}

func (t *Tracker) afterLeave(ctx context.Context, userID uuid.UUID, name string, res *livesessions.LeaveResult) {
	if len(res.Closed) == 0 {
		return
	}
	middleware.RecordPresenceLeave(len(res.Closed))
	for _, e := range res.Closed {
		t.logger.Debug("presence closed",
			zap.String("session_id", e.SessionID.String()), zap.String("user_id", userID.String()), zap.String("device_id", e.DeviceID))
		if res.Session != nil {
			t.emitParticipant(realtime.EventParticipantLeft, res.Session, name)
		}
	}
	t.announceActive(ctx, userID)
}

// QueryActive returns the user's most recent presence in a LIVE session.
func (t *Tracker) QueryActive(ctx context.Context, userID uuid.UUID) (*ActiveSession, error) {
	entries, err := t.store.ActivePresences(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		sess, err := t.store.Get(ctx, e.SessionID)
		if errors.Is(err, livesessions.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &ActiveSession{HasActiveSession: true, Session: sess, ActiveOnDevice: e.Ref()}, nil
	}
	return &ActiveSession{}, nil
}

// announceActive pushes the user's current active session to all their connections.
func (t *Tracker) announceActive(ctx context.Context, userID uuid.UUID) {
	active, err := t.QueryActive(ctx, userID)
	if err != nil {
		t.logger.Warn("query active session failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	t.events.Emit(realtime.UserTopic(userID), realtime.EventActiveSessionChanged, active)
}

// announceReplaced emits participant:left for a presence that a join or transfer displaced
// from another session.
func (t *Tracker) announceReplaced(ctx context.Context, e models.PresenceEntry, name string) {
	middleware.RecordPresenceLeave(1)
	sess, err := t.store.Get(ctx, e.SessionID)
	if err != nil {
		t.logger.Debug("replaced presence session unavailable", zap.String("session_id", e.SessionID.String()), zap.Error(err))
		return
	}
	t.emitParticipant(realtime.EventParticipantLeft, sess, name)
}

// emitParticipant sends a participant event to the broadcast room and the session room.
// The payload carries the absolute count, so duplicate delivery is harmless.
func (t *Tracker) emitParticipant(event string, sess *models.LiveSession, name string) {
	payload := realtime.ParticipantPayload{
		SessionID:               sess.ID,
		ActiveParticipantsCount: sess.ActiveParticipantsCount,
		ParticipantName:         name,
	}
	t.events.Emit(realtime.TopicLiveSessions, event, payload)
	t.events.Emit(realtime.SessionTopic(sess.ID), event, payload)
}
