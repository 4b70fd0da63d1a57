package presence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/livesessions"
	"github.com/skillup-live/backend/internal/middleware"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/internal/realtime"
)

// TransferResult is returned to the device the session moved to. TransferredFrom is nil when
// the presence already pointed at that device.
type TransferResult struct {
	Session         *models.LiveSession `json:"session"`
	RoomID          string              `json:"roomId"`
	TransferredFrom *models.DeviceRef   `json:"transferredFrom"`
}

// TransferHere moves the actor's presence in a session to deviceID. The participant entry is
// reused, so the participant log and active count are unchanged. The old device is told to
// leave; no acknowledgement is awaited. Concurrent transfers resolve last-writer-wins.
func (t *Tracker) TransferHere(ctx context.Context, actor models.Actor, sessionID uuid.UUID, deviceID string, platform models.Platform) (*TransferResult, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", livesessions.ErrInvalidInput)
	}
	res, err := t.store.Transfer(ctx, livesessions.TransferParams{
		SessionID: sessionID,
		UserID:    actor.UserID,
		DeviceID:  deviceID,
		Platform:  platform,
		At:        t.now(),
	})
	if err != nil {
		return nil, err
	}
	out := &TransferResult{Session: res.Session, RoomID: res.Session.RoomID}
	if res.NoOp {
		return out, nil
	}
	out.TransferredFrom = &models.DeviceRef{DeviceID: res.From.DeviceID, Platform: res.From.Platform}

	middleware.RecordTransfer()
	t.logger.Info("session transferred",
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", actor.UserID.String()),
		zap.String("from_device_id", res.From.DeviceID),
		zap.String("to_device_id", deviceID),
	)

	if res.Replaced != nil && res.Replaced.SessionID != sessionID {
		t.announceReplaced(ctx, *res.Replaced, actor.Name)
	}

	label := platform.Label()
	t.events.EmitToDevice(actor.UserID, res.From.DeviceID, realtime.EventTransferLeaving, realtime.TransferLeavingPayload{
		DeviceID:      res.From.DeviceID,
		SessionID:     sessionID,
		SessionTitle:  res.Session.Title,
		TransferredTo: label,
		Message:       "Session transferred to " + label,
	})
	t.events.Emit(realtime.UserTopic(actor.UserID), realtime.EventActiveSessionChanged, ActiveSession{
		HasActiveSession: true,
		Session:          res.Session,
		ActiveOnDevice:   res.To.Ref(),
	})
	return out, nil
}
