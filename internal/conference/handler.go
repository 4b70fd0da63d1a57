package conference

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/livesessions"
	"github.com/skillup-live/backend/internal/middleware"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/pkg/response"
)

// SessionGetter loads a live session.
type SessionGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// Handler hands out conference room details for live sessions.
type Handler struct {
	sessions SessionGetter
	signer   *Signer
	logger   *zap.Logger
}

// NewHandler creates a conference handler.
func NewHandler(sessions SessionGetter, signer *Signer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, signer: signer, logger: logger}
}

// GetRoom handles GET /live-sessions/:id/conference. JWT required; the session must be LIVE.
func (h *Handler) GetRoom(c *gin.Context) {
	if !h.signer.Configured() {
		response.ServiceUnavailable(c, "conferencing not configured (CONFERENCE_DOMAIN)")
		return
	}
	id, ok := livesessions.ParseID(c)
	if !ok {
		return
	}
	sess, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		livesessions.RespondError(c, err)
		return
	}
	if sess.Status != models.StatusLive {
		livesessions.RespondError(c, livesessions.ErrSessionNotLive)
		return
	}
	room, err := h.signer.Room(sess, middleware.ActorFrom(c))
	if err != nil {
		h.logger.Error("conference token generation failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, room)
}
