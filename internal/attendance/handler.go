package attendance

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/livesessions"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/pkg/response"
)

// Handler serves attendance to hosts and admins.
type Handler struct {
	sessions SessionGetter
	store    Store
	archive  Archive
	logger   *zap.Logger
}

// NewHandler creates an attendance handler. archive may be nil.
func NewHandler(sessions SessionGetter, store Store, archive Archive, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, store: store, archive: archive, logger: logger}
}

// Get handles GET /live-sessions/:id/attendance.
// Ended sessions return the stored summary; otherwise it is computed from the current log.
func (h *Handler) Get(c *gin.Context) {
	id, ok := livesessions.ParseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	summary, err := h.store.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		_ = c.Error(err)
		response.Internal(c, "failed to fetch attendance")
		return
	}
	if summary == nil {
		sess, err := h.sessions.Get(ctx, id)
		if err != nil {
			livesessions.RespondError(c, err)
			return
		}
		if sess.Status == models.StatusScheduled || sess.Status == models.StatusCancelled {
			response.BadRequest(c, "session never went live")
			return
		}
		report := Compute(sess, time.Now().UTC())
		response.OK(c, gin.H{"attendance": report.Summary, "attendees": report.Attendees, "final": false})
		return
	}
	body := gin.H{"attendance": summary, "final": true}
	if summary.ArchiveKey != "" && h.archive != nil {
		url, err := h.archive.PresignedDownloadURL(ctx, summary.ArchiveKey)
		if err != nil {
			h.logger.Warn("presign attendance report failed", zap.String("session_id", id.String()), zap.Error(err))
		} else {
			body["downloadUrl"] = url
		}
	}
	response.OK(c, body)
}
