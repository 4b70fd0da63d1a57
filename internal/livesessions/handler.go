package livesessions

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skillup-live/backend/internal/middleware"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/pkg/response"
)

// CreateRequest is the body for POST /live-sessions.
type CreateRequest struct {
	Title           string `json:"title" binding:"required"`
	Description     string `json:"description"`
	SessionType     string `json:"sessionType" binding:"required"`
	ReferenceID     string `json:"referenceId" binding:"required"`
	ReferenceName   string `json:"referenceName"`
	ScheduledAt     string `json:"scheduledAt" binding:"required"`
	DurationMinutes int    `json:"durationMinutes"`
}

// UpdateRequest is the body for PUT /live-sessions/:id.
type UpdateRequest struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	ScheduledAt     *string `json:"scheduledAt"`
	DurationMinutes *int    `json:"durationMinutes"`
}

// Handler handles live session HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a live session handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RespondError maps domain errors to the response envelope.
func RespondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "session not found")
	case errors.Is(err, ErrSessionNotLive):
		response.BadRequest(c, "session is not live")
	case errors.Is(err, ErrInvalidTransition):
		response.BadRequest(c, "invalid status transition")
	case errors.Is(err, ErrNoActiveSessionToTransfer):
		response.BadRequest(c, "no active session to transfer")
	case errors.Is(err, ErrSessionLive):
		response.BadRequest(c, "cannot delete a live session, end it first")
	case errors.Is(err, ErrNotScheduled):
		response.BadRequest(c, "can only update scheduled sessions")
	case errors.Is(err, ErrInvalidInput):
		response.BadRequest(c, err.Error())
	default:
		_ = c.Error(err)
		response.Internal(c, "internal error")
	}
}

// ParseID reads the :id path parameter.
func ParseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(c *gin.Context) (Filter, bool) {
	f := Filter{ReferenceID: c.Query("referenceId")}
	if v := c.Query("sessionType"); v != "" {
		t, ok := models.ParseSessionType(v)
		if !ok {
			response.BadRequest(c, "invalid sessionType")
			return f, false
		}
		f.SessionType = t
	}
	return f, true
}

func sessions(c *gin.Context, list []*models.LiveSession) {
	if list == nil {
		list = []*models.LiveSession{}
	}
	response.OK(c, gin.H{"sessions": list})
}

// Create handles POST /live-sessions (admin or host).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		response.BadRequest(c, "invalid scheduledAt")
		return
	}
	sess, err := h.svc.Create(c.Request.Context(), middleware.ActorFrom(c), CreateInput{
		Title:           req.Title,
		Description:     req.Description,
		SessionType:     req.SessionType,
		ReferenceID:     req.ReferenceID,
		ReferenceName:   req.ReferenceName,
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	response.Created(c, gin.H{"session": sess})
}

// List handles GET /live-sessions (admin). ENDED sessions are excluded unless
// includeEnded=true or an explicit status is requested.
func (h *Handler) List(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	var status models.SessionStatus
	if v := c.Query("status"); v != "" {
		if status, ok = models.ParseSessionStatus(v); !ok {
			response.BadRequest(c, "invalid status")
			return
		}
	}
	list, err := h.svc.AdminList(c.Request.Context(), f, status, c.Query("includeEnded") == "true")
	if err != nil {
		RespondError(c, err)
		return
	}
	sessions(c, list)
}

// Live handles GET /live-sessions/live.
func (h *Handler) Live(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	list, err := h.svc.Live(c.Request.Context(), f)
	if err != nil {
		RespondError(c, err)
		return
	}
	sessions(c, list)
}

// Upcoming handles GET /live-sessions/upcoming.
func (h *Handler) Upcoming(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	list, err := h.svc.Upcoming(c.Request.Context(), f)
	if err != nil {
		RespondError(c, err)
		return
	}
	sessions(c, list)
}

// History handles GET /live-sessions/history?limit=N.
func (h *Handler) History(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.svc.History(c.Request.Context(), f, limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	sessions(c, list)
}

// ByReference handles GET /live-sessions/reference/:type/:referenceId.
func (h *Handler) ByReference(c *gin.Context) {
	typ, ok := models.ParseSessionType(c.Param("type"))
	if !ok {
		response.BadRequest(c, "invalid session type")
		return
	}
	list, err := h.svc.ByReference(c.Request.Context(), typ, c.Param("referenceId"), c.Query("includeEnded") == "true")
	if err != nil {
		RespondError(c, err)
		return
	}
	sessions(c, list)
}

// GetByID handles GET /live-sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, ok := ParseID(c)
	if !ok {
		return
	}
	sess, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	response.OK(c, gin.H{"session": sess})
}

// Update handles PUT /live-sessions/:id (SCHEDULED sessions only).
func (h *Handler) Update(c *gin.Context) {
	id, ok := ParseID(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	p := UpdateParams{Title: req.Title, Description: req.Description, DurationMinutes: req.DurationMinutes}
	if req.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			response.BadRequest(c, "invalid scheduledAt")
			return
		}
		t = t.UTC()
		p.ScheduledAt = &t
	}
	sess, err := h.svc.Update(c.Request.Context(), id, p)
	if err != nil {
		RespondError(c, err)
		return
	}
	response.OK(c, gin.H{"session": sess})
}

// Start handles PATCH /live-sessions/:id/start.
func (h *Handler) Start(c *gin.Context) {
	h.lifecycle(c, h.svc.Start)
}

// End handles PATCH /live-sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	h.lifecycle(c, h.svc.End)
}

// Cancel handles PATCH /live-sessions/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	h.lifecycle(c, h.svc.Cancel)
}

func (h *Handler) lifecycle(c *gin.Context, op func(context.Context, uuid.UUID) (*models.LiveSession, error)) {
	id, ok := ParseID(c)
	if !ok {
		return
	}
	sess, err := op(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	response.OK(c, gin.H{"session": sess})
}

// Delete handles DELETE /live-sessions/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := ParseID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	response.OK(c, gin.H{"sessionId": id})
}
