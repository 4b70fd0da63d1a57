package presence

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/livesessions"
	"github.com/skillup-live/backend/internal/middleware"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/pkg/response"
)

const beaconTimeout = 10 * time.Second

// DeviceRequest is the body for join and transfer. Fields fall back to the device headers.
type DeviceRequest struct {
	DeviceID           string `json:"deviceId"`
	Platform           string `json:"platform"`
	AsAdditionalDevice bool   `json:"asAdditionalDevice"`
}

// Handler handles presence and transfer HTTP endpoints.
type Handler struct {
	tracker *Tracker
	logger  *zap.Logger
}

// NewHandler creates a presence handler.
func NewHandler(tracker *Tracker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tracker: tracker, logger: logger}
}

// device resolves the device from the body first, then the headers.
func device(c *gin.Context, req DeviceRequest) (string, models.Platform, bool) {
	id, platform := middleware.DeviceFrom(c)
	if req.DeviceID != "" {
		id = req.DeviceID
	}
	if req.Platform != "" {
		p, ok := models.ParsePlatform(req.Platform)
		if !ok {
			response.BadRequest(c, "invalid platform")
			return "", "", false
		}
		platform = p
	}
	if id == "" {
		response.BadRequest(c, "deviceId is required")
		return "", "", false
	}
	return id, platform, true
}

// Join handles POST /live-sessions/:id/join.
func (h *Handler) Join(c *gin.Context) {
	id, ok := livesessions.ParseID(c)
	if !ok {
		return
	}
	var req DeviceRequest
	_ = c.ShouldBindJSON(&req)
	deviceID, platform, ok := device(c, req)
	if !ok {
		return
	}
	res, err := h.tracker.Join(c.Request.Context(), middleware.ActorFrom(c), id, deviceID, platform, req.AsAdditionalDevice)
	if err != nil {
		livesessions.RespondError(c, err)
		return
	}
	response.OK(c, res)
}

// Leave handles POST /live-sessions/:id/leave. Without a device id every device of the user
// leaves the session. Always succeeds unless storage fails.
func (h *Handler) Leave(c *gin.Context) {
	id, ok := livesessions.ParseID(c)
	if !ok {
		return
	}
	var req DeviceRequest
	_ = c.ShouldBindJSON(&req)
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID, _ = middleware.DeviceFrom(c)
	}
	if err := h.tracker.Leave(c.Request.Context(), middleware.ActorFrom(c), id, deviceID); err != nil {
		livesessions.RespondError(c, err)
		return
	}
	response.OK(c, gin.H{"sessionId": id})
}

// LeaveBeacon handles POST /live-sessions/:id/leave/beacon, sent during page or app teardown.
// The response may never be read, so it always answers 204 and performs the leave detached
// from the request context.
func (h *Handler) LeaveBeacon(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.NoContent(c)
		return
	}
	deviceID, _ := middleware.DeviceFrom(c)
	actor := middleware.ActorFrom(c)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), beaconTimeout)
	defer cancel()
	if err := h.tracker.Leave(ctx, actor, id, deviceID); err != nil {
		h.logger.Warn("beacon leave failed",
			zap.String("session_id", id.String()), zap.String("user_id", actor.UserID.String()), zap.Error(err))
	}
	response.NoContent(c)
}

// TransferHere handles POST /live-sessions/:id/transfer/here.
func (h *Handler) TransferHere(c *gin.Context) {
	id, ok := livesessions.ParseID(c)
	if !ok {
		return
	}
	var req DeviceRequest
	_ = c.ShouldBindJSON(&req)
	deviceID, platform, ok := device(c, req)
	if !ok {
		return
	}
	res, err := h.tracker.TransferHere(c.Request.Context(), middleware.ActorFrom(c), id, deviceID, platform)
	if err != nil {
		livesessions.RespondError(c, err)
		return
	}
	response.OK(c, res)
}

// MyActive handles GET /live-sessions/my-active.
func (h *Handler) MyActive(c *gin.Context) {
	active, err := h.tracker.QueryActive(c.Request.Context(), middleware.ActorFrom(c).UserID)
	if err != nil {
		livesessions.RespondError(c, err)
		return
	}
	response.OK(c, active)
}
