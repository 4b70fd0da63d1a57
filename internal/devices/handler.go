package devices

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skillup-live/backend/internal/middleware"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/pkg/response"
)

// HeaderDeviceName optionally names the device ("Pixel 8", "Chrome on macOS").
const HeaderDeviceName = "X-Device-Name"

// RegisterRequest is the body for POST /devices.
type RegisterRequest struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
}

// Handler handles device session HTTP endpoints.
type Handler struct {
	registry *Registry
}

// NewHandler creates a device handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func sessionFrom(c *gin.Context) models.DeviceSession {
	deviceID, platform := middleware.DeviceFrom(c)
	return models.DeviceSession{
		UserID:     middleware.ActorFrom(c).UserID,
		DeviceID:   deviceID,
		DeviceName: c.GetHeader(HeaderDeviceName),
		Platform:   platform,
		UserAgent:  c.Request.UserAgent(),
		IPAddress:  c.ClientIP(),
	}
}

// Touch is a middleware that records activity for authenticated requests carrying a device id.
// It must run after JWT and Device. The write happens in the background.
func Touch(registry *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := sessionFrom(c)
		if d.DeviceID != "" && d.UserID != uuid.Nil {
			registry.Touch(d)
		}
		c.Next()
	}
}

// Register handles POST /devices, called after sign-in.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	_ = c.ShouldBindJSON(&req)
	d := sessionFrom(c)
	if req.DeviceID != "" {
		d.DeviceID = req.DeviceID
	}
	if req.DeviceName != "" {
		d.DeviceName = req.DeviceName
	}
	if req.Platform != "" {
		p, ok := models.ParsePlatform(req.Platform)
		if !ok {
			response.BadRequest(c, "invalid platform")
			return
		}
		d.Platform = p
	}
	if d.DeviceID == "" {
		response.BadRequest(c, ErrNoDeviceID.Error())
		return
	}
	saved, err := h.registry.Register(c.Request.Context(), d)
	if err != nil {
		_ = c.Error(err)
		response.Internal(c, "failed to register device")
		return
	}
	saved.IsCurrent = true
	response.Created(c, gin.H{"device": saved})
}

// List handles GET /devices.
func (h *Handler) List(c *gin.Context) {
	current, _ := middleware.DeviceFrom(c)
	list, err := h.registry.List(c.Request.Context(), middleware.ActorFrom(c).UserID, current)
	if err != nil {
		_ = c.Error(err)
		response.Internal(c, "failed to fetch device sessions")
		return
	}
	if list == nil {
		list = []models.DeviceSession{}
	}
	response.OK(c, gin.H{"count": len(list), "devices": list})
}

// Revoke handles DELETE /devices/:deviceId.
func (h *Handler) Revoke(c *gin.Context) {
	current, _ := middleware.DeviceFrom(c)
	d, err := h.registry.Revoke(c.Request.Context(), middleware.ActorFrom(c).UserID, c.Param("deviceId"), current)
	switch {
	case errors.Is(err, ErrCurrentDevice):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case err != nil:
		_ = c.Error(err)
		response.Internal(c, "failed to revoke device session")
	default:
		response.OK(c, gin.H{"revokedDevice": d.DeviceName, "deviceId": d.DeviceID})
	}
}

// RevokeAll handles DELETE /devices.
func (h *Handler) RevokeAll(c *gin.Context) {
	current, _ := middleware.DeviceFrom(c)
	n, err := h.registry.RevokeAll(c.Request.Context(), middleware.ActorFrom(c).UserID, current)
	switch {
	case errors.Is(err, ErrNoDeviceID):
		response.BadRequest(c, err.Error())
	case err != nil:
		_ = c.Error(err)
		response.Internal(c, "failed to revoke device sessions")
	default:
		response.OK(c, gin.H{"revokedCount": n})
	}
}
