package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/skillup-live/backend/internal/models"
)

const (
	// HeaderDeviceID carries the stable per-installation device identifier.
	HeaderDeviceID = "X-Device-ID"
	// HeaderDevicePlatform carries the platform tag (android, ios, web).
	HeaderDevicePlatform = "X-Device-Platform"

	ContextDeviceID       = "device_id"
	ContextDevicePlatform = "device_platform"
)

const maxDeviceIDLen = 128

// Device reads the device headers into the gin context. Beacon requests may pass deviceId
// in the query string instead.
func Device() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderDeviceID))
		if id == "" {
			id = strings.TrimSpace(c.Query("deviceId"))
		}
		if len(id) > maxDeviceIDLen {
			id = id[:maxDeviceIDLen]
		}
		if id != "" {
			c.Set(ContextDeviceID, id)
		}
		platform := c.GetHeader(HeaderDevicePlatform)
		if platform == "" {
			platform = c.Query("platform")
		}
		if p, ok := models.ParsePlatform(platform); ok {
			c.Set(ContextDevicePlatform, p)
		}
		c.Next()
	}
}

// DeviceFrom returns the device id and platform set by Device. Platform defaults to web.
func DeviceFrom(c *gin.Context) (string, models.Platform) {
	id := c.GetString(ContextDeviceID)
	p := models.PlatformWeb
	if v, ok := c.Get(ContextDevicePlatform); ok {
		if pp, ok := v.(models.Platform); ok {
			p = pp
		}
	}
	return id, p
}
