package devices

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skillup-live/backend/internal/auth"
	"github.com/skillup-live/backend/internal/middleware"
	"github.com/skillup-live/backend/internal/models"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type listData struct {
	Count   int                    `json:"count"`
	Devices []models.DeviceSession `json:"devices"`
}

func setupRouter(t *testing.T) (*gin.Engine, *fixture, string, uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture()
	f.presence.On("LeaveDevice", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	jwt := auth.NewJWTService("test-secret", 1)
	user := uuid.New()
	tok, err := jwt.Generate(models.Actor{UserID: user, Role: models.RoleStudent})
	require.NoError(t, err)

	h := NewHandler(f.registry)
	r := gin.New()
	g := r.Group("/devices", middleware.JWT(jwt), middleware.Device(), Touch(f.registry))
	g.POST("", h.Register)
	g.GET("", h.List)
	g.DELETE("", h.RevokeAll)
	g.DELETE("/:deviceId", h.Revoke)
	return r, f, tok, user
}

func call(t *testing.T, r *gin.Engine, method, path, token, device string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if device != "" {
		req.Header.Set(middleware.HeaderDeviceID, device)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestHandlerRegisterAndList(t *testing.T) {
	r, _, tok, _ := setupRouter(t)

	code, env := call(t, r, http.MethodPost, "/devices", tok, "", RegisterRequest{DeviceID: "android-1", DeviceName: "Pixel 8", Platform: "android"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var created struct {
		Device models.DeviceSession `json:"device"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "Pixel 8", created.Device.DeviceName)
	assert.Equal(t, models.PlatformAndroid, created.Device.Platform)
	assert.True(t, created.Device.IsCurrent)

	code, env = call(t, r, http.MethodPost, "/devices", tok, "", RegisterRequest{DeviceID: "x", Platform: "symbian"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid platform", env.Error)

	code, env = call(t, r, http.MethodPost, "/devices", tok, "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrNoDeviceID.Error(), env.Error)

	// the web request is recorded by Touch in the background
	require.Eventually(t, func() bool {
		_, env := call(t, r, http.MethodGet, "/devices", tok, "web-1", nil)
		var list listData
		return json.Unmarshal(env.Data, &list) == nil && list.Count == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, env = call(t, r, http.MethodGet, "/devices", tok, "android-1", nil)
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	for _, d := range list.Devices {
		assert.Equal(t, d.DeviceID == "android-1", d.IsCurrent, d.DeviceID)
	}
}

func TestHandlerRevoke(t *testing.T) {
	r, f, tok, user := setupRouter(t)
	f.register(t, user, "web-1", models.PlatformWeb)
	f.register(t, user, "android-1", models.PlatformAndroid)
	f.register(t, user, "ios-1", models.PlatformIOS)

	code, env := call(t, r, http.MethodDelete, "/devices/web-1", tok, "web-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrCurrentDevice.Error(), env.Error)

	code, env = call(t, r, http.MethodDelete, "/devices/nope", tok, "web-1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, ErrNotFound.Error(), env.Error)

	code, env = call(t, r, http.MethodDelete, "/devices/ios-1", tok, "web-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"revokedDevice":"Unknown Device","deviceId":"ios-1"}`, string(env.Data))

	code, env = call(t, r, http.MethodDelete, "/devices", tok, "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = call(t, r, http.MethodDelete, "/devices", tok, "web-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"revokedCount":1}`, string(env.Data))
	f.presence.AssertCalled(t, "LeaveDevice", mock.Anything, user, "android-1")
}
