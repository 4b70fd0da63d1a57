package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
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

type api struct {
	*env
	router *gin.Engine
	jwt    *auth.JWTService
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a := &api{env: newEnv(t), router: gin.New(), jwt: auth.NewJWTService("test-secret", 1)}
	h := NewHandler(a.tracker, nil)

	a.router.POST("/live-sessions/:id/leave/beacon", middleware.BeaconJWT(a.jwt), middleware.Device(), h.LeaveBeacon)
	g := a.router.Group("/live-sessions", middleware.JWT(a.jwt), middleware.Device())
	g.GET("/my-active", h.MyActive)
	g.POST("/:id/join", h.Join)
	g.POST("/:id/leave", h.Leave)
	g.POST("/:id/transfer/here", h.TransferHere)
	return a
}

func (a *api) token(t *testing.T, actor models.Actor) string {
	t.Helper()
	tok, err := a.jwt.Generate(actor)
	require.NoError(t, err)
	return tok
}

func (a *api) do(t *testing.T, method, path, token, device string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if device != "" {
		req.Header.Set(middleware.HeaderDeviceID, device)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHandlerJoinTransferLeave(t *testing.T) {
	a := newAPI(t)
	sess := a.liveSession(t)
	actor := models.Actor{UserID: uuid.New(), Name: "Ana", Role: models.RoleStudent}
	tok := a.token(t, actor)
	base := "/live-sessions/" + sess.ID.String()

	w, env := a.do(t, http.MethodPost, base+"/join", tok, "", DeviceRequest{DeviceID: "web-x", Platform: "web"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var joined JoinResult
	require.NoError(t, json.Unmarshal(env.Data, &joined))
	assert.False(t, joined.AlreadyActive)
	assert.Equal(t, sess.RoomID, joined.RoomID)

	// device from the header, platform from the body
	w, env = a.do(t, http.MethodPost, base+"/join", tok, "android-y", DeviceRequest{Platform: "android"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &joined))
	assert.True(t, joined.AlreadyActive)
	assert.Equal(t, "web-x", joined.ActiveOnDevice.DeviceID)

	w, env = a.do(t, http.MethodPost, base+"/transfer/here", tok, "android-y", DeviceRequest{Platform: "android"})
	require.Equal(t, http.StatusOK, w.Code)
	var moved TransferResult
	require.NoError(t, json.Unmarshal(env.Data, &moved))
	assert.Equal(t, "web-x", moved.TransferredFrom.DeviceID)

	w, env = a.do(t, http.MethodGet, "/live-sessions/my-active", tok, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active ActiveSession
	require.NoError(t, json.Unmarshal(env.Data, &active))
	assert.True(t, active.HasActiveSession)
	assert.Equal(t, models.PlatformAndroid, active.ActiveOnDevice.Platform)

	w, _ = a.do(t, http.MethodPost, base+"/leave", tok, "android-y", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = a.do(t, http.MethodPost, base+"/leave", tok, "android-y", nil)
	require.Equal(t, http.StatusOK, w.Code, "leave is idempotent")
	assert.Equal(t, 0, a.count(t, sess.ID))
}

func TestHandlerErrors(t *testing.T) {
	a := newAPI(t)
	sess := a.liveSession(t)
	tok := a.token(t, models.Actor{UserID: uuid.New(), Role: models.RoleStudent})
	base := "/live-sessions/" + sess.ID.String()

	tests := []struct {
		name   string
		path   string
		token  string
		body   any
		status int
		msg    string
	}{
		{"no token", base + "/join", "", DeviceRequest{DeviceID: "d"}, http.StatusUnauthorized, "missing authorization header"},
		{"bad token", base + "/join", "nope", DeviceRequest{DeviceID: "d"}, http.StatusUnauthorized, "invalid or expired token"},
		{"bad id", "/live-sessions/xyz/join", tok, DeviceRequest{DeviceID: "d"}, http.StatusBadRequest, "invalid session id"},
		{"no device", base + "/join", tok, DeviceRequest{}, http.StatusBadRequest, "deviceId is required"},
		{"bad platform", base + "/join", tok, DeviceRequest{DeviceID: "d", Platform: "symbian"}, http.StatusBadRequest, "invalid platform"},
		{"unknown session", "/live-sessions/" + uuid.NewString() + "/join", tok, DeviceRequest{DeviceID: "d"}, http.StatusNotFound, "session not found"},
		{"nothing to transfer", base + "/transfer/here", tok, DeviceRequest{DeviceID: "d"}, http.StatusBadRequest, "no active session to transfer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := a.do(t, http.MethodPost, tt.path, tt.token, "", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.msg, env.Error)
		})
	}

	_, err := a.sessions.End(context.Background(), sess.ID)
	require.NoError(t, err)
	w, env := a.do(t, http.MethodPost, base+"/join", tok, "", DeviceRequest{DeviceID: "d"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "session is not live", env.Error)
}

func TestHandlerLeaveBeacon(t *testing.T) {
	a := newAPI(t)
	sess := a.liveSession(t)
	actor := models.Actor{UserID: uuid.New()}
	tok := a.token(t, actor)

	_, err := a.tracker.Join(context.Background(), actor, sess.ID, "web-x", models.PlatformWeb, false)
	require.NoError(t, err)

	path := "/live-sessions/" + sess.ID.String() + "/leave/beacon?token=" + tok + "&deviceId=web-x"
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, a.count(t, sess.ID))

	// bad credentials still answer 204
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/live-sessions/"+sess.ID.String()+"/leave/beacon?token=bad", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
