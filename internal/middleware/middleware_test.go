package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillup-live/backend/internal/auth"
	"github.com/skillup-live/backend/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDevice(t *testing.T) {
	r := gin.New()
	r.GET("/d", Device(), func(c *gin.Context) {
		id, p := DeviceFrom(c)
		c.String(http.StatusOK, id+"|"+string(p))
	})

	tests := []struct {
		name    string
		target  string
		headers map[string]string
		want    string
	}{
		{"headers", "/d", map[string]string{HeaderDeviceID: " ios-1 ", HeaderDevicePlatform: "IOS"}, "ios-1|ios"},
		{"query fallback", "/d?deviceId=web-9&platform=android", nil, "web-9|android"},
		{"header wins", "/d?deviceId=q", map[string]string{HeaderDeviceID: "h"}, "h|web"},
		{"unknown platform", "/d", map[string]string{HeaderDeviceID: "x", HeaderDevicePlatform: "palm"}, "x|web"},
		{"none", "/d", nil, "|web"},
		{"truncated", "/d", map[string]string{HeaderDeviceID: strings.Repeat("a", 200)}, strings.Repeat("a", maxDeviceIDLen) + "|web"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestJWTAndRequireRole(t *testing.T) {
	jwt := auth.NewJWTService("test-secret", 1)
	r := gin.New()
	r.GET("/me", JWT(jwt), func(c *gin.Context) {
		c.String(http.StatusOK, ActorFrom(c).Name)
	})
	r.GET("/admin", JWT(jwt), RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.POST("/beacon", BeaconJWT(jwt), func(c *gin.Context) {
		c.String(http.StatusOK, ActorFrom(c).UserID.String())
	})

	user := uuid.New()
	student, err := jwt.Generate(models.Actor{UserID: user, Name: "Ana", Role: models.RoleStudent})
	require.NoError(t, err)
	admin, err := jwt.Generate(models.Actor{UserID: uuid.New(), Role: models.RoleAdmin})
	require.NoError(t, err)

	do := func(method, target, authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/me", "Bearer "+student)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ana", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/me", "Token "+student).Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/me?token="+student, "").Code, "query token is beacon only")

	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/admin", "Bearer "+student).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/admin", "Bearer "+admin).Code)

	w = do(http.MethodPost, "/beacon?token="+student, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.String(), w.Body.String())
	assert.Equal(t, http.StatusNoContent, do(http.MethodPost, "/beacon?token=bad", "").Code)
	assert.Equal(t, http.StatusNoContent, do(http.MethodPost, "/beacon", "").Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS("http://a.test, http://b.test"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://b.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://b.test", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
