package presence

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/auth"
	"github.com/skillup-live/backend/internal/livesessions"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/internal/realtime"
)

func TestAnonymousSocketSeesNoParticipantIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := realtime.NewHub(nil, nil, nil)
	store := livesessions.NewMemoryStore()
	sessions := livesessions.NewService(store, hub, nil, livesessions.Options{})
	tracker := NewTracker(store, hub, nil)

	r := gin.New()
	r.GET("/ws", realtime.ServeWs(hub, zap.NewNop(), auth.NewJWTService("test-secret", 1).Validate))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	hostID := uuid.New()
	sess, err := sessions.Create(ctx, models.Actor{UserID: hostID, Name: "Host", Email: "host@private.example", Role: models.RoleHost},
		livesessions.CreateInput{Title: "Kernels", SessionType: "course", ReferenceID: "c-1", ScheduledAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return hub.TopicSize(realtime.TopicLiveSessions) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, conn.WriteJSON(realtime.WSMessage{
		Event: realtime.MsgSessionSubscribe,
		Data:  json.RawMessage(`{"sessionId":"` + sess.ID.String() + `"}`),
	}))
	require.Eventually(t, func() bool { return hub.TopicSize(realtime.SessionTopic(sess.ID)) == 1 }, 2*time.Second, 5*time.Millisecond)

	ana := models.Actor{UserID: uuid.New(), Name: "Ana", Email: "ana@private.example", Role: models.RoleStudent}
	_, err = sessions.Start(ctx, sess.ID)
	require.NoError(t, err)
	_, err = tracker.Join(ctx, ana, sess.ID, "ana-phone-1", models.PlatformAndroid, false)
	require.NoError(t, err)
	_, err = tracker.TransferHere(ctx, ana, sess.ID, "ana-laptop-2", models.PlatformWeb)
	require.NoError(t, err)
	_, err = sessions.End(ctx, sess.ID)
	require.NoError(t, err)

	seen := map[string]bool{}
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		body := string(raw)
		for _, secret := range []string{"ana@private.example", "host@private.example", "ana-phone-1", "ana-laptop-2", ana.UserID.String(), hostID.String()} {
			assert.NotContains(t, body, secret)
		}
		for _, ev := range []string{realtime.EventSessionStarted, realtime.EventParticipantJoined, realtime.EventSessionEnded} {
			if strings.Contains(body, `"event":"`+ev+`"`) {
				seen[ev] = true
			}
		}
	}
	assert.True(t, seen[realtime.EventSessionStarted])
	assert.True(t, seen[realtime.EventParticipantJoined])
	assert.True(t, seen[realtime.EventSessionEnded])
}
