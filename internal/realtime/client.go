package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TokenValidator validates a bearer token.
type TokenValidator func(token string) (*auth.Claims, error)

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	UserID   uuid.UUID
	Role     string
	DeviceID string
	hub      *Hub
	conn     *websocket.Conn
	send     chan WSMessage
	topics   map[string]struct{}
	validate TokenValidator
	logger   *zap.Logger
}

type subscribeRequest struct {
	SessionID string `json:"sessionId"`
}

type authRefreshRequest struct {
	Token string `json:"token"`
}

// ServeWs upgrades the connection and runs the client loop. The token (query "token" or bearer
// header) is optional; a missing or invalid token yields an anonymous connection that only
// receives public lifecycle events.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		var (
			claims  *auth.Claims
			authErr error
		)
		if token != "" {
			claims, authErr = validate(token)
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			DeviceID: c.Query("deviceId"),
			hub:      hub,
			conn:     conn,
			send:     make(chan WSMessage, 256),
			topics:   make(map[string]struct{}),
			validate: validate,
			logger:   logger,
		}
		if claims != nil {
			client.UserID = claims.UserID
			client.Role = claims.Role
		}
		hub.Register(client)
		if authErr != nil {
			client.reply(EventAuthError, authErrorPayload(authErr))
		}
		go client.writePump()
		client.readPump()
	}
}

func authErrorPayload(err error) map[string]string {
	msg := "invalid token"
	if errors.Is(err, auth.ErrExpiredToken) {
		msg = "token expired"
	}
	return map[string]string{"message": msg}
}

// reply queues a message for this connection only.
func (c *Client) reply(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case MsgSessionSubscribe, MsgSessionUnsubscribe:
			var req subscribeRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				continue
			}
			id, err := uuid.Parse(req.SessionID)
			if err != nil {
				continue
			}
			if msg.Event == MsgSessionSubscribe {
				c.hub.Subscribe(c, SessionTopic(id))
				c.reply(EventSubscribed, map[string]string{"sessionId": id.String()})
			} else {
				c.hub.Unsubscribe(c, SessionTopic(id))
			}
		case MsgAuthRefresh:
			var req authRefreshRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil || req.Token == "" {
				c.reply(EventAuthError, map[string]string{"message": "token required"})
				continue
			}
			claims, err := c.validate(req.Token)
			if err != nil {
				c.reply(EventAuthError, authErrorPayload(err))
				continue
			}
			c.hub.Rebind(c, claims.UserID, claims.Role)
			c.reply(EventAuthRefreshed, map[string]string{"userId": claims.UserID.String()})
			c.logger.Debug("websocket token refreshed", zap.String("client_id", c.ID), zap.String("user_id", claims.UserID.String()))
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
