package conference

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skillup-live/backend/config"
	"github.com/skillup-live/backend/internal/models"
)

// UserContext is the "context.user" block Jitsi reads from a room token.
type UserContext struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Moderator bool   `json:"moderator"`
}

// RoomClaims are the claims of a Jitsi Meet room token.
type RoomClaims struct {
	Room    string `json:"room"`
	Context struct {
		User UserContext `json:"user"`
	} `json:"context"`
	jwt.RegisteredClaims
}

// Room describes how a client reaches a session's conference room.
type Room struct {
	RoomName string `json:"roomName"`
	Domain   string `json:"domain"`
	Token    string `json:"token,omitempty"`
}

// Signer builds conference rooms and signs tokens for them.
type Signer struct {
	cfg config.ConferenceConfig
	now func() time.Time
}

// NewSigner creates a signer. Tokens are issued only when AppID and AppSecret are set.
func NewSigner(cfg config.ConferenceConfig) *Signer {
	if cfg.TokenTTLMinutes <= 0 {
		cfg.TokenTTLMinutes = 180
	}
	return &Signer{cfg: cfg, now: time.Now}
}

// Configured reports whether a domain is set.
func (s *Signer) Configured() bool { return s.cfg.Domain != "" }

// RoomName maps a session's room id to the provider room name.
func (s *Signer) RoomName(roomID string) string { return s.cfg.RoomPrefix + roomID }

// Room returns the conference room for a session and, when signing is configured, a token for the actor.
func (s *Signer) Room(sess *models.LiveSession, actor models.Actor) (*Room, error) {
	room := &Room{RoomName: s.RoomName(sess.RoomID), Domain: s.cfg.Domain}
	if s.cfg.AppID == "" || s.cfg.AppSecret == "" {
		return room, nil
	}
	token, err := s.sign(room.RoomName, actor, s.moderator(sess, actor))
	if err != nil {
		return nil, err
	}
	room.Token = token
	return room, nil
}

// admins and the session host moderate; a host of another session does not.
func (s *Signer) moderator(sess *models.LiveSession, actor models.Actor) bool {
	if actor.Role == models.RoleAdmin {
		return true
	}
	return sess.HostID != nil && *sess.HostID == actor.UserID
}

func (s *Signer) sign(roomName string, actor models.Actor, moderator bool) (string, error) {
	now := s.now()
	claims := RoomClaims{
		Room: roomName,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"jitsi"},
			Issuer:    s.cfg.AppID,
			Subject:   s.cfg.Domain,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.cfg.TokenTTLMinutes) * time.Minute)),
		},
	}
	claims.Context.User = UserContext{
		ID:        actor.UserID.String(),
		Name:      actor.Name,
		Email:     actor.Email,
		Moderator: moderator,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.AppSecret))
	if err != nil {
		return "", fmt.Errorf("conference: sign room token: %w", err)
	}
	return signed, nil
}
