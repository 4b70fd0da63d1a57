package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skillup-live/backend/internal/auth"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
	// ContextUserName is the key for the display name in gin context.
	ContextUserName = "user_name"
)

// JWT returns a middleware that validates the bearer token and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return jwtMiddleware(jwtService, false)
}

// BeaconJWT also accepts the token in the "token" query parameter, for sendBeacon-style
// requests that cannot set headers. Failures answer 204 since nobody reads the response.
func BeaconJWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return jwtMiddleware(jwtService, true)
}

func jwtMiddleware(jwtService *auth.JWTService, beacon bool) gin.HandlerFunc {
	reject := func(c *gin.Context, msg string) {
		if beacon {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		response.Abort(c, http.StatusUnauthorized, msg)
	}
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				reject(c, "invalid authorization header")
				return
			}
			token = parts[1]
		} else if beacon {
			token = c.Query("token")
		}
		if token == "" {
			reject(c, "missing authorization header")
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			msg := "invalid or expired token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "token expired"
			}
			reject(c, msg)
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserEmail, claims.Email)
		c.Set(ContextUserName, claims.Name)
		c.Next()
	}
}

// ActorFrom returns the authenticated actor set by JWT.
func ActorFrom(c *gin.Context) models.Actor {
	id, _ := c.Get(ContextUserID)
	userID, _ := id.(uuid.UUID)
	return models.Actor{
		UserID: userID,
		Name:   c.GetString(ContextUserName),
		Email:  c.GetString(ContextUserEmail),
		Role:   models.Role(c.GetString(ContextUserRole)),
	}
}
