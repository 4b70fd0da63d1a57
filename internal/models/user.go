package models

import "github.com/google/uuid"

// Role is the platform role carried in access tokens.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleHost    Role = "host"
	RoleStudent Role = "student"
)

// Actor is the authenticated caller of a request or websocket connection.
type Actor struct {
	UserID uuid.UUID
	Name   string
	Email  string
	Role   Role
}

// CanManageSessions reports whether the actor may run lifecycle operations.
func (a Actor) CanManageSessions() bool {
	return a.Role == RoleAdmin || a.Role == RoleHost
}
