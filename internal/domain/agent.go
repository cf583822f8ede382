package domain

import "time"

// AgentRole enumerates internal operator roles.
type AgentRole string

const (
	RoleAgent      AgentRole = "agent"
	RoleAdmin      AgentRole = "admin"
	RoleSuperAdmin AgentRole = "super_admin"
)

// IsAdmin reports whether the role carries cross-team override rights.
func (r AgentRole) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Agent models a support operator who handles tickets and live chats.
type Agent struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         AgentRole
	TeamID       *string
	Active       bool
	MaxChats     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
