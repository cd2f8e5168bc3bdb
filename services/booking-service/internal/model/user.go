package model

import "strings"

type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole is case-insensitive; unknown roles are treated as clients.
func ParseRole(s string) Role {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleProvider, RoleAdmin:
		return r
	default:
		return RoleClient
	}
}

// CanProvide reports whether users with this role may own availability and appointments.
func (r Role) CanProvide() bool {
	return r == RoleProvider || r == RoleAdmin
}

// User is the local mirror of an identity record.
type User struct {
	ID       string
	Name     string
	Email    string
	Phone    string
	Role     Role
	IsActive bool
}
