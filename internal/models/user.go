package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the authorization level carried by a user row and its access tokens.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	return string(r)
}

type User struct {
	ID           string
	Email        string
	PasswordHash string // empty for OAuth-only users
	Name         string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the user may call the administrative API.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
