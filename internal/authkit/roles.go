package authkit

import (
	"fmt"
	"strings"
)

// Role is an RBAC role carried by users and access tokens.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// Valid reports whether role is a known role.
func (role Role) Valid() bool {
	switch role {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// ParseRole normalizes and validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("role.parse: unknown role %q", raw)
	}
	return role, nil
}

func rolesContain(allowed []Role, role Role) bool {
	for _, candidate := range allowed {
		if candidate == role {
			return true
		}
	}
	return false
}
