package core

import "strings"

// Role identifies the privilege level of the requesting principal.
type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a string to a known role. Unknown or empty values fall
// back to RoleUser, the least privileged role.
func ParseRole(value string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleOperator:
		return RoleOperator
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

// AllRoles returns every known role.
func AllRoles() []Role {
	return []Role{RoleUser, RoleOperator, RoleAdmin}
}
