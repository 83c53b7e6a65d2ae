package identity

import (
	"fmt"
	"strings"
)

// Role is the closed set of principal roles.
type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

// Roles lists every valid role.
var Roles = []Role{RolePatient, RoleDoctor, RoleAdmin}

// ParseRole accepts a role name in any case. Empty input is an error; callers
// that default to PATIENT do so explicitly.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if r.Valid() {
		return r, nil
	}
	return "", invalid("identity.ParseRole", fmt.Sprintf("unknown role %q", s))
}

// Valid reports whether r is one of Roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }
