package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRole signals a role string outside the policy table.
var ErrInvalidRole = errors.New("auth: invalid role")

type Role string

const (
	RoleManager  Role = "manager"
	RoleSalesRep Role = "sales_rep"
	RoleViewer   Role = "viewer"
)

// ParseRole normalizes user input into a known role.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("%w %q", ErrInvalidRole, s)
	}
	return role, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleManager, RoleSalesRep, RoleViewer:
		return true
	default:
		return false
	}
}

// Principal is the authenticated actor as supplied by the auth collaborator.
// Email is the stable identity; Role may change during a session and is never
// copied into past history attribution, which records Name only.
type Principal struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// State is what a session persists between runs.
type State struct {
	Principal *Principal
	Token     string
}
