package domain

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when the acting user's role does not permit an operation.
var ErrForbidden = errors.New("forbidden")

// Role is the workflow role of an acting user.
type Role string

const (
	RoleDrafter  Role = "drafter"
	RoleApprover Role = "approver"

	// RoleSystem is held by background workers. It is never accepted from requests.
	RoleSystem Role = "system"
)

func (r Role) IsValid() bool {
	return r == RoleDrafter || r == RoleApprover || r == RoleSystem
}

// IsUser reports whether r may be presented by a human caller.
func (r Role) IsUser() bool {
	return r == RoleDrafter || r == RoleApprover
}

// Actor identifies the user performing an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor is the actor recorded for background operations.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// Require returns ErrForbidden unless the actor is identified and holds one of roles.
// An empty roles list admits any valid role.
func (a Actor) Require(operation string, roles ...Role) error {
	if a.ID == "" || !a.Role.IsValid() {
		return fmt.Errorf("%w: %s requires an identified actor", ErrForbidden, operation)
	}
	if len(roles) == 0 {
		return nil
	}
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s may not %s", ErrForbidden, a.Role, operation)
}
