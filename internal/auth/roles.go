package auth

import "strings"

// Role is an employee role. Roles are a flat enumeration; approval
// capability is a configured allow-list, not a hierarchy.
type Role string

const (
	RoleTeller     Role = "TELLER"
	RoleSupervisor Role = "SUPERVISOR"
	RoleManager    Role = "MANAGER"
	RoleVVIP       Role = "VVIP"
	RoleAdmin      Role = "ADMIN"
	RoleDBA        Role = "DBA"
)

var allRoles = map[Role]struct{}{
	RoleTeller:     {},
	RoleSupervisor: {},
	RoleManager:    {},
	RoleVVIP:       {},
	RoleAdmin:      {},
	RoleDBA:        {},
}

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := allRoles[r]
	return r, ok
}

// RoleSet is a membership set over roles. Extension happens by adding roles
// to the set, never by subtyping.
type RoleSet map[Role]struct{}

// Contains reports set membership.
func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// NewRoleSet builds a set from the given roles, ignoring unknown names.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if _, ok := allRoles[r]; ok {
			set[r] = struct{}{}
		}
	}
	return set
}

// ParseRoleSet parses a comma-separated role list, e.g. the value of
// XPLORA_APPROVER_ROLES. Unknown names are dropped.
func ParseRoleSet(raw string) RoleSet {
	set := RoleSet{}
	for _, part := range strings.Split(raw, ",") {
		if r, ok := ParseRole(part); ok {
			set[r] = struct{}{}
		}
	}
	return set
}

// DefaultApproverRoles is the policy default: tellers request, these roles
// approve. DBA is not an approver.
func DefaultApproverRoles() RoleSet {
	return NewRoleSet(RoleSupervisor, RoleManager, RoleVVIP, RoleAdmin)
}
