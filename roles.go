package auth

import "strings"

// Role is the portal a user belongs to.
type Role string

const (
	RoleStudent      Role = "student"
	RoleCounselor    Role = "counselor"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

// Roles lists every role in display order.
var Roles = []Role{RoleStudent, RoleCounselor, RoleProfessional, RoleAdmin}

// ParseRole reads a role name case insensitively. Unknown names return
// false together with RoleStudent.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r.IsValid() {
		return r, true
	}
	return RoleStudent, false
}

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleCounselor, RoleProfessional, RoleAdmin:
		return true
	default:
		return false
	}
}

// SelfRegistrable reports whether users may pick this role when signing up.
// Admins are provisioned out of band.
func (r Role) SelfRegistrable() bool {
	return r.IsValid() && r != RoleAdmin
}

// HomePath is the landing page for the role once signed in.
func (r Role) HomePath() string {
	if r == RoleAdmin {
		return "/admin"
	}
	return "/dashboard"
}

// Label is the human readable role name.
func (r Role) Label() string {
	switch r {
	case RoleStudent:
		return "Student"
	case RoleCounselor:
		return "Counselor"
	case RoleProfessional:
		return "Professional"
	case RoleAdmin:
		return "Administrator"
	default:
		return string(r)
	}
}

func (r Role) String() string {
	return string(r)
}
