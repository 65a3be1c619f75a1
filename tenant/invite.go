package tenant

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	auth "github.com/goliatone/go-portal-auth"
)

// Invitation asks Email to join a tenant with Role.
type Invitation struct {
	TenantID   string    `json:"tenant_id"`
	TenantName string    `json:"tenant_name"`
	Email      string    `json:"email"`
	Role       auth.Role `json:"role"`
	InvitedBy  string    `json:"invited_by,omitempty"`
}

// Validate will run validation rules
func (i Invitation) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.TenantID, validation.Required),
		validation.Field(&i.Email, validation.Required, is.Email),
		validation.Field(&i.Role, validation.Required, validation.By(func(value any) error {
			role, _ := value.(auth.Role)
			if !role.IsValid() {
				return validation.NewError("validation_invalid_role", "must be a valid role")
			}
			return nil
		})),
	)
}

// Inviter delivers tenant invitations.
type Inviter interface {
	Invite(ctx context.Context, invitation Invitation) error
}

// InviterFunc adapts a function to the Inviter interface.
type InviterFunc func(ctx context.Context, invitation Invitation) error

// Invite implements Inviter.
func (f InviterFunc) Invite(ctx context.Context, invitation Invitation) error {
	return f(ctx, invitation)
}

// NoopInviter drops invitations.
type NoopInviter struct{}

func (NoopInviter) Invite(context.Context, Invitation) error {
	return nil
}

// InviteRequest is the invitation form payload.
type InviteRequest struct {
	Email string `form:"email" json:"email"`
	Role  string `form:"role" json:"role"`
}

// GetRole parses the requested role. Unknown roles read as student.
func (r InviteRequest) GetRole() auth.Role {
	role, _ := auth.ParseRole(r.Role)
	return role
}

// GetEmail returns the trimmed email
func (r InviteRequest) GetEmail() string {
	return strings.TrimSpace(r.Email)
}
