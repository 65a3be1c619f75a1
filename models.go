package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the signed in identity as the portal sees it: provider identity
// merged with the portal profile.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	Avatar      string     `json:"avatar,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	TenantID    string     `json:"tenant_id,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.CreatedAt != nil {
		t := *u.CreatedAt
		out.CreatedAt = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		out.LastLoginAt = &t
	}
	return &out
}

// Profile is the portal record keyed by provider user id.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        string     `bun:"user_id,notnull,unique" json:"user_id"`
	Email         string     `bun:"email" json:"email,omitempty"`
	DisplayName   string     `bun:"display_name,notnull" json:"display_name"`
	Role          Role       `bun:"role,notnull" json:"role"`
	Avatar        string     `bun:"avatar" json:"avatar,omitempty"`
	Phone         string     `bun:"phone_number" json:"phone_number,omitempty"`
	TenantID      string     `bun:"tenant_id" json:"tenant_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ToUser merges the profile onto the provider session identity.
func (p *Profile) ToUser(session *ProviderSession) *User {
	u := &User{
		DisplayName: p.DisplayName,
		Role:        p.Role,
		Avatar:      p.Avatar,
		Phone:       p.Phone,
		TenantID:    p.TenantID,
		Email:       p.Email,
	}
	if session != nil {
		u.ID = session.UserID
		if session.Email != "" {
			u.Email = session.Email
		}
	}
	if u.ID == "" {
		u.ID = p.UserID
	}
	if p.CreatedAt != nil {
		t := *p.CreatedAt
		u.CreatedAt = &t
	}
	if !u.Role.IsValid() {
		u.Role = RoleStudent
	}
	return u
}

// UserFromSession builds a user from provider metadata alone, used when no
// profile exists yet.
func UserFromSession(session *ProviderSession) *User {
	if session == nil {
		return nil
	}

	u := &User{
		ID:    session.UserID,
		Email: session.Email,
		Role:  RoleStudent,
	}

	if name, ok := session.Metadata[MetadataDisplayName].(string); ok {
		u.DisplayName = strings.TrimSpace(name)
	}
	if raw, ok := session.Metadata[MetadataRole].(string); ok {
		if role, valid := ParseRole(raw); valid && role.SelfRegistrable() {
			u.Role = role
		}
	}
	if u.DisplayName == "" {
		u.DisplayName = displayNameFromEmail(session.Email)
	}

	return u
}

// Metadata keys exchanged with identity providers on sign up.
const (
	MetadataDisplayName = "display_name"
	MetadataRole        = "role"
)

func displayNameFromEmail(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
