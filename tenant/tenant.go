package tenant

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// DefaultID is the id of the synthetic organisation every user belongs to
// until they create or join one.
const DefaultID = "default"

// Status constants
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Plan constants
const (
	PlanBasic        = "basic"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

// MemberRoleOwner is the membership role of the user who created a tenant.
const MemberRoleOwner = "owner"

// Tenant is an organisation users work in.
type Tenant struct {
	bun.BaseModel `bun:"table:tenants,alias:tn"`
	ID            string     `bun:"id,pk" json:"id"`
	Name          string     `bun:"name,notnull" json:"name"`
	Subdomain     string     `bun:"subdomain,nullzero" json:"subdomain,omitempty"`
	Plan          string     `bun:"plan,notnull" json:"plan"`
	Status        string     `bun:"status,notnull" json:"status"`
	OwnerID       string     `bun:"owner_id,nullzero" json:"owner_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Member links a user to a tenant.
type Member struct {
	bun.BaseModel `bun:"table:tenant_members,alias:tm"`
	TenantID      string     `bun:"tenant_id,pk" json:"tenant_id"`
	UserID        string     `bun:"user_id,pk" json:"user_id"`
	Role          string     `bun:"role,notnull" json:"role"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Default returns the synthetic default organisation.
func Default() Tenant {
	return Tenant{
		ID:     DefaultID,
		Name:   "Default Organization",
		Plan:   PlanBasic,
		Status: StatusActive,
	}
}

// IsDefault reports whether t is the synthetic default organisation.
func (t Tenant) IsDefault() bool {
	return t.ID == DefaultID
}

// ErrNameRequired is returned when creating a tenant with a blank name.
var ErrNameRequired = goerrors.New("organization name is required", goerrors.CategoryValidation).
	WithTextCode("TENANT_NAME_REQUIRED").
	WithCode(goerrors.CodeBadRequest)

// CreateRequest is the tenant setup form payload.
type CreateRequest struct {
	Name      string `form:"name" json:"name"`
	Subdomain string `form:"subdomain" json:"subdomain"`
}

// Normalize trims the name and lower cases the subdomain.
func (r CreateRequest) Normalize() CreateRequest {
	return CreateRequest{
		Name:      strings.TrimSpace(r.Name),
		Subdomain: strings.ToLower(strings.TrimSpace(r.Subdomain)),
	}
}

// Validate will run validation rules on the normalized payload
func (r CreateRequest) Validate() error {
	r = r.Normalize()
	if r.Name == "" {
		return ErrNameRequired
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(1, 120)),
		validation.Field(&r.Subdomain, validation.Length(0, 63), is.Subdomain),
	)
}
