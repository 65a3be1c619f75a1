package auth

import (
	"slices"
	"time"
)

// Status is the authentication status of a session machine.
type Status string

const (
	// StatusLoading is the initial status while a stored session is resolved.
	StatusLoading Status = "loading"
	// StatusAuthenticating means a login or registration call is in flight.
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// ProviderSession is a session issued by an IdentityProvider.
type ProviderSession struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Email        string         `json:"email"`
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the session is past its expiry at now. Sessions
// without an expiry never expire.
func (s *ProviderSession) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionChangeType enumerates provider pushed session events.
type SessionChangeType string

const (
	SessionSignedIn       SessionChangeType = "signed_in"
	SessionSignedOut      SessionChangeType = "signed_out"
	SessionTokenRefreshed SessionChangeType = "token_refreshed"
	SessionUserUpdated    SessionChangeType = "user_updated"
	SessionExpired        SessionChangeType = "session_expired"
)

// SessionChange is a push notification about a provider session. An empty
// SessionID addresses every session of UserID.
type SessionChange struct {
	Type       SessionChangeType `json:"type"`
	UserID     string            `json:"user_id"`
	SessionID  string            `json:"session_id,omitempty"`
	Session    *ProviderSession  `json:"session,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Matches reports whether the change addresses the given session.
func (c SessionChange) Matches(session *ProviderSession) bool {
	if session == nil || c.UserID == "" || c.UserID != session.UserID {
		return false
	}
	return c.SessionID == "" || c.SessionID == session.ID
}

// Snapshot is a point in time copy of a session machine handed to guards
// and views. It never aliases machine state.
type Snapshot struct {
	Status           Status `json:"status"`
	User             *User  `json:"user"`
	IsAuthenticated  bool   `json:"is_authenticated"`
	IsLoading        bool   `json:"is_loading"`
	NeedsTenantSetup bool   `json:"needs_tenant_setup"`
}

// HasRole reports whether the signed in user holds one of roles.
func (s Snapshot) HasRole(roles ...Role) bool {
	if !s.IsAuthenticated || s.User == nil {
		return false
	}
	return slices.Contains(roles, s.User.Role)
}

// Role returns the signed in role, empty when signed out.
func (s Snapshot) Role() Role {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}
