package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the access token claims shared by the self hosted and
// hosted identity providers. Field names follow the GoTrue token layout.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// UserID returns the subject claim.
func (c *SessionClaims) UserID() string {
	return c.Subject
}

// SID returns the session id claim, falling back to the token id.
func (c *SessionClaims) SID() string {
	if c.SessionID != "" {
		return c.SessionID
	}
	return c.ID
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// Issued returns the issued at time
func (c *SessionClaims) Issued() time.Time {
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

// ProviderSession converts the claims of accessToken into a provider session.
func (c *SessionClaims) ProviderSession(accessToken string) *ProviderSession {
	var metadata map[string]any
	if len(c.UserMetadata) > 0 {
		metadata = make(map[string]any, len(c.UserMetadata))
		for k, v := range c.UserMetadata {
			metadata[k] = v
		}
	}

	return &ProviderSession{
		ID:          c.SID(),
		UserID:      c.Subject,
		Email:       c.Email,
		AccessToken: accessToken,
		ExpiresAt:   c.Expires(),
		Metadata:    metadata,
	}
}
