package auth

import (
	"context"
	"fmt"
	"strings"
)

// Logger is the logging surface used across the module. Arguments after the
// message are either printf verbs or key/value pairs, depending on the
// implementation backing it.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetContextKey() string
	GetTokenExpiration() int
	GetExtendedTokenDuration() int
	GetIssuer() string
	GetAudience() []string
	GetRejectedRouteKey() string
	GetRejectedRouteDefault() string
}

// IdentityProvider is the external service that verifies credentials and
// issues sessions. Implementations must be safe for concurrent use.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*ProviderSession, error)
	// SignUp provisions a new identity. A session without an access token
	// means the provider is waiting on an out of band confirmation.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*ProviderSession, error)
	SignOut(ctx context.Context, session *ProviderSession) error
	GetSession(ctx context.Context, accessToken string) (*ProviderSession, error)
	// OnSessionChange registers fn for provider pushed session events. The
	// returned function removes the registration.
	OnSessionChange(fn func(SessionChange)) (unsubscribe func())
}

// ProfileStore resolves and persists portal profiles keyed by provider user id.
// GetByUserID returns an error satisfying IsNotFound when no profile exists.
type ProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (*Profile, error)
	Save(ctx context.Context, profile *Profile) (*Profile, error)
}

// SessionNotifier fans session changes out to subscribers.
type SessionNotifier interface {
	Publish(ctx context.Context, change SessionChange) error
	Subscribe(fn func(SessionChange)) (unsubscribe func())
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print("[ERR] AUTH " + line(format, args))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print("[WRN] AUTH " + line(format, args))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print("[INF] AUTH " + line(format, args))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print("[DBG] AUTH " + line(format, args))
}

// DefaultLogger returns the printf logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

// line renders printf style calls as is and appends key/value pairs to
// plain messages.
func line(format string, args []any) string {
	if strings.Contains(format, "%") {
		return newline(fmt.Sprintf(format, args...))
	}

	var b strings.Builder
	b.WriteString(format)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
