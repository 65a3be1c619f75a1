package gotrue

import (
	"strings"
	"time"
)

// Config holds the GoTrue endpoint settings.
type Config struct {
	// URL is the GoTrue base URL (e.g. "https://project.supabase.co/auth/v1").
	URL string

	// APIKey is sent on every request in the apikey header.
	APIKey string

	// JWTSecret validates HS256 access tokens. When empty tokens are
	// validated against the JWKS endpoint.
	JWTSecret string

	// JWKSURL overrides the key set location.
	// Default: "{URL}/.well-known/jwks.json".
	JWKSURL string

	// Issuer is the expected iss claim (optional).
	// Default: URL.
	Issuer string

	// Audience is the expected aud claim (optional).
	// Default: "authenticated".
	Audience []string

	// Timeout bounds each request.
	// Default: 10 seconds.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(url, apiKey string) Config {
	return Config{
		URL:      url,
		APIKey:   apiKey,
		Audience: []string{"authenticated"},
		Timeout:  10 * time.Second,
	}
}

func (c Config) baseURL() string {
	return strings.TrimRight(strings.TrimSpace(c.URL), "/")
}

func (c Config) jwksURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return c.baseURL() + "/.well-known/jwks.json"
}

func (c Config) issuer() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return c.baseURL()
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}
