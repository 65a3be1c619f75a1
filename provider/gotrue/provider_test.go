package gotrue_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/provider/gotrue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "gotrue-test-secret"
	testAPIKey = "anon-key"
	testIssuer = "gotrue-test"
)

type tokenConfig struct{}

func (tokenConfig) GetSigningKey() string           { return testSecret }
func (tokenConfig) GetSigningMethod() string        { return "HS256" }
func (tokenConfig) GetContextKey() string           { return "user" }
func (tokenConfig) GetTokenExpiration() int         { return 1 }
func (tokenConfig) GetExtendedTokenDuration() int   { return 0 }
func (tokenConfig) GetIssuer() string               { return testIssuer }
func (tokenConfig) GetAudience() []string           { return []string{"authenticated"} }
func (tokenConfig) GetRejectedRouteKey() string     { return "redirect_to" }
func (tokenConfig) GetRejectedRouteDefault() string { return "/login" }

type fakeServer struct {
	*httptest.Server
	t       *testing.T
	tokens  *auth.TokenServiceImpl
	mu      sync.Mutex
	users   map[string]string
	logouts int
	confirm bool
}

func newFakeServer(t *testing.T, now func() time.Time) *fakeServer {
	t.Helper()

	fs := &fakeServer{
		t:      t,
		tokens: auth.NewTokenService(tokenConfig{}, auth.WithTokenClock(now)),
		users:  map[string]string{"ana@example.com": "secret-pass"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", fs.token)
	mux.HandleFunc("/signup", fs.signup)
	mux.HandleFunc("/logout", fs.logout)

	fs.Server = httptest.NewServer(fs.requireAPIKey(mux))
	t.Cleanup(fs.Close)

	return fs
}

func (fs *fakeServer) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != testAPIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "No API key found in request"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (fs *fakeServer) token(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	require.NoError(fs.t, json.NewDecoder(r.Body).Decode(&body))

	switch r.URL.Query().Get("grant_type") {
	case "password":
		fs.mu.Lock()
		password, ok := fs.users[body["email"]]
		fs.mu.Unlock()
		switch {
		case body["email"] == "locked@example.com":
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error_code": "over_request_rate_limit", "msg": "Too many requests"})
		case body["email"] == "pending@example.com":
			writeJSON(w, http.StatusBadRequest, map[string]any{"error_code": "email_not_confirmed", "msg": "Email not confirmed"})
		case !ok || password != body["password"]:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
		default:
			fs.session(w, "user-1", body["email"], "sess-1")
		}
	case "refresh_token":
		if body["refresh_token"] != "refresh-sess-1" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token"})
			return
		}
		fs.session(w, "user-1", "ana@example.com", "sess-1")
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "unsupported grant type"})
	}
}

func (fs *fakeServer) signup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	require.NoError(fs.t, json.NewDecoder(r.Body).Decode(&body))

	fs.mu.Lock()
	_, exists := fs.users[body.Email]
	if !exists {
		fs.users[body.Email] = body.Password
	}
	confirm := fs.confirm
	fs.mu.Unlock()

	if exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"})
		return
	}

	if confirm {
		writeJSON(w, http.StatusOK, map[string]any{"id": "user-2", "email": body.Email, "user_metadata": body.Data})
		return
	}

	fs.session(w, "user-2", body.Email, "sess-2")
}

func (fs *fakeServer) logout(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "This endpoint requires a Bearer token"})
		return
	}
	fs.mu.Lock()
	fs.logouts++
	fs.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (fs *fakeServer) session(w http.ResponseWriter, userID, email, sessionID string) {
	token, claims, err := fs.tokens.Issue(auth.TokenSubject{
		UserID:    userID,
		Email:     email,
		SessionID: sessionID,
		Metadata:  map[string]any{auth.MetadataDisplayName: "Ana"},
	})
	require.NoError(fs.t, err)

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  token,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    claims.Expires().Unix(),
		"refresh_token": "refresh-" + sessionID,
		"user":          map[string]any{"id": userID, "email": email},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type recorder struct {
	mu    sync.Mutex
	types []auth.SessionChangeType
}

func (r *recorder) add(change auth.SessionChange) {
	r.mu.Lock()
	r.types = append(r.types, change.Type)
	r.mu.Unlock()
}

func (r *recorder) seen() []auth.SessionChangeType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auth.SessionChangeType(nil), r.types...)
}

func newProvider(t *testing.T, now *time.Time) (*gotrue.Provider, *fakeServer, *recorder) {
	t.Helper()

	clock := func() time.Time { return *now }
	server := newFakeServer(t, clock)

	cfg := gotrue.DefaultConfig(server.URL, testAPIKey)
	cfg.JWTSecret = testSecret
	cfg.Issuer = testIssuer

	p, err := gotrue.New(cfg, gotrue.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	rec := &recorder{}
	t.Cleanup(p.OnSessionChange(rec.add))

	return p, server, rec
}

func TestNewRequiresURL(t *testing.T) {
	_, err := gotrue.New(gotrue.Config{})
	assert.Error(t, err)
}

func TestSignInWithPassword(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	p, _, rec := newProvider(t, &now)

	session, err := p.SignInWithPassword(context.Background(), "ana@example.com", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, "ana@example.com", session.Email)
	assert.Equal(t, "refresh-sess-1", session.RefreshToken)
	assert.Equal(t, "Ana", session.Metadata[auth.MetadataDisplayName])
	assert.WithinDuration(t, now.Add(time.Hour), session.ExpiresAt, time.Second)

	assert.Equal(t, []auth.SessionChangeType{auth.SessionSignedIn}, rec.seen())
}

func TestSignInErrors(t *testing.T) {
	now := time.Now()
	p, _, rec := newProvider(t, &now)
	ctx := context.Background()

	tests := []struct {
		name  string
		email string
		want  error
	}{
		{name: "bad password", email: "ana@example.com", want: auth.ErrInvalidCredentials},
		{name: "unknown user", email: "nobody@example.com", want: auth.ErrInvalidCredentials},
		{name: "rate limited", email: "locked@example.com", want: auth.ErrTooManyLoginAttempts},
		{name: "unconfirmed", email: "pending@example.com", want: auth.ErrConfirmationPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.SignInWithPassword(ctx, tt.email, "wrong")
			assert.Same(t, tt.want, err)
		})
	}

	assert.Empty(t, rec.seen())
}

func TestMissingAPIKeyIsRejected(t *testing.T) {
	now := time.Now()
	server := newFakeServer(t, func() time.Time { return now })

	cfg := gotrue.DefaultConfig(server.URL, "")
	cfg.JWTSecret = testSecret
	p, err := gotrue.New(cfg)
	require.NoError(t, err)

	_, err = p.SignInWithPassword(context.Background(), "ana@example.com", "secret-pass")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No API key")
}

func TestSignUp(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	p, server, rec := newProvider(t, &now)
	ctx := context.Background()

	session, err := p.SignUp(ctx, "bo@example.com", "secret-pass", map[string]any{"role": "student"})
	require.NoError(t, err)
	assert.Equal(t, "user-2", session.UserID)
	assert.NotEmpty(t, session.AccessToken)

	_, err = p.SignUp(ctx, "bo@example.com", "secret-pass", nil)
	assert.Same(t, auth.ErrIdentityExists, err)

	server.mu.Lock()
	server.confirm = true
	server.mu.Unlock()

	pending, err := p.SignUp(ctx, "cy@example.com", "secret-pass", map[string]any{"role": "student"})
	require.NoError(t, err)
	assert.Equal(t, "user-2", pending.UserID)
	assert.Empty(t, pending.AccessToken)
	assert.Equal(t, "student", pending.Metadata["role"])

	assert.Equal(t, []auth.SessionChangeType{auth.SessionSignedIn}, rec.seen())
}

func TestSignOut(t *testing.T) {
	now := time.Now()
	p, server, rec := newProvider(t, &now)
	ctx := context.Background()

	session, err := p.SignInWithPassword(ctx, "ana@example.com", "secret-pass")
	require.NoError(t, err)

	require.NoError(t, p.SignOut(ctx, session))
	require.NoError(t, p.SignOut(ctx, nil))

	server.mu.Lock()
	assert.Equal(t, 1, server.logouts)
	server.mu.Unlock()

	assert.Equal(t, []auth.SessionChangeType{auth.SessionSignedIn, auth.SessionSignedOut}, rec.seen())
}

func TestGetSession(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	p, _, rec := newProvider(t, &now)
	ctx := context.Background()

	session, err := p.SignInWithPassword(ctx, "ana@example.com", "secret-pass")
	require.NoError(t, err)

	resolved, err := p.GetSession(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.ID, resolved.ID)
	assert.Equal(t, session.UserID, resolved.UserID)

	_, err = p.GetSession(ctx, "not-a-token")
	assert.True(t, auth.IsMalformedError(err))

	now = now.Add(2 * time.Hour)
	_, err = p.GetSession(ctx, session.AccessToken)
	assert.Same(t, auth.ErrSessionExpired, err)

	assert.Equal(t, []auth.SessionChangeType{auth.SessionSignedIn, auth.SessionExpired}, rec.seen())
}

func TestRefresh(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	p, _, rec := newProvider(t, &now)
	ctx := context.Background()

	session, err := p.SignInWithPassword(ctx, "ana@example.com", "secret-pass")
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	refreshed, err := p.Refresh(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, session.ID, refreshed.ID)
	assert.True(t, refreshed.ExpiresAt.After(session.ExpiresAt))

	_, err = p.Refresh(ctx, &auth.ProviderSession{ID: "x", RefreshToken: "stale"})
	require.Error(t, err)

	_, err = p.Refresh(ctx, nil)
	assert.Same(t, auth.ErrNoActiveSession, err)

	assert.Equal(t, []auth.SessionChangeType{auth.SessionSignedIn, auth.SessionTokenRefreshed}, rec.seen())
}

func TestInjectedKeyfunc(t *testing.T) {
	secret := []byte("kid-secret")
	given := keyfunc.NewGiven(map[string]keyfunc.GivenKey{
		"kid-1": keyfunc.NewGivenHMAC(secret, keyfunc.GivenKeyOptions{}),
	})

	p, err := gotrue.New(gotrue.Config{URL: "http://gotrue.invalid"}, gotrue.WithKeyfunc(given.Keyfunc))
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-9",
			Issuer:    "http://gotrue.invalid",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		SessionID: "sess-9",
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	session, err := p.GetSession(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "user-9", session.UserID)
	assert.Equal(t, "sess-9", session.ID)
}

func TestJWKSKeySet(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": "rsa-1",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(jwks.Close)

	p, err := gotrue.New(gotrue.Config{URL: "http://gotrue.invalid", JWKSURL: jwks.URL, Issuer: testIssuer})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &auth.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "rsa@example.com",
	})
	token.Header["kid"] = "rsa-1"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	session, err := p.GetSession(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "user-7", session.UserID)
	assert.Equal(t, "rsa@example.com", session.Email)
}

type warnLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *warnLogger) Debug(string, ...any) {}
func (l *warnLogger) Info(string, ...any)  {}
func (l *warnLogger) Error(string, ...any) {}

func (l *warnLogger) Warn(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprint(append([]any{format}, args...)...))
}

func TestKeySetRefreshErrorsUseProviderLogger(t *testing.T) {
	lgr := &warnLogger{}
	opts := gotrue.KeyfuncOptions(http.DefaultClient, lgr)
	require.NotNil(t, opts.RefreshErrorHandler)

	opts.RefreshErrorHandler(errors.New("jwks unreachable"))

	require.Len(t, lgr.messages, 1)
	assert.Contains(t, lgr.messages[0], "background refresh")
	assert.Contains(t, lgr.messages[0], "jwks unreachable")
}

func TestOversizedResponseIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"access_token":"` + strings.Repeat("a", gotrue.MaxResponseBytes) + `"}`))
	}))
	t.Cleanup(srv.Close)

	cfg := gotrue.DefaultConfig(srv.URL, testAPIKey)
	cfg.JWTSecret = testSecret
	p, err := gotrue.New(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	_, err = p.SignInWithPassword(context.Background(), "ana@example.com", "secret-pass")
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeProviderFailure, auth.TextCode(err))
}
