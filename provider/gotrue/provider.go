// Package gotrue talks to a hosted GoTrue (Supabase Auth) server.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
)

// maxResponseBytes bounds how much of a gotrue response body is read.
const maxResponseBytes = 1 << 20

// Option customizes a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithKeyfunc validates access tokens with kf instead of the configured
// secret or key set.
func WithKeyfunc(kf jwt.Keyfunc) Option {
	return func(p *Provider) {
		if kf != nil {
			p.keyfunc = kf
		}
	}
}

// WithNotifier sets where session changes are published, defaults to an
// in-process auth.Broadcaster.
func WithNotifier(n auth.SessionNotifier) Option {
	return func(p *Provider) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Provider implements auth.IdentityProvider against the GoTrue REST API.
type Provider struct {
	config     Config
	httpClient *http.Client
	keyfunc    jwt.Keyfunc
	jwks       *keyfunc.JWKS
	validator  *auth.TokenValidator
	notifier   auth.SessionNotifier
	now        func() time.Time
	logger     auth.Logger
}

var _ auth.IdentityProvider = (*Provider)(nil)

// New returns a Provider for cfg. Without a WithKeyfunc option tokens are
// validated with cfg.JWTSecret, or against the JWKS endpoint which is
// fetched once here and refreshed in the background.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.baseURL() == "" {
		return nil, goerrors.New("gotrue: url is required", goerrors.CategoryValidation)
	}

	p := &Provider{
		config:   cfg,
		notifier: auth.NewBroadcaster(),
		now:      time.Now,
		logger:   auth.DefaultLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: cfg.timeout()}
	}

	if p.keyfunc == nil {
		if cfg.JWTSecret != "" {
			p.keyfunc = secretKeyfunc([]byte(cfg.JWTSecret))
		} else {
			jwks, err := keyfunc.Get(cfg.jwksURL(), keyfuncOptions(p.httpClient, p.logger))
			if err != nil {
				return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "gotrue: failed to load key set")
			}
			p.jwks = jwks
			p.keyfunc = jwks.Keyfunc
		}
	}

	p.validator = auth.NewTokenValidator(p.keyfunc, cfg.issuer(), cfg.Audience,
		auth.WithValidatorClock(p.now),
		auth.WithValidatorLogger(p.logger),
	)

	return p, nil
}

// Close stops the background key set refresh.
func (p *Provider) Close() {
	if p.jwks != nil {
		p.jwks.EndBackground()
	}
}

type user struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *user  `json:"user"`
}

// signUpResponse is a session when the server auto confirms and a bare
// user otherwise.
type signUpResponse struct {
	sessionResponse
	user
}

// SignInWithPassword implements auth.IdentityProvider.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*auth.ProviderSession, error) {
	var out sessionResponse
	err := p.do(ctx, "sign_in", http.MethodPost, "/token?grant_type=password", "", map[string]any{
		"email":    strings.TrimSpace(email),
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}

	session, err := p.toSession(out)
	if err != nil {
		return nil, err
	}

	p.publish(ctx, auth.SessionChange{Type: auth.SessionSignedIn, UserID: session.UserID, SessionID: session.ID})

	return session, nil
}

// SignUp implements auth.IdentityProvider. When the server waits for an
// email confirmation the returned session carries no access token.
func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.ProviderSession, error) {
	var out signUpResponse
	err := p.do(ctx, "sign_up", http.MethodPost, "/signup", "", map[string]any{
		"email":    strings.TrimSpace(email),
		"password": password,
		"data":     metadata,
	}, &out)
	if err != nil {
		return nil, err
	}

	if out.AccessToken == "" {
		u := out.user
		if out.sessionResponse.User != nil {
			u = *out.sessionResponse.User
		}
		if u.ID == "" {
			return nil, goerrors.New("gotrue sign up returned no user", goerrors.CategoryOperation).
				WithTextCode(auth.TextCodeProviderFailure)
		}
		return &auth.ProviderSession{UserID: u.ID, Email: u.Email, Metadata: u.UserMetadata}, nil
	}

	session, err := p.toSession(out.sessionResponse)
	if err != nil {
		return nil, err
	}

	p.publish(ctx, auth.SessionChange{Type: auth.SessionSignedIn, UserID: session.UserID, SessionID: session.ID})

	return session, nil
}

// SignOut revokes the session on the server. Tokens the server no longer
// knows count as signed out.
func (p *Provider) SignOut(ctx context.Context, session *auth.ProviderSession) error {
	if session == nil || session.AccessToken == "" {
		return nil
	}

	err := p.do(ctx, "sign_out", http.MethodPost, "/logout", session.AccessToken, nil, nil)
	if err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) || richErr.Category != goerrors.CategoryAuth {
			return err
		}
		p.logger.Debug("gotrue sign out of unknown session", "session", session.ID)
	}

	p.publish(ctx, auth.SessionChange{Type: auth.SessionSignedOut, UserID: session.UserID, SessionID: session.ID})

	return nil
}

// GetSession validates accessToken locally. Expired tokens publish
// SessionExpired and return auth.ErrSessionExpired.
func (p *Provider) GetSession(ctx context.Context, accessToken string) (*auth.ProviderSession, error) {
	claims, err := p.validator.Validate(accessToken)
	if err != nil {
		if auth.IsTokenExpiredError(err) {
			if claims != nil {
				p.publish(ctx, auth.SessionChange{
					Type:      auth.SessionExpired,
					UserID:    claims.UserID(),
					SessionID: claims.SID(),
				})
			}
			return nil, auth.ErrSessionExpired
		}
		return nil, err
	}

	return claims.ProviderSession(accessToken), nil
}

// Refresh trades the refresh token of session for a new access token and
// publishes SessionTokenRefreshed.
func (p *Provider) Refresh(ctx context.Context, session *auth.ProviderSession) (*auth.ProviderSession, error) {
	if session == nil || session.RefreshToken == "" {
		return nil, auth.ErrNoActiveSession
	}

	var out sessionResponse
	err := p.do(ctx, "refresh", http.MethodPost, "/token?grant_type=refresh_token", "", map[string]any{
		"refresh_token": session.RefreshToken,
	}, &out)
	if err != nil {
		return nil, err
	}

	next, err := p.toSession(out)
	if err != nil {
		return nil, err
	}

	changed := *next
	p.publish(ctx, auth.SessionChange{
		Type:      auth.SessionTokenRefreshed,
		UserID:    next.UserID,
		SessionID: next.ID,
		Session:   &changed,
	})

	return next, nil
}

// OnSessionChange implements auth.IdentityProvider.
func (p *Provider) OnSessionChange(fn func(auth.SessionChange)) func() {
	return p.notifier.Subscribe(fn)
}

func (p *Provider) toSession(out sessionResponse) (*auth.ProviderSession, error) {
	if out.AccessToken == "" {
		return nil, goerrors.New("gotrue returned no access token", goerrors.CategoryOperation).
			WithTextCode(auth.TextCodeProviderFailure)
	}

	claims, err := p.validator.Validate(out.AccessToken)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "gotrue returned an invalid access token").
			WithTextCode(auth.TextCodeProviderFailure)
	}

	session := claims.ProviderSession(out.AccessToken)
	session.RefreshToken = out.RefreshToken

	if out.User != nil {
		if session.Email == "" {
			session.Email = out.User.Email
		}
		if session.Metadata == nil && len(out.User.UserMetadata) > 0 {
			session.Metadata = out.User.UserMetadata
		}
	}

	if session.ExpiresAt.IsZero() {
		switch {
		case out.ExpiresAt > 0:
			session.ExpiresAt = time.Unix(out.ExpiresAt, 0)
		case out.ExpiresIn > 0:
			session.ExpiresAt = p.now().Add(time.Duration(out.ExpiresIn) * time.Second)
		}
	}

	return session, nil
}

func (p *Provider) do(ctx context.Context, operation, method, path, bearer string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode gotrue request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.config.baseURL()+path, body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build gotrue request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.config.APIKey != "" {
		req.Header.Set("apikey", p.config.APIKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "gotrue request failed").
			WithTextCode(auth.TextCodeProviderFailure).
			WithMetadata(map[string]any{"operation": operation})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read gotrue response")
	}
	if len(raw) > maxResponseBytes {
		return goerrors.New("gotrue response too large", goerrors.CategoryOperation).
			WithTextCode(auth.TextCodeProviderFailure).
			WithMetadata(map[string]any{"operation": operation, "limit": maxResponseBytes})
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := parseError(operation, resp.StatusCode, raw)
		p.logger.Debug("gotrue request rejected", "operation", operation, "status", resp.StatusCode, "code", apiErr.Code)
		return translate(apiErr)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to decode gotrue response").
			WithTextCode(auth.TextCodeProviderFailure)
	}

	return nil
}

func (p *Provider) publish(ctx context.Context, change auth.SessionChange) {
	change.OccurredAt = p.now()
	if err := p.notifier.Publish(ctx, change); err != nil {
		p.logger.Warn("failed to publish session change", "type", change.Type, "error", err)
	}
}

func secretKeyfunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}
}

func keyfuncOptions(client *http.Client, logger auth.Logger) keyfunc.Options {
	return keyfunc.Options{
		Client: client,
		RefreshErrorHandler: func(err error) {
			logger.Warn("failed to do a background refresh of gotrue JWK set", "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}
