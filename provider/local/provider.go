// Package local is a self hosted identity provider: bcrypt password hashes
// in the accounts table and access tokens signed by the auth TokenService.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// DefaultMaxLoginAttempts is the number of failed logins allowed within the
// cool down period.
const DefaultMaxLoginAttempts = 5

// DefaultCoolDown is the period failed logins are counted over.
const DefaultCoolDown = 24 * time.Hour

// ErrInvalidEmail is returned by SignUp for malformed addresses.
var ErrInvalidEmail = goerrors.New("must be a valid email address", goerrors.CategoryValidation).
	WithTextCode("INVALID_EMAIL").
	WithCode(goerrors.CodeBadRequest)

// Option customizes a Provider.
type Option func(*Provider)

// WithNotifier sets where session changes are published, defaults to an
// in-process auth.Broadcaster.
func WithNotifier(n auth.SessionNotifier) Option {
	return func(p *Provider) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithHasher overrides password hashing.
func WithHasher(h auth.PasswordAuthenticator) Option {
	return func(p *Provider) {
		if h != nil {
			p.hasher = h
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

// WithMaxLoginAttempts sets how many failed logins lock an account.
func WithMaxLoginAttempts(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithCoolDown sets the period failed logins are counted over.
func WithCoolDown(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.coolDown = d
		}
	}
}

// WithHashidIDs derives account ids from the email with hashid, so the same
// address maps to the same id across environments.
func WithHashidIDs(enabled bool) Option {
	return func(p *Provider) {
		p.useHashid = enabled
	}
}

// Provider implements auth.IdentityProvider on top of Accounts.
type Provider struct {
	accounts Accounts
	tokens   auth.TokenService
	hasher   auth.PasswordAuthenticator
	notifier auth.SessionNotifier

	mu       sync.Mutex
	sessions map[string]*auth.ProviderSession

	now         func() time.Time
	logger      auth.Logger
	maxAttempts int
	coolDown    time.Duration
	useHashid   bool
}

var _ auth.IdentityProvider = (*Provider)(nil)

// New returns a Provider storing identities in accounts and signing tokens
// with tokens.
func New(accounts Accounts, tokens auth.TokenService, opts ...Option) *Provider {
	if accounts == nil {
		panic("Missing Accounts in local identity provider...")
	}

	if tokens == nil {
		panic("Missing TokenService in local identity provider...")
	}

	p := &Provider{
		accounts:    accounts,
		tokens:      tokens,
		hasher:      auth.BcryptHasher{},
		notifier:    auth.NewBroadcaster(),
		sessions:    map[string]*auth.ProviderSession{},
		now:         time.Now,
		logger:      auth.DefaultLogger(),
		maxAttempts: DefaultMaxLoginAttempts,
		coolDown:    DefaultCoolDown,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// SignInWithPassword verifies the password of email and opens a session.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*auth.ProviderSession, error) {
	account, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account during verification")
	}

	now := p.now()
	if account.LoginAttemptAt != nil && now.Sub(*account.LoginAttemptAt) > p.coolDown {
		account.LoginAttempts = 0
	}

	// too many failed attempts in the window, cool off
	if account.LoginAttempts >= p.maxAttempts {
		return nil, auth.ErrTooManyLoginAttempts
	}

	if err := p.hasher.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		if err2 := p.accounts.TrackAttemptedLogin(ctx, account, now); err2 != nil {
			return nil, goerrors.Wrap(err2, goerrors.CategoryInternal, "failed to track login attempt")
		}
		return nil, auth.ErrInvalidCredentials
	}

	if err := p.accounts.TrackSuccessfulLogin(ctx, account, now); err != nil {
		p.logger.Error("failed to track successful login", "error", err)
	}

	return p.open(ctx, account)
}

// SignUp creates an account and opens a session for it.
func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.ProviderSession, error) {
	email = normalizeEmail(email)
	if email == "" || is.Email.Validate(email) != nil {
		return nil, ErrInvalidEmail
	}

	if _, err := p.accounts.GetByEmail(ctx, email); err == nil {
		return nil, auth.ErrIdentityExists
	} else if !auth.IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check account")
	}

	hash, err := p.hasher.HashPassword(password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	account := &Account{
		Email:        email,
		PasswordHash: hash,
		Metadata:     metadata,
	}
	if p.useHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			account.ID = id
		}
	}

	now := p.now()
	account.CreatedAt = &now
	account.UpdatedAt = &now

	created, err := p.accounts.Create(ctx, account)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
	}

	p.logger.Info("account registered", "user_id", created.ID.String())

	return p.open(ctx, created)
}

// SignOut revokes session and publishes SessionSignedOut.
func (p *Provider) SignOut(ctx context.Context, session *auth.ProviderSession) error {
	if session == nil {
		return nil
	}

	p.mu.Lock()
	_, ok := p.sessions[session.ID]
	delete(p.sessions, session.ID)
	p.mu.Unlock()

	if !ok {
		return nil
	}

	return p.publish(ctx, auth.SessionChange{
		Type:      auth.SessionSignedOut,
		UserID:    session.UserID,
		SessionID: session.ID,
	})
}

// SignOutUser revokes every session of userID.
func (p *Provider) SignOutUser(ctx context.Context, userID string) error {
	p.mu.Lock()
	revoked := 0
	for id, s := range p.sessions {
		if s.UserID == userID {
			delete(p.sessions, id)
			revoked++
		}
	}
	p.mu.Unlock()

	if revoked == 0 {
		return nil
	}

	return p.publish(ctx, auth.SessionChange{Type: auth.SessionSignedOut, UserID: userID})
}

// GetSession resolves an access token issued by this provider. Tokens of
// revoked sessions, and tokens issued before a restart, are rejected.
func (p *Provider) GetSession(ctx context.Context, accessToken string) (*auth.ProviderSession, error) {
	claims, err := p.tokens.Validate(accessToken)
	if err != nil {
		if auth.IsTokenExpiredError(err) {
			p.expire(ctx, claims)
			return nil, auth.ErrSessionExpired
		}
		return nil, err
	}

	p.mu.Lock()
	session, ok := p.sessions[claims.SID()]
	p.mu.Unlock()

	if !ok || session.AccessToken != accessToken {
		return nil, auth.ErrSessionExpired
	}

	out := *session
	return &out, nil
}

// Refresh issues a new access token for session and publishes
// SessionTokenRefreshed.
func (p *Provider) Refresh(ctx context.Context, session *auth.ProviderSession) (*auth.ProviderSession, error) {
	if session == nil {
		return nil, auth.ErrNoActiveSession
	}

	p.mu.Lock()
	current, ok := p.sessions[session.ID]
	p.mu.Unlock()
	if !ok {
		return nil, auth.ErrSessionExpired
	}

	next, err := p.issue(current.UserID, current.Email, current.ID, current.Metadata)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sessions[next.ID] = next
	p.mu.Unlock()

	out := *next
	if err := p.publish(ctx, auth.SessionChange{
		Type:      auth.SessionTokenRefreshed,
		UserID:    next.UserID,
		SessionID: next.ID,
		Session:   &out,
	}); err != nil {
		return nil, err
	}

	return next, nil
}

// OnSessionChange implements auth.IdentityProvider.
func (p *Provider) OnSessionChange(fn func(auth.SessionChange)) func() {
	return p.notifier.Subscribe(fn)
}

// ActiveSessions returns the number of open sessions.
func (p *Provider) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Sweep drops expired sessions, publishing SessionExpired for each, and
// returns how many were dropped.
func (p *Provider) Sweep(ctx context.Context) int {
	now := p.now()

	p.mu.Lock()
	var expired []*auth.ProviderSession
	for id, s := range p.sessions {
		if s.Expired(now) {
			expired = append(expired, s)
			delete(p.sessions, id)
		}
	}
	p.mu.Unlock()

	for _, s := range expired {
		if err := p.publish(ctx, auth.SessionChange{
			Type:      auth.SessionExpired,
			UserID:    s.UserID,
			SessionID: s.ID,
		}); err != nil {
			p.logger.Warn("failed to publish session expiry", "session", s.ID, "error", err)
		}
	}

	return len(expired)
}

// Run sweeps expired sessions every interval until ctx is done.
func (p *Provider) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := p.Sweep(ctx); n > 0 {
				p.logger.Debug("expired local sessions", "count", n)
			}
		}
	}
}

func (p *Provider) open(ctx context.Context, account *Account) (*auth.ProviderSession, error) {
	session, err := p.issue(account.ID.String(), account.Email, uuid.NewString(), account.Metadata)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sessions[session.ID] = session
	p.mu.Unlock()

	if err := p.publish(ctx, auth.SessionChange{
		Type:      auth.SessionSignedIn,
		UserID:    session.UserID,
		SessionID: session.ID,
	}); err != nil {
		p.logger.Warn("failed to publish sign in", "session", session.ID, "error", err)
	}

	out := *session
	return &out, nil
}

func (p *Provider) issue(userID, email, sessionID string, metadata map[string]any) (*auth.ProviderSession, error) {
	token, claims, err := p.tokens.Issue(auth.TokenSubject{
		UserID:    userID,
		Email:     email,
		SessionID: sessionID,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, err
	}
	return claims.ProviderSession(token), nil
}

func (p *Provider) expire(ctx context.Context, claims *auth.SessionClaims) {
	if claims == nil {
		return
	}

	p.mu.Lock()
	_, ok := p.sessions[claims.SID()]
	delete(p.sessions, claims.SID())
	p.mu.Unlock()

	if !ok {
		return
	}

	if err := p.publish(ctx, auth.SessionChange{
		Type:      auth.SessionExpired,
		UserID:    claims.UserID(),
		SessionID: claims.SID(),
	}); err != nil {
		p.logger.Warn("failed to publish session expiry", "session", claims.SID(), "error", err)
	}
}

func (p *Provider) publish(ctx context.Context, change auth.SessionChange) error {
	if change.OccurredAt.IsZero() {
		change.OccurredAt = p.now()
	}
	if err := p.notifier.Publish(ctx, change); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to publish session change")
	}
	return nil
}
