package auth_test

import (
	"context"
	"sync"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements auth.IdentityProvider. Push delivers a provider
// session change to every machine subscribed through OnSessionChange.
type MockProvider struct {
	mock.Mock

	mu   sync.Mutex
	subs map[int]func(auth.SessionChange)
	next int
}

func (m *MockProvider) SignInWithPassword(ctx context.Context, email, password string) (*auth.ProviderSession, error) {
	args := m.Called(ctx, email, password)
	session, _ := args.Get(0).(*auth.ProviderSession)
	return session, args.Error(1)
}

func (m *MockProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.ProviderSession, error) {
	args := m.Called(ctx, email, password, metadata)
	session, _ := args.Get(0).(*auth.ProviderSession)
	return session, args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context, session *auth.ProviderSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockProvider) GetSession(ctx context.Context, accessToken string) (*auth.ProviderSession, error) {
	args := m.Called(ctx, accessToken)
	session, _ := args.Get(0).(*auth.ProviderSession)
	return session, args.Error(1)
}

func (m *MockProvider) OnSessionChange(fn func(auth.SessionChange)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = map[int]func(auth.SessionChange){}
	}
	m.next++
	id := m.next
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *MockProvider) Push(change auth.SessionChange) {
	m.mu.Lock()
	subs := make([]func(auth.SessionChange), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(change)
	}
}

func (m *MockProvider) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// MockProfiles implements auth.ProfileStore
type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) GetByUserID(ctx context.Context, userID string) (*auth.Profile, error) {
	args := m.Called(ctx, userID)
	profile, _ := args.Get(0).(*auth.Profile)
	return profile, args.Error(1)
}

func (m *MockProfiles) Save(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	args := m.Called(ctx, profile)
	out, _ := args.Get(0).(*auth.Profile)
	return out, args.Error(1)
}

// MockLoginPayload implements auth.LoginPayload
type MockLoginPayload struct {
	Identifier      string
	Password        string
	ExtendedSession bool
}

func (m MockLoginPayload) GetIdentifier() string {
	return m.Identifier
}

func (m MockLoginPayload) GetPassword() string {
	return m.Password
}

func (m MockLoginPayload) GetExtendedSession() bool {
	return m.ExtendedSession
}

// MockConfig implements auth.Config
type MockConfig struct {
	SigningKey    string
	ContextKey    string
	TokenHours    int
	ExtendedHours int
	Issuer        string
	Audience      []string
}

func (c MockConfig) GetSigningKey() string { return c.SigningKey }
func (c MockConfig) GetSigningMethod() string { return "HS256" }
func (c MockConfig) GetContextKey() string { return c.ContextKey }
func (c MockConfig) GetTokenExpiration() int { return c.TokenHours }
func (c MockConfig) GetExtendedTokenDuration() int { return c.ExtendedHours }
func (c MockConfig) GetIssuer() string { return c.Issuer }
func (c MockConfig) GetAudience() []string { return c.Audience }
func (c MockConfig) GetRejectedRouteKey() string { return "redirect_to" }
func (c MockConfig) GetRejectedRouteDefault() string {
	return "/dashboard"
}

func testConfig() MockConfig {
	return MockConfig{
		SigningKey:    "test-signing-key-with-enough-bytes",
		ContextKey:    "portal_session",
		TokenHours:    1,
		ExtendedHours: 72,
		Issuer:        "portal-test",
		Audience:      []string{"portal"},
	}
}

// recordingSink collects activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}
