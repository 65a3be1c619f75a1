package portal_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/activitylog"
	"github.com/goliatone/go-portal-auth/assessment"
	"github.com/goliatone/go-portal-auth/internal/testdb"
	"github.com/goliatone/go-portal-auth/middleware/csrf"
	"github.com/goliatone/go-portal-auth/portal"
	"github.com/goliatone/go-portal-auth/provider/local"
	"github.com/goliatone/go-portal-auth/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const sessionCookieName = "portal_session"

type portalConfig struct{}

func (portalConfig) GetSigningKey() string           { return "portal-test-signing-key-0123456789" }
func (portalConfig) GetSigningMethod() string        { return "HS256" }
func (portalConfig) GetContextKey() string           { return sessionCookieName }
func (portalConfig) GetTokenExpiration() int         { return 1 }
func (portalConfig) GetExtendedTokenDuration() int   { return 24 }
func (portalConfig) GetIssuer() string               { return "portal-test" }
func (portalConfig) GetAudience() []string           { return []string{"portal"} }
func (portalConfig) GetRejectedRouteKey() string     { return "redirect_to" }
func (portalConfig) GetRejectedRouteDefault() string { return "/login" }

type invites struct {
	mu  sync.Mutex
	all []tenant.Invitation
}

func (i *invites) Invite(_ context.Context, invitation tenant.Invitation) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.all = append(i.all, invitation)
	return nil
}

func (i *invites) sent() []tenant.Invitation {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]tenant.Invitation{}, i.all...)
}

type fixture struct {
	app      *fiber.App
	provider *local.Provider
	profiles *auth.MemoryProfiles
	logs     *activitylog.Store
	invites  *invites
	runner   *assessment.Runner
}

func quickTest() assessment.Test {
	return assessment.Test{
		ID:       "quick",
		Title:    "Quick Check",
		Category: "Personality",
		Minutes:  5,
		Questions: []assessment.Question{
			{ID: "q1", Type: assessment.QuestionTrueFalse, Text: "I like puzzles", Options: []string{"True", "False"}},
			{ID: "q2", Type: assessment.QuestionTrueFalse, Text: "I like crowds", Options: []string{"True", "False"}},
		},
	}
}

func newFixture(t *testing.T, opts ...portal.Option) *fixture {
	t.Helper()

	db := testdb.New(t)
	tokens := auth.NewTokenService(portalConfig{})
	provider := local.New(local.NewAccountsRepository(db), tokens,
		local.WithHasher(auth.BcryptHasher{Cost: bcrypt.MinCost}),
	)
	profiles := auth.NewMemoryProfiles()
	logs := activitylog.NewStore(50)
	sent := &invites{}

	registry := auth.NewRegistry(func(id string) *auth.Machine {
		return auth.NewMachine(provider, profiles,
			auth.WithMachineID(id),
			auth.WithMachineActivitySink(logs),
		)
	})
	t.Cleanup(func() { registry.Sweep(-time.Hour) })

	auther := auth.NewHTTPAuthenticator(registry, portalConfig{})
	auther.SecureCookies = false

	catalog := assessment.NewStaticCatalog(quickTest())
	runner := assessment.NewRunner(catalog, assessment.WithRunnerActivitySink(logs))
	t.Cleanup(runner.Close)

	p := portal.New(auther, append([]portal.Option{
		portal.WithTenants(tenant.NewContexts(tenant.WithInviter(sent), tenant.WithActivitySink(logs))),
		portal.WithRunner(runner, catalog),
		portal.WithActivityLog(logs),
		portal.WithProfiles(profiles),
	}, opts...)...)

	srv := portal.NewServer(portal.NewEngine("", false), nil)
	portal.Register(p, srv.Router())

	return &fixture{
		app:      srv.WrappedRouter(),
		provider: provider,
		profiles: profiles,
		logs:     logs,
		invites:  sent,
		runner:   runner,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (f *fixture) html(t *testing.T, path string, cookie *http.Cookie) (*http.Response, string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "text/html")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName && c.Value != "" {
			return c
		}
	}
	t.Fatal("response has no session cookie")
	return nil
}

func (f *fixture) register(t *testing.T, email string, role auth.Role) *http.Cookie {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/register", map[string]string{
		"display_name":     "Test User",
		"email":            email,
		"password":         "password123",
		"confirm_password": "password123",
		"role":             string(role),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return sessionCookie(t, resp)
}

func (f *fixture) setupTenant(t *testing.T, cookie *http.Cookie, name string) map[string]any {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/tenant-setup", map[string]string{"name": name}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode(t, resp)
}

func (f *fixture) signInAdmin(t *testing.T) *http.Cookie {
	t.Helper()
	ctx := context.Background()

	session, err := f.provider.SignUp(ctx, "admin@example.com", "password123", nil)
	require.NoError(t, err)
	_, err = f.profiles.Save(ctx, &auth.Profile{
		UserID:      session.UserID,
		Email:       "admin@example.com",
		DisplayName: "Admin",
		Role:        auth.RoleAdmin,
		TenantID:    tenant.DefaultID,
	})
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/login", map[string]string{
		"identifier": "admin@example.com",
		"password":   "password123",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return sessionCookie(t, resp)
}

func TestNewPanicsWithoutAuthenticator(t *testing.T) {
	assert.PanicsWithValue(t, "Missing RouteAuthenticator in portal...", func() {
		portal.New(nil)
	})
}

func TestProtectedPagesNeedSignIn(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/dashboard", "/tests", "/results", "/profile", "/settings", "/manage", "/admin", "/admin/logs"} {
		t.Run(path, func(t *testing.T) {
			resp := f.do(t, http.MethodGet, path, nil, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			body := decode(t, resp)
			assert.Equal(t, "/login", body["redirect"])
		})
	}

	resp := f.do(t, http.MethodGet, "/tenant-setup", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBrowserRedirectRemembersPage(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.html(t, "/results", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	var remembered string
	for _, c := range resp.Cookies() {
		if c.Name == "redirect_to" {
			remembered = c.Value
		}
	}
	assert.Equal(t, "/results", remembered)
}

func TestPublicPagesRender(t *testing.T) {
	f := newFixture(t)

	resp, body := f.html(t, "/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Discover your path")
	assert.Contains(t, body, `href="/login"`)

	resp, body = f.html(t, "/login", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="identifier"`)

	resp, body = f.html(t, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "/nowhere does not exist")
}

func TestRegistrationRequiresTenantSetup(t *testing.T) {
	f := newFixture(t)
	cookie := f.register(t, "student@example.com", auth.RoleStudent)

	resp := f.do(t, http.MethodGet, "/dashboard", nil, cookie)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "/tenant-setup", decode(t, resp)["redirect"])

	resp = f.do(t, http.MethodGet, "/tenant-setup", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tenants, ok := decode(t, resp)["tenants"].([]any)
	require.True(t, ok)
	require.Len(t, tenants, 1)
	assert.Equal(t, tenant.DefaultID, tenants[0].(map[string]any)["id"])

	resp = f.do(t, http.MethodGet, "/", nil, cookie)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "public pages send signed in users away")
	assert.Equal(t, "/dashboard", decode(t, resp)["redirect"])
}

func TestTenantSetupCreateThenSwitch(t *testing.T) {
	f := newFixture(t)
	cookie := f.register(t, "counselor@example.com", auth.RoleCounselor)

	resp := f.do(t, http.MethodPost, "/tenant-setup", map[string]string{"name": "   "}, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "TENANT_NAME_REQUIRED", decode(t, resp)["text_code"])

	body := f.setupTenant(t, cookie, "  Acme Academy ")
	created := body["tenant"].(map[string]any)
	assert.Equal(t, "Acme Academy", created["name"])
	session := body["session"].(map[string]any)
	assert.Equal(t, false, session["needs_tenant_setup"])
	assert.Equal(t, created["id"], session["user"].(map[string]any)["tenant_id"])

	resp = f.do(t, http.MethodGet, "/dashboard", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dashboard := decode(t, resp)
	assert.Equal(t, "Counselor", dashboard["role_name"])
	assert.Equal(t, "Acme Academy", dashboard["tenant"].(map[string]any)["name"])
}

func TestTenantSelectUnknownIsRejected(t *testing.T) {
	f := newFixture(t)
	cookie := f.register(t, "pro@example.com", auth.RoleProfessional)

	resp := f.do(t, http.MethodPost, "/tenant-setup/select", map[string]string{"tenant_id": "nope"}, cookie)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/tenant-setup/select", map[string]string{"tenant_id": tenant.DefaultID}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, tenant.DefaultID, decode(t, resp)["tenant"].(map[string]any)["id"])

	resp = f.do(t, http.MethodGet, "/settings", nil, cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoleRestrictedPages(t *testing.T) {
	f := newFixture(t)
	cookie := f.register(t, "student@example.com", auth.RoleStudent)
	f.setupTenant(t, cookie, "School")

	resp := f.do(t, http.MethodGet, "/manage", nil, cookie)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "/dashboard", decode(t, resp)["redirect"])

	resp = f.do(t, http.MethodGet, "/admin/users", nil, cookie)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestManageInvite(t *testing.T) {
	f := newFixture(t)
	cookie := f.register(t, "counselor@example.com", auth.RoleCounselor)
	f.setupTenant(t, cookie, "Guidance Office")

	resp := f.do(t, http.MethodPost, "/manage/invite", map[string]string{"email": "not-an-email", "role": "student"}, cookie)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["errors"], "email")

	resp = f.do(t, http.MethodPost, "/manage/invite", map[string]string{"email": "kid@example.com", "role": "student"}, cookie)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	sent := f.invites.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "kid@example.com", sent[0].Email)
	assert.Equal(t, "Guidance Office", sent[0].TenantName)
	assert.Equal(t, auth.RoleStudent, sent[0].Role)
}

func TestTakingATest(t *testing.T) {
	f := newFixture(t)
	cookie := f.register(t, "student@example.com", auth.RoleStudent)
	f.setupTenant(t, cookie, "School")

	resp := f.do(t, http.MethodGet, "/tests?q=quick", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decode(t, resp)
	assert.Len(t, listing["tests"], 1)
	assert.Equal(t, float64(1), listing["meta"].(map[string]any)["total_items"])

	resp = f.do(t, http.MethodGet, "/test/missing", nil, cookie)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/test/quick/start", nil, cookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	started := decode(t, resp)
	attempt := started["attempt"].(map[string]any)
	id := attempt["id"].(string)
	assert.Equal(t, "q1", attempt["question"].(map[string]any)["id"])
	assert.Equal(t, "5:00", started["countdown"])

	resp = f.do(t, http.MethodPost, "/attempts/"+id+"/answer", map[string]string{"action": "next"}, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unanswered questions block next")

	resp = f.do(t, http.MethodPost, "/attempts/"+id+"/answer", map[string]string{"answer": "Maybe"}, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ANSWER", decode(t, resp)["text_code"])

	resp = f.do(t, http.MethodPost, "/attempts/"+id+"/answer", map[string]string{"answer": "True", "action": "next"}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode(t, resp)["attempt"].(map[string]any)
	assert.Equal(t, "q2", view["question"].(map[string]any)["id"])
	assert.Equal(t, true, view["is_last"])

	resp = f.do(t, http.MethodPost, "/attempts/"+id+"/answer", map[string]string{"answer": "False", "action": "submit"}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	submission := decode(t, resp)
	assert.Equal(t, float64(2), submission["answered"])
	assert.Equal(t, false, submission["auto_submitted"])

	resp = f.do(t, http.MethodGet, "/attempts/"+id, nil, cookie)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "submitted attempts are gone")

	resp = f.do(t, http.MethodGet, "/results", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decode(t, resp)
	require.Len(t, results["results"], 1)
	assert.Equal(t, "Quick Check", results["results"].([]any)[0].(map[string]any)["test_title"])
}

func TestAttemptsArePrivate(t *testing.T) {
	f := newFixture(t)
	first := f.register(t, "one@example.com", auth.RoleStudent)
	f.setupTenant(t, first, "One")
	second := f.register(t, "two@example.com", auth.RoleStudent)
	f.setupTenant(t, second, "Two")

	resp := f.do(t, http.MethodPost, "/test/quick/start", nil, first)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode(t, resp)["attempt"].(map[string]any)["id"].(string)

	resp = f.do(t, http.MethodGet, "/attempts/"+id, nil, second)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/attempts/"+id+"/submit", nil, second)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, f.runner.Active())
}

func TestAdminPages(t *testing.T) {
	f := newFixture(t)
	f.register(t, "student@example.com", auth.RoleStudent)
	cookie := f.signInAdmin(t)

	resp := f.do(t, http.MethodGet, "/dashboard", nil, cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/admin", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), decode(t, resp)["total_users"])

	resp = f.do(t, http.MethodGet, "/admin/users?role=student", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users := decode(t, resp)["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "student@example.com", users[0].(map[string]any)["email"])

	resp = f.do(t, http.MethodGet, "/admin/logs?per_page=1", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decode(t, resp)
	assert.Len(t, logs["entries"], 1)
	assert.Greater(t, logs["meta"].(map[string]any)["total_pages"], float64(1))

	resp = f.do(t, http.MethodGet, "/admin/scholarships", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Scholarships", decode(t, resp)["title"])
}

func TestSignedInLayoutRendersNavigation(t *testing.T) {
	f := newFixture(t)
	cookie := f.register(t, "student@example.com", auth.RoleStudent)
	f.setupTenant(t, cookie, "School")

	resp, body := f.html(t, "/results", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "My results")
	assert.Contains(t, body, `<li class="active"><a href="/results">My Results</a></li>`)
	assert.Contains(t, body, "Test User (Student)")
	assert.NotContains(t, body, "/admin/logs")
}

func TestLogoutDropsSession(t *testing.T) {
	f := newFixture(t)
	cookie := f.register(t, "student@example.com", auth.RoleStudent)
	f.setupTenant(t, cookie, "School")

	resp := f.do(t, http.MethodPost, "/logout", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/dashboard", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEmbeddedTemplatesParse(t *testing.T) {
	require.NoError(t, portal.NewEngine("", false).Load())
}

func TestPaginatedPageRendersNeighbourLinks(t *testing.T) {
	f := newFixture(t)
	f.register(t, "student@example.com", auth.RoleStudent)
	cookie := f.signInAdmin(t)

	resp, body := f.html(t, "/admin/logs?page=2&per_page=1", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="?page=1"`)
	if f.logs.Len() > 2 {
		assert.Contains(t, body, `href="?page=3"`)
	}
}

func TestInvalidLoginFormShowsFlashMessage(t *testing.T) {
	f := newFixture(t)

	form := url.Values{"identifier": {"not-an-email"}, "password": {""}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html")

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), `class="flash error"`)
	assert.Contains(t, string(body), `name="identifier"`)
}

func TestCSRFProtectsForms(t *testing.T) {
	f := newFixture(t, portal.WithCSRF(csrf.New(csrf.Config{
		SecureKey: []byte("0123456789abcdef0123456789abcdef"),
	})))

	resp := f.do(t, http.MethodGet, "/csrf-token", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := decode(t, resp)
	assert.NotEmpty(t, token["token"])
	assert.Equal(t, csrf.DefaultHeaderName, token["header_name"])

	resp, body := f.html(t, "/login", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="csrf-token"`)

	resp = f.do(t, http.MethodPost, "/login", map[string]string{
		"identifier": "ana@example.com",
		"password":   "password123",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "posts without a token are rejected")
}
