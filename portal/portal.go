// Package portal mounts the assessment portal pages on a go-router router
// served by the fiber adapter.
//
// Every page is gated by a guard from middleware/guard, evaluated against
// the session machine that auth.RouteAuthenticator attaches to the request.
// Handlers answer JSON when the client asks for it and render django views
// otherwise.
package portal

import (
	"context"
	"errors"

	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/activitylog"
	"github.com/goliatone/go-portal-auth/assessment"
	"github.com/goliatone/go-portal-auth/middleware/csrf"
	"github.com/goliatone/go-portal-auth/middleware/guard"
	"github.com/goliatone/go-portal-auth/tenant"
	"github.com/goliatone/go-router"
)

// ProfileLister lists the portal profiles of a tenant. An empty tenant id
// lists every profile.
type ProfileLister interface {
	ListProfiles(ctx context.Context, tenantID string) ([]*auth.Profile, error)
}

// Option configures a Portal.
type Option func(*Portal)

// WithTenants sets the per session tenant contexts.
func WithTenants(contexts *tenant.Contexts) Option {
	return func(p *Portal) {
		if contexts != nil {
			p.tenants = contexts
		}
	}
}

// WithRunner sets the assessment runner. Its catalog backs the tests pages.
func WithRunner(runner *assessment.Runner, catalog assessment.Catalog) Option {
	return func(p *Portal) {
		p.runner = runner
		p.catalog = catalog
	}
}

// WithActivityLog sets the store shown on the system logs page.
func WithActivityLog(store *activitylog.Store) Option {
	return func(p *Portal) {
		p.logs = store
	}
}

// WithProfiles sets the profile listing behind the user management page.
func WithProfiles(profiles ProfileLister) Option {
	return func(p *Portal) {
		p.profiles = profiles
	}
}

// WithCSRF installs a CSRF middleware in front of every route.
func WithCSRF(mw router.MiddlewareFunc) Option {
	return func(p *Portal) {
		p.csrf = mw
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(p *Portal) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDebug dumps form payloads from the auth controller.
func WithDebug(debug bool) Option {
	return func(p *Portal) {
		p.debug = debug
	}
}

// WithPageSize sets the rows per page of paginated tables.
func WithPageSize(size int) Option {
	return func(p *Portal) {
		if size > 0 {
			p.pageSize = size
		}
	}
}

// Portal holds the page handlers.
type Portal struct {
	auther   *auth.RouteAuthenticator
	tenants  *tenant.Contexts
	runner   *assessment.Runner
	catalog  assessment.Catalog
	logs     *activitylog.Store
	profiles ProfileLister
	csrf     router.MiddlewareFunc
	logger   auth.Logger
	debug    bool
	pageSize int
}

// New returns a portal authenticating requests with auther.
func New(auther *auth.RouteAuthenticator, opts ...Option) *Portal {
	if auther == nil {
		panic("Missing RouteAuthenticator in portal...")
	}

	p := &Portal{
		auther:   auther,
		tenants:  tenant.NewContexts(),
		logger:   auth.DefaultLogger(),
		pageSize: activitylog.DefaultPageSize,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.catalog == nil {
		p.catalog = assessment.NewStaticCatalog(assessment.DefaultTests()...)
	}
	if p.runner == nil {
		p.runner = assessment.NewRunner(p.catalog, assessment.WithRunnerLogger(p.logger))
	}
	if p.logs == nil {
		p.logs = activitylog.NewStore(activitylog.DefaultCapacity)
	}

	return p
}

// Runner returns the assessment runner so callers can close it on shutdown.
func (p *Portal) Runner() *assessment.Runner {
	return p.runner
}

// Register mounts the middleware stack and every page on r. Unmatched
// routes fall through to ErrorHandler, which renders the not found page.
func Register[T any](p *Portal, r router.Router[T]) {
	r.Use(p.auther.Middleware())
	if p.csrf != nil {
		r.Use(p.csrf)
	}
	r.Use(p.bindGlobals)

	guardCfg := guard.Config{
		Logger: p.logger,
		OnRedirect: func(c router.Context, d guard.Decision) {
			if d.Outcome == guard.RedirectLogin && c.Method() == http.MethodGet {
				p.auther.SetRedirect(c)
			}
		},
	}
	public := guard.New(nil, guard.Public, guardCfg)
	setup := guard.New(nil, guard.Setup, guardCfg)
	protected := guard.New(nil, guard.Protected, guardCfg)

	managers := guardCfg
	managers.Rules = []guard.Rule{guard.WithRoles(auth.RoleCounselor, auth.RoleAdmin)}
	manage := guard.New(nil, guard.Protected, managers)

	admins := guardCfg
	admins.Rules = []guard.Rule{guard.WithRoles(auth.RoleAdmin)}
	admin := guard.New(nil, guard.Protected, admins)

	r.Get("/", p.Landing, public).SetName("landing.get")
	if p.csrf != nil {
		r.Get("/csrf-token", csrf.TokenHandler()).SetName("csrf-token.get")
	}

	auth.RegisterAuthRoutes(r,
		auth.WithAuthenticator(p.auther),
		auth.WithControllerLogger(p.logger),
		auth.WithControllerDebug(p.debug),
		auth.WithPageMiddleware(public),
	)

	r.Get("/tenant-setup", p.TenantSetupShow, setup).SetName("tenant-setup.get")
	r.Post("/tenant-setup", p.TenantSetupCreate, setup).SetName("tenant-setup.post")
	r.Post("/tenant-setup/select", p.TenantSelect, setup).SetName("tenant-select.post")

	r.Get("/dashboard", p.Dashboard, protected).SetName("dashboard.get")
	r.Get("/tests", p.Tests, protected).SetName("tests.get")
	r.Get("/test/:id", p.TestShow, protected).SetName("test.get")
	r.Post("/test/:id/start", p.TestStart, protected).SetName("test-start.post")
	r.Get("/attempts/:attempt", p.AttemptShow, protected).SetName("attempt.get")
	r.Post("/attempts/:attempt/answer", p.AttemptAnswer, protected).SetName("attempt-answer.post")
	r.Post("/attempts/:attempt/submit", p.AttemptSubmit, protected).SetName("attempt-submit.post")
	r.Get("/results", p.Results, protected).SetName("results.get")
	r.Get("/profile", p.Profile, protected).SetName("profile.get")
	r.Get("/settings", p.Settings, protected).SetName("settings.get")
	r.Get("/manage", p.Manage, manage).SetName("manage.get")
	r.Post("/manage/invite", p.Invite, manage).SetName("manage-invite.post")

	adm := r.Group("/admin")
	adm.Get("/", p.AdminDashboard, admin).SetName("admin.get")
	adm.Get("/users", p.AdminUsers, admin).SetName("admin-users.get")
	adm.Get("/logs", p.AdminLogs, admin).SetName("admin-logs.get")
	adm.Get("/profile", p.Profile, admin).SetName("admin-profile.get")
	for _, section := range adminSections {
		adm.Get("/"+section.slug, p.adminSection(section.title), admin).SetName("admin-" + section.slug + ".get")
	}
}

var adminSections = []struct{ slug, title string }{
	{"content", "Content Management"},
	{"questions", "Question Assignment"},
	{"analytics", "System Analytics"},
	{"scholarships", "Scholarships"},
	{"feedback", "Feedback Management"},
}

// bindGlobals exposes the sidebar and the current path to every view
// through the template helpers locals.
func (p *Portal) bindGlobals(hf router.HandlerFunc) router.HandlerFunc {
	return func(c router.Context) error {
		c.LocalsMerge(auth.TemplateHelpersKey, map[string]any{
			"navigation": Navigation(auth.GetSnapshot(c).Role(), c.Path()),
			"path":       c.Path(),
		})
		return c.Next()
	}
}

// Landing is the public home page.
func (p *Portal) Landing(c router.Context) error {
	return p.respond(c, "landing", router.ViewContext{
		"roles": auth.Roles,
	})
}

// respond renders view, or sends data as JSON when the client asked for it.
func (p *Portal) respond(c router.Context, view string, data router.ViewContext) error {
	return p.respondStatus(c, http.StatusOK, view, data)
}

func (p *Portal) respondStatus(c router.Context, status int, view string, data router.ViewContext) error {
	if auth.WantsJSON(c) {
		return c.JSON(status, data)
	}
	return c.Status(status).Render(view, auth.MergeTemplateData(c, data))
}

// respondError maps err onto its status code. Validation errors are keyed
// by field.
func (p *Portal) respondError(c router.Context, view string, data router.ViewContext, err error) error {
	status := auth.StatusCode(err)
	var fields validation.Errors
	if errors.As(err, &fields) {
		status = http.StatusUnprocessableEntity
	}
	if status >= http.StatusInternalServerError {
		p.logger.Error("portal request failed", "path", c.Path(), "error", err)
	}

	if data == nil {
		data = router.ViewContext{}
	}
	data["errors"] = auth.FormatValidationErrorToMap(err)
	data["text_code"] = auth.TextCode(err)
	return p.respondStatus(c, status, view, data)
}

// session returns the machine and user of a request that passed a
// protected or setup guard.
func (p *Portal) session(c router.Context) (*auth.Machine, *auth.User, error) {
	m, ok := auth.GetMachine(c)
	if !ok {
		return nil, nil, auth.ErrNoActiveSession
	}
	user, ok := auth.GetUser(c)
	if !ok {
		return nil, nil, auth.ErrNoActiveSession
	}
	return m, user, nil
}

// tenantFor returns the tenant context of m, loading it on first use or
// when m now belongs to another user.
func (p *Portal) tenantFor(c router.Context, m *auth.Machine, user *auth.User) *tenant.Context {
	tc := p.tenants.For(m)
	if tc.UserID() != user.ID {
		tc.Load(c.Context(), user.ID, user.TenantID)
	}
	return tc
}

func wantsJSON(c router.Context) bool {
	return auth.WantsJSON(c)
}
