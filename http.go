package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteAuthenticator binds browser requests to their session machines. The
// session cookie carries an opaque registry id; provider tokens never leave
// the server. API clients may send a provider access token as a bearer
// token instead.
type RouteAuthenticator struct {
	cfg                    Config
	registry               *Registry
	cookieDuration         time.Duration
	extendedCookieDuration time.Duration
	SecureCookies          bool
	Logger                 Logger
	ErrorHandler           router.ErrorHandler
}

// NewHTTPAuthenticator returns an authenticator storing machines in registry.
func NewHTTPAuthenticator(registry *Registry, cfg Config) *RouteAuthenticator {
	if registry == nil {
		panic("Missing Registry in route authenticator...")
	}

	cookieDuration := 24 * time.Hour
	if cfg.GetTokenExpiration() > 0 {
		cookieDuration = time.Duration(cfg.GetTokenExpiration()) * time.Hour
	}

	extendedCookieDuration := cookieDuration
	if cfg.GetExtendedTokenDuration() > 0 {
		extendedCookieDuration = time.Duration(cfg.GetExtendedTokenDuration()) * time.Hour
	}

	a := &RouteAuthenticator{
		cfg:                    cfg,
		registry:               registry,
		Logger:                 defLogger{},
		cookieDuration:         cookieDuration,
		extendedCookieDuration: extendedCookieDuration,
		SecureCookies:          true,
	}

	a.ErrorHandler = a.defaultErrHandler

	return a
}

func (a RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

func (a RouteAuthenticator) GetExtendedCookieDuration() time.Duration {
	return a.extendedCookieDuration
}

// Middleware attaches the session machine for the request, if any, to the
// request locals and context. It never rejects a request, guards decide
// what to render.
func (a *RouteAuthenticator) Middleware() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			key := a.cfg.GetContextKey()
			if id := c.Cookies(key); id != "" {
				if m, ok := a.registry.Get(id); ok {
					attach(c, m)
					return c.Next()
				}
				a.cookieDel(c, key)
			}

			token := bearerToken(c.GetString(router.HeaderAuthorization, ""))
			if token == "" {
				return c.Next()
			}

			m := a.registry.Ephemeral()
			defer m.Close()

			if err := m.Restore(c.Context(), token); err != nil {
				a.Logger.Debug("bearer token rejected", "error", err, "path", c.Path())
			}

			attach(c, m)
			return c.Next()
		}
	}
}

// ProtectedRoute rejects requests without an authenticated session through
// ErrorHandler. Browser requests are sent to the login page.
func (a *RouteAuthenticator) ProtectedRoute() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if !GetSnapshot(c).IsAuthenticated {
				return a.ErrorHandler(c, ErrNoActiveSession)
			}
			return c.Next()
		}
	}
}

func attach(c router.Context, m *Machine) {
	SetMachine(c, m)
	c.SetContext(WithMachine(c.Context(), m))
}

// Ensure returns the request's registered machine, creating one and
// setting the session cookie when the request has none.
func (a *RouteAuthenticator) Ensure(c router.Context) *Machine {
	if id := c.Cookies(a.cfg.GetContextKey()); id != "" {
		if m, ok := a.registry.Get(id); ok {
			attach(c, m)
			return m
		}
	}

	id, m := a.registry.Create()
	if err := m.Restore(c.Context(), ""); err != nil {
		a.Logger.Debug("restore on new session machine failed", "error", err)
	}
	a.setCookieToken(c, id, a.cookieDuration)
	attach(c, m)
	return m
}

// Login signs the request's session in.
func (a *RouteAuthenticator) Login(c router.Context, payload LoginPayload) error {
	m := a.Ensure(c)

	if err := m.Login(c.Context(), payload.GetIdentifier(), payload.GetPassword()); err != nil {
		a.Logger.Info("Login error", "error", err, "text_code", TextCode(err))
		return err
	}

	if payload.GetExtendedSession() {
		a.setCookieToken(c, m.ID(), a.extendedCookieDuration)
	}

	return nil
}

// Register provisions an identity for the request's session.
func (a *RouteAuthenticator) Register(c router.Context, payload RegistrationPayload) error {
	m := a.Ensure(c)

	err := m.Register(
		c.Context(),
		payload.GetEmail(),
		payload.GetPassword(),
		payload.GetDisplayName(),
		payload.GetRole(),
	)
	if err != nil {
		a.Logger.Info("Registration error", "error", err, "text_code", TextCode(err))
	}
	return err
}

// Logout signs the request's session out and forgets its machine.
func (a *RouteAuthenticator) Logout(c router.Context) error {
	key := a.cfg.GetContextKey()
	defer a.cookieDel(c, key)

	m, ok := GetMachine(c)
	if !ok {
		return nil
	}

	err := m.Logout(c.Context())
	a.registry.Drop(c.Cookies(key))
	return err
}

func (a *RouteAuthenticator) GetRedirect(c router.Context, def ...string) string {
	rejectedRoute := a.cfg.GetRejectedRouteKey()
	r := c.Cookies(rejectedRoute)
	if r == "" {
		if len(def) > 0 {
			return def[0]
		}
		return a.cfg.GetRejectedRouteDefault()
	}
	a.cookieDel(c, rejectedRoute)
	return r
}

func (a *RouteAuthenticator) GetRedirectOrDefault(c router.Context) string {
	return a.GetRedirect(c, a.cfg.GetRejectedRouteDefault())
}

// SetRedirect remembers the current URL to return to after login.
func (a *RouteAuthenticator) SetRedirect(c router.Context) {
	rejectedRoute := a.cfg.GetRejectedRouteKey()

	a.Logger.Debug("Setting redirect cookie", "key", rejectedRoute, "path", c.OriginalURL())

	c.Cookie(&router.Cookie{
		Name:     rejectedRoute,
		Value:    c.OriginalURL(),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   a.SecureCookies,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.GetContextKey(),
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   a.SecureCookies,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.SecureCookies,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Middleware error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		if WantsJSON(c) {
			return c.JSON(StatusCode(richErr), map[string]any{
				"error":     richErr.Message,
				"text_code": richErr.TextCode,
			})
		}
		a.SetRedirect(c)
		return c.Redirect("/login", redirectStatus(c))
	default:
		return c.JSON(StatusCode(richErr), map[string]any{
			"error":     richErr.Message,
			"text_code": richErr.TextCode,
		})
	}
}

func redirectStatus(c router.Context) int {
	if c.Method() == string(router.GET) {
		return http.StatusFound
	}
	return http.StatusSeeOther
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
