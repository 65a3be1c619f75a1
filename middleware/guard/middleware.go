package guard

import (
	"net/http"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-router"
)

// Resolver returns the session snapshot of a request.
type Resolver func(c router.Context) auth.Snapshot

// Config configures the guard middleware.
type Config struct {
	// Filter skips the guard when it returns true.
	Filter func(router.Context) bool
	// Placeholder is called while the session is still resolving.
	Placeholder router.HandlerFunc
	// OnRedirect runs before a redirect response, for example to remember
	// the requested URL on RedirectLogin.
	OnRedirect func(c router.Context, d Decision)
	// Rules are applied to every evaluation.
	Rules  []Rule
	Logger auth.Logger
}

// New returns a middleware that evaluates kind for every request. A nil
// resolver reads the snapshot stored by auth.RouteAuthenticator.Middleware.
func New(resolver Resolver, kind Kind, config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)
	if resolver == nil {
		resolver = auth.GetSnapshot
	}

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if cfg.Filter != nil && cfg.Filter(c) {
				return c.Next()
			}

			d := Evaluate(resolver(c), kind, cfg.Rules...)
			c.Locals(LocalsDecisionKey, d)

			switch {
			case d.Outcome == Render:
				return c.Next()
			case d.Outcome == Placeholder:
				return cfg.Placeholder(c)
			case d.IsRedirect():
				cfg.Logger.Debug("guard redirect", "kind", kind, "outcome", d.Outcome, "path", c.Path(), "location", d.Location)
				if cfg.OnRedirect != nil {
					cfg.OnRedirect(c, d)
				}
				return redirect(c, d)
			}

			return c.Next()
		}
	}
}

// LocalsDecisionKey holds the Decision of the last guard that ran.
const LocalsDecisionKey = "guard.decision"

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Placeholder == nil {
		cfg.Placeholder = DefaultPlaceholder
	}

	if cfg.Logger == nil {
		cfg.Logger = auth.DefaultLogger()
	}

	return cfg
}

// DefaultPlaceholder asks the client to retry while the session resolves.
func DefaultPlaceholder(c router.Context) error {
	c.SetHeader("Retry-After", "1")
	if auth.WantsJSON(c) {
		return c.JSON(http.StatusAccepted, map[string]any{
			"status": auth.StatusLoading,
		})
	}
	return c.Status(http.StatusAccepted).SendString("Loading...")
}

func redirect(c router.Context, d Decision) error {
	if auth.WantsJSON(c) {
		status := router.StatusForbidden
		if d.Outcome == RedirectLogin {
			status = router.StatusUnauthorized
		}
		return c.JSON(status, map[string]any{
			"error":    d.Outcome.String(),
			"redirect": d.Location,
		})
	}
	return c.Redirect(d.Location, http.StatusFound)
}
