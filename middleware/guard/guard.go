package guard

import (
	"slices"

	auth "github.com/goliatone/go-portal-auth"
)

// Kind is the page category a guard protects.
type Kind int

const (
	// Protected pages need a signed in user with a tenant.
	Protected Kind = iota
	// Public pages are only shown to signed out visitors.
	Public
	// Setup is the tenant setup page, it needs a signed in user.
	Setup
)

func (k Kind) String() string {
	switch k {
	case Protected:
		return "protected"
	case Public:
		return "public"
	case Setup:
		return "setup"
	default:
		return "unknown"
	}
}

// Outcome is what a guard decided to do with a request.
type Outcome int

const (
	Render Outcome = iota
	Placeholder
	RedirectLogin
	RedirectSetup
	RedirectDashboard
	RedirectHome
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Placeholder:
		return "placeholder"
	case RedirectLogin:
		return "redirect_login"
	case RedirectSetup:
		return "redirect_setup"
	case RedirectDashboard:
		return "redirect_dashboard"
	case RedirectHome:
		return "redirect_home"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating a guard. Location is set for
// redirect outcomes.
type Decision struct {
	Outcome  Outcome
	Location string
}

// IsRedirect reports whether the decision sends the visitor elsewhere.
func (d Decision) IsRedirect() bool {
	switch d.Outcome {
	case RedirectLogin, RedirectSetup, RedirectDashboard, RedirectHome:
		return true
	}
	return false
}

// Paths are the redirect targets used by guards.
type Paths struct {
	Login     string
	Setup     string
	Dashboard string
}

// DefaultPaths are the portal's redirect targets.
var DefaultPaths = Paths{
	Login:     "/login",
	Setup:     "/tenant-setup",
	Dashboard: "/dashboard",
}

type rules struct {
	paths Paths
	roles []auth.Role
}

// Rule customizes a guard evaluation.
type Rule func(*rules)

// WithRoles restricts a protected page to the given roles. Other signed in
// users are sent to their role's home page.
func WithRoles(roles ...auth.Role) Rule {
	return func(r *rules) {
		r.roles = append(r.roles, roles...)
	}
}

// WithPaths overrides the redirect targets. Empty fields keep the default.
func WithPaths(p Paths) Rule {
	return func(r *rules) {
		if p.Login != "" {
			r.paths.Login = p.Login
		}
		if p.Setup != "" {
			r.paths.Setup = p.Setup
		}
		if p.Dashboard != "" {
			r.paths.Dashboard = p.Dashboard
		}
	}
}

// Evaluate decides what to do with a request for a page of kind given the
// session snapshot. It has no side effects and is evaluated on every request.
func Evaluate(snap auth.Snapshot, kind Kind, opts ...Rule) Decision {
	r := rules{paths: DefaultPaths}
	for _, opt := range opts {
		if opt != nil {
			opt(&r)
		}
	}

	if snap.IsLoading || snap.Status == auth.StatusLoading || snap.Status == auth.StatusAuthenticating {
		return Decision{Outcome: Placeholder}
	}

	switch kind {
	case Public:
		if snap.IsAuthenticated {
			return Decision{Outcome: RedirectDashboard, Location: r.paths.Dashboard}
		}
		return Decision{Outcome: Render}

	case Setup:
		if !snap.IsAuthenticated {
			return Decision{Outcome: RedirectLogin, Location: r.paths.Login}
		}
		return Decision{Outcome: Render}

	default:
		if !snap.IsAuthenticated {
			return Decision{Outcome: RedirectLogin, Location: r.paths.Login}
		}
		if snap.NeedsTenantSetup {
			return Decision{Outcome: RedirectSetup, Location: r.paths.Setup}
		}
		if len(r.roles) > 0 && !slices.Contains(r.roles, snap.Role()) {
			home := snap.Role().HomePath()
			if home == "" {
				home = r.paths.Dashboard
			}
			return Decision{Outcome: RedirectHome, Location: home}
		}
		return Decision{Outcome: Render}
	}
}
