package portal

import (
	"strings"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/activitylog"
	"github.com/goliatone/go-portal-auth/assessment"
	"github.com/goliatone/go-portal-auth/paginate"
	"github.com/goliatone/go-router"
)

const recentResults = 3

// Dashboard is the role home page.
func (p *Portal) Dashboard(c router.Context) error {
	m, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "dashboard", nil, err)
	}
	tc := p.tenantFor(c, m, user)
	current, _ := tc.Current()

	results := p.runner.Results(user.ID)
	if len(results) > recentResults {
		results = results[:recentResults]
	}

	available, err := p.catalog.List(c.Context(), assessment.Filter{})
	if err != nil {
		return p.respondError(c, "dashboard", nil, err)
	}

	return p.respond(c, "dashboard", router.ViewContext{
		"user":            user,
		"role_name":       user.Role.Label(),
		"tenant":          current,
		"recent_results":  results,
		"available_tests": len(available),
	})
}

// Profile shows the profile form, it posts to the auth profile endpoint.
func (p *Portal) Profile(c router.Context) error {
	_, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "profile", nil, err)
	}
	return p.respond(c, "profile", router.ViewContext{
		"user":   user,
		"errors": map[string]string{},
	})
}

// Settings shows the account settings.
func (p *Portal) Settings(c router.Context) error {
	_, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "settings", nil, err)
	}
	return p.respond(c, "settings", router.ViewContext{
		"user": user,
	})
}

// AdminDashboard shows the system overview.
func (p *Portal) AdminDashboard(c router.Context) error {
	users := 0
	if p.profiles != nil {
		profiles, err := p.profiles.ListProfiles(c.Context(), "")
		if err != nil {
			return p.respondError(c, "admin_dashboard", nil, err)
		}
		users = len(profiles)
	}

	recent, _ := p.logs.Page(activitylog.Filter{}, 1, 5)

	return p.respond(c, "admin_dashboard", router.ViewContext{
		"total_users":     users,
		"active_attempts": p.runner.Active(),
		"log_entries":     p.logs.Len(),
		"recent_activity": recent,
	})
}

type userFilter struct {
	Search string `json:"q"`
	Role   string `json:"role"`
}

func (f userFilter) match(profile *auth.Profile) bool {
	if role := strings.TrimSpace(f.Role); role != "" && !strings.EqualFold(role, "all") {
		if !strings.EqualFold(role, string(profile.Role)) {
			return false
		}
	}
	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(profile.DisplayName), term) ||
		strings.Contains(strings.ToLower(profile.Email), term)
}

// AdminUsers lists every profile, filtered by q and role.
func (p *Portal) AdminUsers(c router.Context) error {
	filter := userFilter{Search: c.Query("q"), Role: c.Query("role")}

	matched := []*auth.Profile{}
	if p.profiles != nil {
		profiles, err := p.profiles.ListProfiles(c.Context(), "")
		if err != nil {
			return p.respondError(c, "admin_users", nil, err)
		}
		for _, profile := range profiles {
			if filter.match(profile) {
				matched = append(matched, profile)
			}
		}
	}

	params := paginate.ParseParams(c.Query("page"), c.Query("per_page"), paginate.DefaultPageSize)
	items, meta := paginate.Window(matched, params.Page, params.PerPage)

	return p.respond(c, "admin_users", router.ViewContext{
		"users":  items,
		"meta":   meta,
		"filter": filter,
		"roles":  auth.Roles,
	})
}

// AdminLogs pages through the activity log, filtered by level, channel and q.
func (p *Portal) AdminLogs(c router.Context) error {
	filter := activitylog.Filter{
		Level:   activitylog.Level(c.Query("level")),
		Channel: c.Query("channel"),
		Search:  c.Query("q"),
	}

	params := paginate.ParseParams(c.Query("page"), c.Query("per_page"), p.pageSize)
	entries, meta := p.logs.Page(filter, params.Page, params.PerPage)

	return p.respond(c, "admin_logs", router.ViewContext{
		"entries": entries,
		"meta":    meta,
		"filter":  filter,
	})
}

func (p *Portal) adminSection(title string) router.HandlerFunc {
	return func(c router.Context) error {
		return p.respond(c, "admin_section", router.ViewContext{
			"title": title,
		})
	}
}
