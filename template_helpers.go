package auth

import (
	"github.com/goliatone/go-router"
)

var (
	TemplateUserKey    = "current_user"
	TemplateSessionKey = "session"
	// TemplateHelpersKey is the locals key middleware merge per request
	// view values into, for example the CSRF helpers.
	TemplateHelpersKey = "template_helpers"
)

// TemplateHelpers returns functions and data for the view engine.
//
// Usage:
//
//	engine := django.NewFileSystem(http.FS(views), ".html")
//	for name, fn := range auth.TemplateHelpers() {
//	    engine.AddFunc(name, fn)
//	}
//
// In templates, you can then use:
//
//	{% if is_authenticated(current_user) %}
//	{% if has_role(current_user, "admin") %}
//	{{ role_label(current_user) }}
func TemplateHelpers() map[string]any {
	roles := make(map[string]string, len(Roles))
	for _, r := range Roles {
		roles[string(r)] = r.Label()
	}

	return map[string]any{
		"is_authenticated": isAuthenticated,
		"has_role":         hasRole,
		"role_label":       roleLabel,
		"role_label_of":    roleLabelOf,
		"home_path":        homePath,
		"role_labels":      roles,
	}
}

// TemplateData returns the session values every page needs, keyed by
// TemplateUserKey and TemplateSessionKey.
func TemplateData(c router.Context) router.ViewContext {
	snap := GetSnapshot(c)
	return router.ViewContext{
		TemplateUserKey:    snap.User,
		TemplateSessionKey: snap,
	}
}

// MergeTemplateData adds the session values and the helpers stored under
// TemplateHelpersKey to data. Keys already set in data win.
func MergeTemplateData(c router.Context, data router.ViewContext) router.ViewContext {
	out := router.ViewContext{}
	switch helpers := c.Locals(TemplateHelpersKey).(type) {
	case map[string]any:
		for k, v := range helpers {
			out[k] = v
		}
	case router.ViewContext:
		for k, v := range helpers {
			out[k] = v
		}
	}
	for k, v := range TemplateData(c) {
		out[k] = v
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}

func userOf(v any) *User {
	switch u := v.(type) {
	case *User:
		return u
	case User:
		return &u
	case Snapshot:
		if u.IsAuthenticated {
			return u.User
		}
	case *Snapshot:
		if u != nil && u.IsAuthenticated {
			return u.User
		}
	}
	return nil
}

func isAuthenticated(v any) bool {
	return userOf(v) != nil
}

func hasRole(v any, role string) bool {
	u := userOf(v)
	if u == nil {
		return false
	}
	r, ok := ParseRole(role)
	return ok && u.Role == r
}

func roleLabel(v any) string {
	if u := userOf(v); u != nil {
		return u.Role.Label()
	}
	return ""
}

func roleLabelOf(v any) string {
	switch r := v.(type) {
	case Role:
		return r.Label()
	case string:
		role, ok := ParseRole(r)
		if !ok {
			return r
		}
		return role.Label()
	}
	return ""
}

func homePath(v any) string {
	if u := userOf(v); u != nil {
		return u.Role.HomePath()
	}
	return "/"
}
