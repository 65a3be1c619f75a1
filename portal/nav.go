package portal

import (
	"strings"

	auth "github.com/goliatone/go-portal-auth"
)

// NavItem is one sidebar entry.
type NavItem struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

var navigation = map[auth.Role][]NavItem{
	auth.RoleStudent: {
		{Title: "Dashboard", URL: "/dashboard"},
		{Title: "Available Tests", URL: "/tests"},
		{Title: "My Results", URL: "/results"},
		{Title: "Profile", URL: "/profile"},
		{Title: "Settings", URL: "/settings"},
	},
	auth.RoleCounselor: {
		{Title: "Dashboard", URL: "/dashboard"},
		{Title: "Student Management", URL: "/manage"},
		{Title: "Test Management", URL: "/tests"},
		{Title: "Results", URL: "/results"},
		{Title: "Profile", URL: "/profile"},
		{Title: "Settings", URL: "/settings"},
	},
	auth.RoleProfessional: {
		{Title: "Dashboard", URL: "/dashboard"},
		{Title: "Assessments", URL: "/tests"},
		{Title: "Profile", URL: "/profile"},
		{Title: "Settings", URL: "/settings"},
	},
	auth.RoleAdmin: {
		{Title: "Dashboard", URL: "/admin"},
		{Title: "User Management", URL: "/admin/users"},
		{Title: "Content Management", URL: "/admin/content"},
		{Title: "Question Assignment", URL: "/admin/questions"},
		{Title: "System Analytics", URL: "/admin/analytics"},
		{Title: "Scholarships", URL: "/admin/scholarships"},
		{Title: "Feedback Management", URL: "/admin/feedback"},
		{Title: "System Logs", URL: "/admin/logs"},
		{Title: "Profile", URL: "/admin/profile"},
	},
}

// Navigation returns the sidebar of role with the entry for path marked
// active. Admin entries also match their sub pages. Unknown roles get no
// navigation.
func Navigation(role auth.Role, path string) []NavItem {
	items := navigation[role]
	out := make([]NavItem, len(items))
	for i, item := range items {
		item.Active = item.URL == path
		if !item.Active && role == auth.RoleAdmin && item.URL != "/admin" {
			item.Active = strings.HasPrefix(path, item.URL+"/")
		}
		out[i] = item
	}
	return out
}
