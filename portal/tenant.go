package portal

import (
	"net/http"

	"github.com/goliatone/go-portal-auth/tenant"
	"github.com/goliatone/go-router"
)

// TenantSetupShow lists the organisations the user can pick and the
// create form.
func (p *Portal) TenantSetupShow(c router.Context) error {
	m, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "tenant_setup", nil, err)
	}
	tc := p.tenantFor(c, m, user)

	return p.respond(c, "tenant_setup", router.ViewContext{
		"tenants": tc.Available(),
		"record":  tenant.CreateRequest{},
		"errors":  map[string]string{},
	})
}

// TenantSetupCreate creates an organisation and selects it.
func (p *Portal) TenantSetupCreate(c router.Context) error {
	m, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "tenant_setup", nil, err)
	}
	tc := p.tenantFor(c, m, user)

	payload := tenant.CreateRequest{}
	if err := c.Bind(&payload); err != nil {
		return p.respondStatus(c, http.StatusBadRequest, "tenant_setup", router.ViewContext{
			"tenants": tc.Available(),
			"record":  payload,
			"errors":  map[string]string{"form": "Failed to parse form"},
		})
	}

	created, err := tc.Create(c.Context(), payload.Name, payload.Subdomain)
	if err != nil {
		return p.respondError(c, "tenant_setup", router.ViewContext{
			"tenants": tc.Available(),
			"record":  payload,
		}, err)
	}

	if err := tc.Switch(c.Context(), created.ID); err != nil {
		return p.respondError(c, "tenant_setup", router.ViewContext{
			"tenants": tc.Available(),
			"record":  payload,
		}, err)
	}

	return p.afterSetup(c, created)
}

// TenantSelect switches to an organisation the user already belongs to.
func (p *Portal) TenantSelect(c router.Context) error {
	m, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "tenant_setup", nil, err)
	}
	tc := p.tenantFor(c, m, user)

	payload := struct {
		TenantID string `form:"tenant_id" json:"tenant_id"`
	}{}
	if err := c.Bind(&payload); err != nil {
		return p.respondStatus(c, http.StatusBadRequest, "tenant_setup", router.ViewContext{
			"tenants": tc.Available(),
			"errors":  map[string]string{"form": "Failed to parse form"},
		})
	}

	if err := tc.Switch(c.Context(), payload.TenantID); err != nil {
		return p.respondError(c, "tenant_setup", router.ViewContext{"tenants": tc.Available()}, err)
	}

	current, ok := tc.Current()
	if !ok || current.ID != payload.TenantID {
		return p.respondStatus(c, http.StatusUnprocessableEntity, "tenant_setup", router.ViewContext{
			"tenants": tc.Available(),
			"errors":  map[string]string{"tenant_id": "unknown organization"},
		})
	}

	return p.afterSetup(c, current)
}

func (p *Portal) afterSetup(c router.Context, selected tenant.Tenant) error {
	m, _, err := p.session(c)
	if err != nil {
		return p.respondError(c, "tenant_setup", nil, err)
	}
	snap := m.Snapshot()

	if wantsJSON(c) {
		return c.JSON(http.StatusOK, router.ViewContext{
			"tenant":  selected,
			"session": snap,
		})
	}

	return c.Redirect(snap.Role().HomePath(), http.StatusSeeOther)
}

// Manage lists the current organisation and the invite form.
func (p *Portal) Manage(c router.Context) error {
	m, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "manage", nil, err)
	}
	tc := p.tenantFor(c, m, user)
	current, _ := tc.Current()

	return p.respond(c, "manage", router.ViewContext{
		"tenant":  current,
		"tenants": tc.Available(),
		"record":  tenant.InviteRequest{},
		"errors":  map[string]string{},
	})
}

// Invite sends an invitation to join the current organisation.
func (p *Portal) Invite(c router.Context) error {
	m, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "manage", nil, err)
	}
	tc := p.tenantFor(c, m, user)
	current, _ := tc.Current()

	payload := tenant.InviteRequest{}
	if err := c.Bind(&payload); err != nil {
		return p.respondStatus(c, http.StatusBadRequest, "manage", router.ViewContext{
			"tenant": current,
			"record": payload,
			"errors": map[string]string{"form": "Failed to parse form"},
		})
	}

	if err := tc.Invite(c.Context(), payload.GetEmail(), payload.GetRole()); err != nil {
		return p.respondError(c, "manage", router.ViewContext{
			"tenant": current,
			"record": payload,
		}, err)
	}

	if wantsJSON(c) {
		return c.JSON(http.StatusAccepted, router.ViewContext{
			"tenant_id": current.ID,
			"email":     payload.GetEmail(),
			"role":      payload.GetRole(),
		})
	}

	return c.Redirect("/manage", http.StatusSeeOther)
}
