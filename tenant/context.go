package tenant

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/google/uuid"
)

// SetupCompleter is told which tenant the signed in user picked.
// *auth.Machine implements it.
type SetupCompleter interface {
	CompleteSetup(ctx context.Context, tenantID string) error
}

// Option customizes Context construction.
type Option func(*Context)

// WithStore sets the tenant store, defaults to a MemoryStore.
func WithStore(store Store) Option {
	return func(c *Context) {
		if store != nil {
			c.store = store
		}
	}
}

// WithInviter sets the invitation delivery, defaults to NoopInviter.
func WithInviter(inviter Inviter) Option {
	return func(c *Context) {
		if inviter != nil {
			c.inviter = inviter
		}
	}
}

// WithCompleter sets the receiver of Switch.
func WithCompleter(completer SetupCompleter) Option {
	return func(c *Context) {
		c.completer = completer
	}
}

// WithActivitySink records tenant events.
func WithActivitySink(sink auth.ActivitySink) Option {
	return func(c *Context) {
		c.sink = auth.NormalizeActivitySink(sink)
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Context) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithIDGenerator overrides how new tenant ids are minted.
func WithIDGenerator(ids func() string) Option {
	return func(c *Context) {
		if ids != nil {
			c.ids = ids
		}
	}
}

// Context is the organisation context of one browser session: the tenants
// the signed in user can work in and the one currently selected.
type Context struct {
	mu         sync.RWMutex
	generation uint64
	userID     string
	current    *Tenant
	available  []Tenant
	loading    bool

	store     Store
	inviter   Inviter
	completer SetupCompleter
	sink      auth.ActivitySink
	logger    auth.Logger
	now       func() time.Time
	ids       func() string
}

// NewContext returns an empty context.
func NewContext(opts ...Option) *Context {
	c := &Context{
		store:   NewMemoryStore(),
		inviter: NoopInviter{},
		sink:    auth.NormalizeActivitySink(nil),
		logger:  auth.DefaultLogger(),
		now:     time.Now,
		ids:     uuid.NewString,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Load fetches the tenants of userID and selects preferredID, or the first
// one when preferredID is not among them. When the store has nothing for
// the user, or fails, the synthetic default organisation is used. An empty
// userID leaves the context empty.
func (c *Context) Load(ctx context.Context, userID, preferredID string) {
	userID = strings.TrimSpace(userID)

	c.mu.Lock()
	c.generation++
	gen := c.generation
	if userID == "" {
		c.clearLocked()
		c.mu.Unlock()
		return
	}
	c.userID = userID
	c.loading = true
	c.mu.Unlock()

	tenants, err := c.store.ListForUser(ctx, userID)
	if err != nil {
		c.logger.Warn("tenant list failed, using default organization", "user_id", userID, "error", err)
		tenants = nil
	}
	if len(tenants) == 0 {
		tenants = []Tenant{Default()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// a Reset or a newer Load ran while the store was queried
	if gen != c.generation {
		return
	}

	c.available = tenants
	selected := tenants[0]
	for _, t := range tenants {
		if t.ID == preferredID {
			selected = t
			break
		}
	}
	c.current = &selected
	c.loading = false
}

// Current returns the selected tenant.
func (c *Context) Current() (Tenant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Tenant{}, false
	}
	return *c.current, true
}

// Available returns a copy of the tenants the user can switch to.
func (c *Context) Available() []Tenant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tenant, len(c.available))
	copy(out, c.available)
	return out
}

// IsLoading reports whether a Load is in flight.
func (c *Context) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// UserID returns the user the context was loaded for.
func (c *Context) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Switch selects tenantID. Unknown ids are ignored. The selection only
// changes once the setup completer accepts it.
func (c *Context) Switch(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	var selected *Tenant
	for _, t := range c.available {
		if t.ID == tenantID {
			selected = &t
			break
		}
	}
	if selected == nil {
		c.mu.Unlock()
		c.logger.Debug("tenant switch ignored, unknown tenant", "tenant_id", tenantID)
		return nil
	}
	userID := c.userID
	c.mu.Unlock()

	if c.completer != nil {
		if err := c.completer.CompleteSetup(ctx, selected.ID); err != nil {
			c.logger.Warn("tenant switch rejected", "tenant_id", selected.ID, "error", err)
			return err
		}
	}

	c.mu.Lock()
	c.current = selected
	c.mu.Unlock()

	c.record(ctx, auth.ActivityEventTenantSelected, userID, map[string]any{
		"tenant_id":   selected.ID,
		"tenant_name": selected.Name,
	})

	return nil
}

// Create persists a new organisation owned by the current user and adds it
// to the available set. It does not select it.
func (c *Context) Create(ctx context.Context, name, subdomain string) (Tenant, error) {
	req := CreateRequest{Name: name, Subdomain: subdomain}
	if err := req.Validate(); err != nil {
		return Tenant{}, err
	}
	req = req.Normalize()

	c.mu.RLock()
	userID := c.userID
	c.mu.RUnlock()

	created, err := c.store.Create(ctx, Tenant{
		ID:        c.ids(),
		Name:      req.Name,
		Subdomain: req.Subdomain,
		Plan:      PlanBasic,
		Status:    StatusActive,
	}, userID)
	if err != nil {
		return Tenant{}, err
	}

	c.mu.Lock()
	c.available = append(c.available, created)
	c.mu.Unlock()

	c.record(ctx, auth.ActivityEventTenantCreated, userID, map[string]any{
		"tenant_id":   created.ID,
		"tenant_name": created.Name,
	})

	return created, nil
}

// Invite asks email to join the current tenant. Without a current tenant
// nothing happens.
func (c *Context) Invite(ctx context.Context, email string, role auth.Role) error {
	c.mu.RLock()
	if c.current == nil {
		c.mu.RUnlock()
		return nil
	}
	invitation := Invitation{
		TenantID:   c.current.ID,
		TenantName: c.current.Name,
		Email:      strings.TrimSpace(email),
		Role:       role,
		InvitedBy:  c.userID,
	}
	c.mu.RUnlock()

	if err := invitation.Validate(); err != nil {
		return err
	}

	if err := c.inviter.Invite(ctx, invitation); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to send invitation")
	}

	c.record(ctx, auth.ActivityEventTenantInvited, invitation.InvitedBy, map[string]any{
		"tenant_id": invitation.TenantID,
		"email":     invitation.Email,
		"role":      string(invitation.Role),
	})

	return nil
}

// Reset empties the context and discards in flight loads.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.clearLocked()
}

// Bind resets the context whenever m leaves the authenticated status or a
// different user signs in. Call the returned func to unbind.
func (c *Context) Bind(m *auth.Machine) (unbind func()) {
	return m.Subscribe(func(s auth.Snapshot) {
		if !s.IsAuthenticated || s.User == nil {
			c.Reset()
			return
		}
		if userID := c.UserID(); userID != "" && userID != s.User.ID {
			c.Reset()
		}
	})
}

func (c *Context) clearLocked() {
	c.userID = ""
	c.current = nil
	c.available = nil
	c.loading = false
}

func (c *Context) record(ctx context.Context, eventType auth.ActivityEventType, userID string, metadata map[string]any) {
	err := c.sink.Record(ctx, auth.ActivityEvent{
		EventType:  eventType,
		Actor:      auth.ActorRef{ID: userID, Type: "user"},
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: c.now(),
	})
	if err != nil {
		c.logger.Warn("tenant activity record failed", "event", eventType, "error", err)
	}
}
