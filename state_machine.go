package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// Event drives a session machine transition. Local actions and provider
// pushed notifications both resolve to one of these.
type Event string

const (
	EventLoginStart   Event = "login_start"
	EventLoginSuccess Event = "login_success"
	EventLoginFailure Event = "login_failure"
	EventLogout       Event = "logout"
	EventUpdateUser   Event = "update_user"
)

// MachineOption customizes session machine construction.
type MachineOption func(*Machine)

// WithMachineClock injects a custom clock (useful for tests).
func WithMachineClock(clock func() time.Time) MachineOption {
	return func(m *Machine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithMachineLogger overrides the logger.
func WithMachineLogger(logger Logger) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMachineActivitySink sets the ActivitySink used to publish session events.
func WithMachineActivitySink(sink ActivitySink) MachineOption {
	return func(m *Machine) {
		m.activitySink = NormalizeActivitySink(sink)
	}
}

// WithMachineID sets the identifier reported in logs and activity metadata.
func WithMachineID(id string) MachineOption {
	return func(m *Machine) {
		if id = strings.TrimSpace(id); id != "" {
			m.id = id
		}
	}
}

// WithMachinePhoneRegion sets the region used to parse phone numbers given
// without an international prefix.
func WithMachinePhoneRegion(region string) MachineOption {
	return func(m *Machine) {
		if region = strings.ToUpper(strings.TrimSpace(region)); region != "" {
			m.phoneRegion = region
		}
	}
}

// Machine is the session/auth state machine for a single browser session.
// It owns the signed in user and is the only writer of that state.
//
// Provider calls run without holding the machine lock. Every call that can
// be overtaken (login, registration, restore, profile writes) captures a
// generation when it starts; a logout, a provider pushed sign out or Close
// bumps the generation and the late completion is discarded.
type Machine struct {
	mu          sync.Mutex
	notifyMu    sync.Mutex
	id          string
	status      Status
	user        *User
	session     *ProviderSession
	needsSetup  bool
	generation  uint64
	closed      bool
	transitions map[Status]map[Event]Status

	listeners    []listener
	nextListener uint64
	unsubscribe  func()

	provider     IdentityProvider
	profiles     ProfileStore
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
	phoneRegion  string
}

type listener struct {
	id uint64
	fn func(Snapshot)
}

// NewMachine returns a machine in StatusLoading subscribed to the provider's
// session change notifications. Call Close to release the subscription.
func NewMachine(provider IdentityProvider, profiles ProfileStore, opts ...MachineOption) *Machine {
	if provider == nil {
		panic("Missing IdentityProvider in session machine...")
	}

	if profiles == nil {
		panic("Missing ProfileStore in session machine...")
	}

	m := &Machine{
		id:           uuid.NewString(),
		status:       StatusLoading,
		transitions:  defaultTransitions(),
		provider:     provider,
		profiles:     profiles,
		now:          time.Now,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		phoneRegion:  "US",
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.unsubscribe = provider.OnSessionChange(m.handleSessionChange)

	return m
}

func defaultTransitions() map[Status]map[Event]Status {
	return map[Status]map[Event]Status{
		StatusLoading: {
			EventLoginStart:   StatusAuthenticating,
			EventLoginSuccess: StatusAuthenticated,
			EventLoginFailure: StatusUnauthenticated,
			EventLogout:       StatusUnauthenticated,
		},
		StatusAuthenticating: {
			EventLoginSuccess: StatusAuthenticated,
			EventLoginFailure: StatusUnauthenticated,
			EventLogout:       StatusUnauthenticated,
		},
		StatusAuthenticated: {
			EventLoginStart:   StatusAuthenticating,
			EventLoginSuccess: StatusAuthenticated,
			EventUpdateUser:   StatusAuthenticated,
			EventLogout:       StatusUnauthenticated,
		},
		StatusUnauthenticated: {
			EventLoginStart: StatusAuthenticating,
			EventLogout:     StatusUnauthenticated,
		},
	}
}

// ID returns the machine identifier.
func (m *Machine) ID() string {
	return m.id
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers fn to receive a snapshot after every transition.
// Listeners run in transition order and must not call mutating methods on
// the machine.
func (m *Machine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	m.mu.Lock()
	m.nextListener++
	id := m.nextListener
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Close releases the provider subscription and listeners. In flight calls
// complete against the provider but their results are discarded.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	m.listeners = nil
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Restore resolves a previously issued access token. An empty token settles
// the machine as signed out without error.
func (m *Machine) Restore(ctx context.Context, accessToken string) error {
	gen, err := m.beginRestore()
	if err != nil {
		return err
	}

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		m.fail(ctx, gen, "", nil, "")
		return nil
	}

	session, err := m.provider.GetSession(ctx, accessToken)
	if err != nil {
		m.fail(ctx, gen, "", err, "")
		return WrapProviderError(err, "identity provider session lookup failed")
	}

	if session == nil {
		m.fail(ctx, gen, "", ErrSessionExpired, "")
		return ErrSessionExpired
	}

	return m.establish(ctx, gen, session, "")
}

// Login verifies credentials with the identity provider. On failure the
// machine settles as unauthenticated and the error is returned.
func (m *Machine) Login(ctx context.Context, email, password string) error {
	gen, err := m.begin()
	if err != nil {
		return err
	}

	email = strings.TrimSpace(email)

	session, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.fail(ctx, gen, email, err, ActivityEventLoginFailure)
		return WrapProviderError(err, "identity provider sign in failed")
	}

	if session == nil {
		m.fail(ctx, gen, email, ErrInvalidCredentials, ActivityEventLoginFailure)
		return ErrInvalidCredentials
	}

	return m.establish(ctx, gen, session, ActivityEventLoginSuccess)
}

// Register provisions a new identity with the provider and creates its
// profile. New users have no tenant, so the session needs tenant setup.
func (m *Machine) Register(ctx context.Context, email, password, displayName string, role Role) error {
	gen, err := m.begin()
	if err != nil {
		return err
	}

	email = strings.TrimSpace(email)

	if !role.SelfRegistrable() {
		m.fail(ctx, gen, email, ErrRoleNotAllowed, ActivityEventRegisterFailure)
		return ErrRoleNotAllowed
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = displayNameFromEmail(email)
	}

	session, err := m.provider.SignUp(ctx, email, password, map[string]any{
		MetadataDisplayName: displayName,
		MetadataRole:        string(role),
	})
	if err != nil {
		m.fail(ctx, gen, email, err, ActivityEventRegisterFailure)
		return WrapProviderError(err, "identity provider sign up failed")
	}

	if session == nil || session.UserID == "" {
		err := goerrors.New("identity provider returned no user", goerrors.CategoryOperation).
			WithTextCode(TextCodeProviderFailure)
		m.fail(ctx, gen, email, err, ActivityEventRegisterFailure)
		return err
	}

	profile, err := m.profiles.Save(ctx, &Profile{
		UserID:      session.UserID,
		Email:       email,
		DisplayName: displayName,
		Role:        role,
	})
	if err != nil {
		m.fail(ctx, gen, email, err, ActivityEventRegisterFailure)
		m.signOutQuietly(ctx, session)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create profile")
	}

	if session.AccessToken == "" {
		m.fail(ctx, gen, email, nil, "")
		m.record(ctx, ActivityEvent{
			EventType: ActivityEventRegistered,
			UserID:    session.UserID,
			Metadata:  map[string]any{"role": string(role), "confirmation_pending": true},
		})
		return ErrConfirmationPending
	}

	user := profile.ToUser(session)
	now := m.now()
	user.LastLoginAt = &now

	if !m.settle(gen, session, user, true) {
		m.signOutQuietly(ctx, session)
		return ErrSessionSuperseded
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventRegistered,
		UserID:    user.ID,
		Metadata:  map[string]any{"role": string(role)},
	})

	return nil
}

// Logout resets the session in every state and then asks the provider to
// invalidate the remote session. A provider error is returned but the
// local state stays reset.
func (m *Machine) Logout(ctx context.Context) error {
	m.mu.Lock()
	prev := m.session
	userID := m.userIDLocked()
	from := m.status
	m.generation++
	if _, err := m.transitionLocked(EventLogout, m.clearLocked); err != nil {
		m.mu.Unlock()
		return err
	}
	m.unlockAndNotify()

	if userID != "" {
		m.record(ctx, ActivityEvent{
			EventType:  ActivityEventLogout,
			Actor:      ActorRef{ID: userID, Type: "user"},
			UserID:     userID,
			FromStatus: from,
			ToStatus:   StatusUnauthenticated,
		})
	}

	if prev == nil {
		return nil
	}

	if err := m.provider.SignOut(ctx, prev); err != nil {
		m.logger.Warn("identity provider sign out failed", "machine", m.id, "error", err)
		return WrapProviderError(err, "identity provider sign out failed")
	}

	return nil
}

// ProfileUpdate holds the fields a user may change on their profile. Nil
// fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty" form:"display_name"`
	Avatar      *string `json:"avatar,omitempty" form:"avatar"`
	Phone       *string `json:"phone,omitempty" form:"phone"`
}

// Validate will run validation rules
func (u ProfileUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.DisplayName, validation.NilOrNotEmpty, validation.Length(1, 120)),
		validation.Field(&u.Avatar, validation.Length(0, 2048)),
		validation.Field(&u.Phone, validation.Length(0, 32)),
	)
}

// UpdateProfile merges update into the signed in user and persists it. It
// is a no-op when no session is authenticated.
func (m *Machine) UpdateProfile(ctx context.Context, update ProfileUpdate) error {
	if err := update.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid profile update").
			WithCode(goerrors.CodeBadRequest)
	}

	m.mu.Lock()
	if m.status != StatusAuthenticated || m.user == nil {
		m.mu.Unlock()
		return nil
	}
	user := m.user.Clone()
	gen := m.generation
	m.mu.Unlock()

	if update.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	if update.Avatar != nil {
		user.Avatar = strings.TrimSpace(*update.Avatar)
	}
	if update.Phone != nil {
		phone, err := m.normalizePhone(*update.Phone)
		if err != nil {
			return err
		}
		user.Phone = phone
	}

	if err := m.persistUser(ctx, user); err != nil {
		return err
	}

	m.mu.Lock()
	if gen != m.generation || m.closed {
		m.mu.Unlock()
		return ErrSessionSuperseded
	}
	if _, err := m.transitionLocked(EventUpdateUser, func() { m.user = user }); err != nil {
		m.mu.Unlock()
		return err
	}
	m.unlockAndNotify()

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		Actor:     ActorRef{ID: user.ID, Type: "user"},
		UserID:    user.ID,
		Metadata:  updatedFields(update),
	})

	return nil
}

// CompleteSetup records the tenant chosen by the signed in user and clears
// the needs setup flag.
func (m *Machine) CompleteSetup(ctx context.Context, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return goerrors.New("tenant id is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	m.mu.Lock()
	if m.status != StatusAuthenticated || m.user == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	if m.user.TenantID == tenantID && !m.needsSetup {
		m.mu.Unlock()
		return nil
	}
	user := m.user.Clone()
	gen := m.generation
	m.mu.Unlock()

	user.TenantID = tenantID
	if err := m.persistUser(ctx, user); err != nil {
		return err
	}

	m.mu.Lock()
	if gen != m.generation || m.closed {
		m.mu.Unlock()
		return ErrSessionSuperseded
	}
	if _, err := m.transitionLocked(EventUpdateUser, func() {
		m.user = user
		m.needsSetup = false
	}); err != nil {
		m.mu.Unlock()
		return err
	}
	m.unlockAndNotify()

	return nil
}

// Refresh reloads the profile of the signed in user.
func (m *Machine) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusAuthenticated || m.session == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	session := m.session
	lastLogin := m.user.LastLoginAt
	gen := m.generation
	m.mu.Unlock()

	user, needsSetup, err := m.resolveUser(ctx, session)
	if err != nil {
		return err
	}
	user.LastLoginAt = lastLogin

	m.mu.Lock()
	if gen != m.generation || m.closed {
		m.mu.Unlock()
		return ErrSessionSuperseded
	}
	if _, err := m.transitionLocked(EventUpdateUser, func() {
		m.user = user
		m.needsSetup = needsSetup
	}); err != nil {
		m.mu.Unlock()
		return err
	}
	m.unlockAndNotify()

	return nil
}

func (m *Machine) handleSessionChange(change SessionChange) {
	switch change.Type {
	case SessionSignedOut, SessionExpired:
		m.endSession(change)
	case SessionTokenRefreshed:
		m.refreshTokens(change)
	case SessionUserUpdated:
		m.mu.Lock()
		matches := !m.closed && change.Matches(m.session)
		m.mu.Unlock()
		if !matches {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.Refresh(ctx); err != nil {
				m.logger.Debug("profile refresh after provider update skipped", "machine", m.id, "error", err)
			}
		}()
	}
}

func (m *Machine) endSession(change SessionChange) {
	m.mu.Lock()
	if m.closed || !change.Matches(m.session) {
		m.mu.Unlock()
		return
	}
	userID := m.userIDLocked()
	from := m.status
	m.generation++
	if _, err := m.transitionLocked(EventLogout, m.clearLocked); err != nil {
		m.mu.Unlock()
		return
	}
	m.unlockAndNotify()

	m.logger.Info("session ended by identity provider", "machine", m.id, "user", userID, "reason", change.Type)
	m.record(context.Background(), ActivityEvent{
		EventType:  ActivityEventSessionEnded,
		Actor:      ActorRef{ID: "identity_provider", Type: "system"},
		UserID:     userID,
		FromStatus: from,
		ToStatus:   StatusUnauthenticated,
		Metadata:   map[string]any{"reason": string(change.Type)},
	})
}

func (m *Machine) refreshTokens(change SessionChange) {
	if change.Session == nil {
		return
	}

	m.mu.Lock()
	if m.closed || m.status != StatusAuthenticated || !change.Matches(m.session) {
		m.mu.Unlock()
		return
	}
	next := *change.Session
	if next.ID == "" {
		next.ID = m.session.ID
	}
	if _, err := m.transitionLocked(EventLoginSuccess, func() { m.session = &next }); err != nil {
		m.mu.Unlock()
		return
	}
	m.unlockAndNotify()
}

// begin moves the machine into StatusAuthenticating and returns the
// generation the caller completes against.
func (m *Machine) begin() (uint64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrMachineClosed
	}
	if m.status == StatusAuthenticating {
		m.mu.Unlock()
		return 0, ErrAuthInProgress
	}
	if _, err := m.transitionLocked(EventLoginStart, nil); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	m.generation++
	gen := m.generation
	m.unlockAndNotify()
	return gen, nil
}

// beginRestore stays in StatusLoading when the machine has not settled yet.
func (m *Machine) beginRestore() (uint64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrMachineClosed
	}
	if m.status == StatusLoading {
		m.generation++
		gen := m.generation
		m.mu.Unlock()
		return gen, nil
	}
	m.mu.Unlock()
	return m.begin()
}

// establish settles the machine on session. Sessions already past their
// expiry never reach StatusAuthenticated.
func (m *Machine) establish(ctx context.Context, gen uint64, session *ProviderSession, success ActivityEventType) error {
	failure := ActivityEventType("")
	if success != "" {
		failure = ActivityEventLoginFailure
	}

	if session.Expired(m.now()) {
		m.fail(ctx, gen, session.Email, ErrSessionExpired, failure)
		return ErrSessionExpired
	}

	user, needsSetup, err := m.resolveUser(ctx, session)
	if err != nil {
		m.fail(ctx, gen, session.Email, err, failure)
		m.signOutQuietly(ctx, session)
		return err
	}

	now := m.now()
	user.LastLoginAt = &now

	if !m.settle(gen, session, user, needsSetup) {
		m.signOutQuietly(ctx, session)
		return ErrSessionSuperseded
	}

	if success != "" {
		m.record(ctx, ActivityEvent{
			EventType: success,
			Actor:     ActorRef{ID: user.ID, Type: "user"},
			UserID:    user.ID,
			ToStatus:  StatusAuthenticated,
			Metadata:  map[string]any{"needs_tenant_setup": needsSetup},
		})
	}

	return nil
}

// resolveUser merges the provider session with the stored profile. A
// missing profile is not an error, it flags the session for setup.
func (m *Machine) resolveUser(ctx context.Context, session *ProviderSession) (*User, bool, error) {
	profile, err := m.profiles.GetByUserID(ctx, session.UserID)
	if err != nil {
		if IsNotFound(err) {
			return UserFromSession(session), true, nil
		}
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load profile")
	}

	user := profile.ToUser(session)
	return user, user.TenantID == "", nil
}

func (m *Machine) persistUser(ctx context.Context, user *User) error {
	profile, err := m.profiles.GetByUserID(ctx, user.ID)
	if err != nil {
		if !IsNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load profile")
		}
		profile = &Profile{UserID: user.ID}
	}

	profile.Email = user.Email
	profile.DisplayName = user.DisplayName
	profile.Role = user.Role
	profile.Avatar = user.Avatar
	profile.Phone = user.Phone
	profile.TenantID = user.TenantID

	if _, err := m.profiles.Save(ctx, profile); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save profile")
	}
	return nil
}

func (m *Machine) settle(gen uint64, session *ProviderSession, user *User, needsSetup bool) bool {
	m.mu.Lock()
	if gen != m.generation || m.closed {
		m.mu.Unlock()
		return false
	}
	if _, err := m.transitionLocked(EventLoginSuccess, func() {
		m.session = session
		m.user = user
		m.needsSetup = needsSetup
	}); err != nil {
		m.mu.Unlock()
		return false
	}
	m.unlockAndNotify()
	return true
}

func (m *Machine) fail(ctx context.Context, gen uint64, email string, cause error, eventType ActivityEventType) {
	m.mu.Lock()
	if gen != m.generation || m.closed {
		m.mu.Unlock()
		return
	}
	from := m.status
	if _, err := m.transitionLocked(EventLoginFailure, m.clearLocked); err != nil {
		m.mu.Unlock()
		return
	}
	m.unlockAndNotify()

	if cause != nil {
		m.logger.Debug("session settled as unauthenticated", "machine", m.id, "error", cause)
	}

	if eventType == "" {
		return
	}

	metadata := map[string]any{"email": email}
	if code := TextCode(cause); code != "" {
		metadata["text_code"] = code
	}
	m.record(ctx, ActivityEvent{
		EventType:  eventType,
		Actor:      ActorRef{ID: email, Type: "anonymous"},
		FromStatus: from,
		ToStatus:   StatusUnauthenticated,
		Metadata:   metadata,
	})
}

func (m *Machine) signOutQuietly(ctx context.Context, session *ProviderSession) {
	if session == nil || session.AccessToken == "" {
		return
	}
	if err := m.provider.SignOut(ctx, session); err != nil {
		m.logger.Warn("failed to release provider session", "machine", m.id, "error", err)
	}
}

// transitionLocked applies ev to the current status. apply runs only when
// the transition is allowed. Callers hold m.mu.
func (m *Machine) transitionLocked(ev Event, apply func()) (Status, error) {
	from := m.status
	to, ok := m.transitions[from][ev]
	if !ok {
		m.logger.Debug("rejected session transition", "machine", m.id, "from", from, "event", ev)
		return from, ErrInvalidTransition
	}

	if apply != nil {
		apply()
	}
	m.status = to
	return from, nil
}

// unlockAndNotify releases m.mu and hands the new snapshot to listeners.
// notifyMu is taken before m.mu is released so listeners observe
// transitions in order.
func (m *Machine) unlockAndNotify() {
	snap := m.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l.fn)
	}

	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (m *Machine) clearLocked() {
	m.user = nil
	m.session = nil
	m.needsSetup = false
}

func (m *Machine) userIDLocked() string {
	if m.user == nil {
		return ""
	}
	return m.user.ID
}

func (m *Machine) snapshotLocked() Snapshot {
	authenticated := m.status == StatusAuthenticated
	return Snapshot{
		Status:           m.status,
		User:             m.user.Clone(),
		IsAuthenticated:  authenticated,
		IsLoading:        m.status == StatusLoading || m.status == StatusAuthenticating,
		NeedsTenantSetup: authenticated && m.needsSetup,
	}
}

func (m *Machine) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(raw, m.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", goerrors.New("invalid phone number", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("INVALID_PHONE")
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func (m *Machine) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata["session_machine"] = m.id

	if err := m.activitySink.Record(ctx, event); err != nil {
		m.logger.Warn("failed to record activity", "event", event.EventType, "error", err)
	}
}

func updatedFields(update ProfileUpdate) map[string]any {
	fields := []string{}
	if update.DisplayName != nil {
		fields = append(fields, "display_name")
	}
	if update.Avatar != nil {
		fields = append(fields, "avatar")
	}
	if update.Phone != nil {
		fields = append(fields, "phone")
	}
	return map[string]any{"fields": fields}
}
