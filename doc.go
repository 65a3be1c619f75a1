// Package auth provides the session core of the portal: a per browser
// session state machine backed by an external identity provider, the
// registry that owns those machines, and go-router helpers binding requests to
// them.
//
// Sessions:
//   - Machine drives the unauthenticated, loading, authenticated and error
//     statuses. Login, Register, Logout, Restore and Refresh are serialized
//     per machine, a stale provider response never overwrites a newer one.
//   - Provider pushed changes (sign out elsewhere, token refresh) arrive
//     through IdentityProvider.OnSessionChange and settle the machine the
//     same way a local call would.
//   - Registry hands out one machine per session cookie and evicts idle
//     machines on Sweep. The cookie only carries the registry id.
//
// Profiles:
//   - Portal roles (student, counselor, professional, admin) live on Profile,
//     persisted through the bun Profiles repository. A user without a tenant
//     needs tenant setup before reaching the role home page.
//
// Activity sinks:
//   - ActivitySink receives login, registration, logout, profile and session
//     events. Sinks run best-effort (errors are logged) so a slow audit
//     backend never blocks authentication.
package auth
