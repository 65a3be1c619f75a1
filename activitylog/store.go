// Package activitylog keeps the most recent portal activity in memory for the
// admin system logs page.
package activitylog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/paginate"
)

// DefaultCapacity is the ring size used when NewStore gets a capacity below one.
const DefaultCapacity = 500

// DefaultPageSize matches the system logs table.
const DefaultPageSize = 8

// Entry is one line on the system logs page.
type Entry struct {
	ID string `json:"id"`
	Normalized
	Message string `json:"message"`
}

// Filter narrows Entries. Zero fields match everything.
type Filter struct {
	Level   Level  `query:"level"`
	Channel string `query:"channel"`
	Search  string `query:"q"`
}

// Match reports whether e passes the filter. Search is case insensitive
// over the message, the actor and the verb.
func (f Filter) Match(e Entry) bool {
	if f.Level != "" && !strings.EqualFold(string(f.Level), string(e.Level)) {
		return false
	}
	if f.Channel != "" && !strings.EqualFold(f.Channel, e.Channel) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		haystack := strings.ToLower(e.Message + " " + e.ActorID + " " + e.Verb)
		return strings.Contains(haystack, term)
	}
	return true
}

// Store is a bounded ring of normalized activity, oldest entries are
// overwritten first.
type Store struct {
	mu      sync.RWMutex
	ring    []Entry
	next    int
	full    bool
	seq     uint64
	opts    []Option
	onEntry []func(Entry)
}

var _ auth.ActivitySink = (*Store)(nil)

// NewStore returns a store holding up to capacity entries. opts are passed
// to Normalize for every recorded event.
func NewStore(capacity int, opts ...Option) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{
		ring: make([]Entry, capacity),
		opts: opts,
	}
}

// OnEntry registers fn to run after each recorded entry.
func (s *Store) OnEntry(fn func(Entry)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onEntry = append(s.onEntry, fn)
	s.mu.Unlock()
}

// Record implements auth.ActivitySink.
func (s *Store) Record(_ context.Context, event auth.ActivityEvent) error {
	n := Normalize(event, s.opts...)

	s.mu.Lock()
	s.seq++
	entry := Entry{
		ID:         fmt.Sprintf("L%03d", s.seq),
		Normalized: n,
		Message:    Describe(n),
	}
	s.ring[s.next] = entry
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	hooks := s.onEntry
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(entry)
	}

	return nil
}

// Len returns the number of entries held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.ring)
	}
	return s.next
}

// Entries returns the matching entries, newest first.
func (s *Store) Entries(filter Filter) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.next
	if s.full {
		count = len(s.ring)
	}

	out := make([]Entry, 0, count)
	for i := 1; i <= count; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		if filter.Match(s.ring[idx]) {
			out = append(out, s.ring[idx])
		}
	}
	return out
}

// Page returns one page of the matching entries.
func (s *Store) Page(filter Filter, page, perPage int) ([]Entry, paginate.Meta) {
	if perPage < 1 {
		perPage = DefaultPageSize
	}
	return paginate.Window(s.Entries(filter), page, perPage)
}

// Describe renders the human readable message of an entry.
func Describe(n Normalized) string {
	str := func(key string) string {
		v, _ := n.Metadata[key].(string)
		return v
	}

	switch auth.ActivityEventType(n.Verb) {
	case auth.ActivityEventLoginSuccess:
		return fmt.Sprintf("User %s successfully logged in", n.ActorID)
	case auth.ActivityEventLoginFailure:
		return fmt.Sprintf("Failed login attempt for %s", n.ActorID)
	case auth.ActivityEventLogout:
		return fmt.Sprintf("User %s logged out", n.ActorID)
	case auth.ActivityEventRegistered:
		if role := str("role"); role != "" {
			return fmt.Sprintf("User %s registered as %s", n.ActorID, role)
		}
		return fmt.Sprintf("User %s registered", n.ActorID)
	case auth.ActivityEventRegisterFailure:
		return fmt.Sprintf("Registration failed for %s", n.ActorID)
	case auth.ActivityEventProfileUpdated:
		return fmt.Sprintf("User %s updated their profile", n.ActorID)
	case auth.ActivityEventSessionEnded:
		return fmt.Sprintf("Session of %s ended by the identity provider", n.ActorID)
	case auth.ActivityEventTenantSelected:
		return fmt.Sprintf("User %s switched to organization %s", n.ActorID, str("tenant_name"))
	case auth.ActivityEventTenantCreated:
		return fmt.Sprintf("User %s created organization %s", n.ActorID, str("tenant_name"))
	case auth.ActivityEventTenantInvited:
		return fmt.Sprintf("User %s invited %s as %s", n.ActorID, str("email"), str("role"))
	}
	return fmt.Sprintf("%s by %s", n.Verb, n.ActorID)
}
