package tenant

import (
	"sync"

	auth "github.com/goliatone/go-portal-auth"
)

// Contexts keeps one Context per browser session id. Register Forget as the
// registry evict hook so contexts go away with their machine.
type Contexts struct {
	mu       sync.Mutex
	contexts map[string]*contextEntry
	opts     []Option
}

type contextEntry struct {
	ctx    *Context
	unbind func()
}

// NewContexts returns an empty manager. opts apply to every Context it builds.
func NewContexts(opts ...Option) *Contexts {
	return &Contexts{
		contexts: map[string]*contextEntry{},
		opts:     opts,
	}
}

// For returns the context bound to machine m, building it on first use.
func (cs *Contexts) For(m *auth.Machine) *Context {
	id := m.ID()

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if entry, ok := cs.contexts[id]; ok {
		return entry.ctx
	}

	opts := append([]Option{}, cs.opts...)
	opts = append(opts, WithCompleter(m))
	c := NewContext(opts...)
	cs.contexts[id] = &contextEntry{ctx: c, unbind: c.Bind(m)}

	return c
}

// Forget drops the context of session id.
func (cs *Contexts) Forget(id string) {
	cs.mu.Lock()
	entry, ok := cs.contexts[id]
	delete(cs.contexts, id)
	cs.mu.Unlock()

	if ok {
		entry.unbind()
		entry.ctx.Reset()
	}
}

// Len returns the number of tracked contexts.
func (cs *Contexts) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.contexts)
}
