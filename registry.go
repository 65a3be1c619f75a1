package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MachineFactory builds the machine for a new browser session.
type MachineFactory func(id string) *Machine

// Registry maps opaque browser session ids to their session machines.
type Registry struct {
	mu       sync.Mutex
	machines map[string]*registryEntry
	factory  MachineFactory
	now      func() time.Time
	logger   Logger
	onEvict  []func(id string)
}

type registryEntry struct {
	machine  *Machine
	lastSeen time.Time
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock injects a custom clock (useful for tests).
func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithRegistryLogger overrides the logger.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryEvictHook registers fn to run after a machine is dropped,
// swept or closed on shutdown. Hooks run without the registry lock.
func WithRegistryEvictHook(fn func(id string)) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.onEvict = append(r.onEvict, fn)
		}
	}
}

// NewRegistry returns an empty registry that builds machines with factory.
func NewRegistry(factory MachineFactory, opts ...RegistryOption) *Registry {
	if factory == nil {
		panic("Missing MachineFactory in session registry...")
	}

	r := &Registry{
		machines: map[string]*registryEntry{},
		factory:  factory,
		now:      time.Now,
		logger:   defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Create registers a machine under a fresh id.
func (r *Registry) Create() (string, *Machine) {
	id := uuid.NewString()
	m := r.factory(id)

	r.mu.Lock()
	r.machines[id] = &registryEntry{machine: m, lastSeen: r.now()}
	r.mu.Unlock()

	return id, m
}

// Ephemeral builds an unregistered machine for a single request. The caller
// closes it.
func (r *Registry) Ephemeral() *Machine {
	return r.factory("ephemeral-" + uuid.NewString())
}

// Get returns the machine for id and marks it as seen.
func (r *Registry) Get(id string) (*Machine, bool) {
	if id == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.machines[id]
	if !ok {
		return nil, false
	}
	entry.lastSeen = r.now()
	return entry.machine, true
}

// Drop closes and forgets the machine for id.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	entry, ok := r.machines[id]
	delete(r.machines, id)
	r.mu.Unlock()

	if ok {
		entry.machine.Close()
		r.evicted(id)
	}
}

// Len returns the number of tracked machines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

// Sweep closes machines not seen within idle and returns how many were removed.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	stale := map[string]*Machine{}
	for id, entry := range r.machines {
		if entry.lastSeen.Before(cutoff) {
			stale[id] = entry.machine
			delete(r.machines, id)
		}
	}
	r.mu.Unlock()

	for id, m := range stale {
		m.Close()
		r.evicted(id)
	}

	return len(stale)
}

// Run sweeps idle machines every interval until ctx is done, then closes
// every remaining machine.
func (r *Registry) Run(ctx context.Context, interval, idle time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return nil
		case <-ticker.C:
			if n := r.Sweep(idle); n > 0 {
				r.logger.Debug("evicted idle session machines", "count", n)
			}
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	machines := r.machines
	r.machines = map[string]*registryEntry{}
	r.mu.Unlock()

	for id, entry := range machines {
		entry.machine.Close()
		r.evicted(id)
	}
}

func (r *Registry) evicted(id string) {
	for _, fn := range r.onEvict {
		fn(id)
	}
}
