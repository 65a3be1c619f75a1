package auth

import (
	"context"
	"sync"
	"time"
)

// Broadcaster is an in-process SessionNotifier. Subscribers are invoked
// synchronously in registration order.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	now    func() time.Time
}

type subscription struct {
	id uint64
	fn func(SessionChange)
}

var _ SessionNotifier = (*Broadcaster)(nil)

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{now: time.Now}
}

// Publish delivers change to every subscriber.
func (b *Broadcaster) Publish(ctx context.Context, change SessionChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if change.OccurredAt.IsZero() {
		change.OccurredAt = b.now()
	}

	b.mu.RLock()
	subs := make([]func(SessionChange), 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s.fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(change)
	}

	return nil
}

// Subscribe registers fn and returns the function that removes it.
func (b *Broadcaster) Subscribe(fn func(SessionChange)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of active subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
