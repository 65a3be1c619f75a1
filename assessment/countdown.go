package assessment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CountdownOption customizes a Countdown.
type CountdownOption func(*Countdown)

// WithTickInterval sets how long one second of the countdown lasts (useful
// for tests).
func WithTickInterval(d time.Duration) CountdownOption {
	return func(c *Countdown) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithOnTick is called with the remaining seconds after every tick.
func WithOnTick(fn func(remaining int)) CountdownOption {
	return func(c *Countdown) {
		c.onTick = fn
	}
}

// Countdown counts seconds down to zero, re-arming its timer once per tick.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	tick      time.Duration
	onTick    func(int)
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewCountdown returns a countdown of seconds.
func NewCountdown(seconds int, opts ...CountdownOption) *Countdown {
	c := &Countdown{
		remaining: max(seconds, 0),
		tick:      time.Second,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Run blocks until the countdown reaches zero, then calls onExpire. Stop or
// a done ctx end it early without calling onExpire.
func (c *Countdown) Run(ctx context.Context, onExpire func()) error {
	for {
		if c.Remaining() == 0 {
			if onExpire != nil {
				onExpire()
			}
			return nil
		}

		timer := time.NewTimer(c.tick)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		c.mu.Lock()
		c.remaining--
		remaining := c.remaining
		c.mu.Unlock()

		if c.onTick != nil {
			c.onTick(remaining)
		}
	}
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Stop ends Run without expiring.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// FormatRemaining renders seconds as m:ss.
func FormatRemaining(seconds int) string {
	seconds = max(seconds, 0)
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
