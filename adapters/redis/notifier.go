// Package redis shares session changes and CSRF tokens between portal
// instances.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel session changes travel on.
const DefaultChannel = "portal:session_changes"

// Option customizes a Notifier.
type Option func(*Notifier)

// WithChannel overrides the pub/sub channel.
func WithChannel(channel string) Option {
	return func(n *Notifier) {
		if channel != "" {
			n.channel = channel
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithLocal sets the in-process broadcaster subscribers are attached to.
func WithLocal(local *auth.Broadcaster) Option {
	return func(n *Notifier) {
		if local != nil {
			n.local = local
		}
	}
}

// Notifier implements auth.SessionNotifier over redis pub/sub. Changes are
// delivered to local subscribers right away and relayed to the other
// instances, which deliver them to theirs from Run.
type Notifier struct {
	client  goredis.UniversalClient
	local   *auth.Broadcaster
	channel string
	origin  string
	logger  auth.Logger
}

var _ auth.SessionNotifier = (*Notifier)(nil)

// NewNotifier returns a Notifier publishing on client.
func NewNotifier(client goredis.UniversalClient, opts ...Option) *Notifier {
	if client == nil {
		panic("Missing redis client in session notifier...")
	}

	n := &Notifier{
		client:  client,
		local:   auth.NewBroadcaster(),
		channel: DefaultChannel,
		origin:  uuid.NewString(),
		logger:  auth.DefaultLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}

	return n
}

type envelope struct {
	Origin string             `json:"origin"`
	Change auth.SessionChange `json:"change"`
}

// Publish implements auth.SessionNotifier.
func (n *Notifier) Publish(ctx context.Context, change auth.SessionChange) error {
	if err := n.local.Publish(ctx, change); err != nil {
		return err
	}

	payload, err := json.Marshal(envelope{Origin: n.origin, Change: change})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode session change")
	}

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "redis publish failed")
	}

	return nil
}

// Subscribe implements auth.SessionNotifier.
func (n *Notifier) Subscribe(fn func(auth.SessionChange)) func() {
	return n.local.Subscribe(fn)
}

// Run relays changes published by other instances until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	// wait for the subscription so changes published right after Run
	// starts are not lost
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", n.channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			n.relay(ctx, msg.Payload)
		}
	}
}

func (n *Notifier) relay(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		n.logger.Warn("dropping malformed session change", "channel", n.channel, "error", err)
		return
	}

	if env.Origin == n.origin {
		return
	}

	if err := n.local.Publish(ctx, env.Change); err != nil {
		n.logger.Debug("session change relay interrupted", "error", err)
	}
}
