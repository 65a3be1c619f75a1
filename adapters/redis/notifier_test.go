package redis

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offlineClient never reaches a server, commands fail on dial.
func offlineClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// testClient connects to REDIS_ADDR or skips.
func testClient(t *testing.T) *goredis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type received struct {
	mu      sync.Mutex
	changes []auth.SessionChange
}

func (r *received) add(change auth.SessionChange) {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
}

func (r *received) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func TestRelaySkipsOwnAndMalformedMessages(t *testing.T) {
	n := NewNotifier(offlineClient(t))
	got := &received{}
	n.Subscribe(got.add)

	own, err := json.Marshal(envelope{Origin: n.origin, Change: auth.SessionChange{Type: auth.SessionSignedOut, UserID: "u1"}})
	require.NoError(t, err)
	n.relay(context.Background(), string(own))
	n.relay(context.Background(), "{not json")
	assert.Equal(t, 0, got.len())

	foreign, err := json.Marshal(envelope{Origin: "other", Change: auth.SessionChange{Type: auth.SessionSignedOut, UserID: "u1", SessionID: "s1"}})
	require.NoError(t, err)
	n.relay(context.Background(), string(foreign))

	require.Equal(t, 1, got.len())
	assert.Equal(t, auth.SessionSignedOut, got.changes[0].Type)
	assert.Equal(t, "s1", got.changes[0].SessionID)
}

func TestPublishDeliversLocallyWhenRedisIsDown(t *testing.T) {
	n := NewNotifier(offlineClient(t), WithChannel("test:changes"))
	got := &received{}
	unsubscribe := n.Subscribe(got.add)
	defer unsubscribe()

	err := n.Publish(context.Background(), auth.SessionChange{Type: auth.SessionExpired, UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, 1, got.len())
}

func TestNewNotifierPanicsWithoutClient(t *testing.T) {
	assert.Panics(t, func() { NewNotifier(nil) })
}

func TestNotifierAcrossInstances(t *testing.T) {
	client := testClient(t)
	channel := "test:session_changes:" + time.Now().Format("150405.000000")

	a := NewNotifier(client, WithChannel(channel))
	b := NewNotifier(client, WithChannel(channel))

	gotA, gotB := &received{}, &received{}
	a.Subscribe(gotA.add)
	b.Subscribe(gotB.add)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- a.Run(ctx) }()
	go func() { done <- b.Run(ctx) }()

	// give both subscriptions time to register
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, a.Publish(ctx, auth.SessionChange{Type: auth.SessionSignedOut, UserID: "u1"}))

	assert.Eventually(t, func() bool { return gotB.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, gotA.len())

	cancel()
	for range 2 {
		assert.NoError(t, <-done)
	}
}

func TestCSRFStorage(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	storage := NewCSRFStorage(client, "test:csrf:")

	value, err := storage.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, storage.Set(ctx, "k1", "token", time.Minute))
	value, err = storage.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "token", value)
	assert.True(t, client.TTL(ctx, "test:csrf:k1").Val() > 0)

	require.NoError(t, storage.Delete(ctx, "k1"))
	value, err = storage.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Empty(t, value)

	_, err = storage.Get(ctx, "")
	assert.Error(t, err)
}
