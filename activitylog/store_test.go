package activitylog_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/activitylog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, s *activitylog.Store, eventType auth.ActivityEventType, actor string, metadata map[string]any) {
	t.Helper()
	require.NoError(t, s.Record(context.Background(), auth.ActivityEvent{
		EventType:  eventType,
		Actor:      auth.ActorRef{ID: actor, Type: "user"},
		UserID:     actor,
		Metadata:   metadata,
		OccurredAt: time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC),
	}))
}

func TestStoreNewestFirst(t *testing.T) {
	s := activitylog.NewStore(10)

	record(t, s, auth.ActivityEventLoginSuccess, "sarah@example.com", nil)
	record(t, s, auth.ActivityEventLogout, "sarah@example.com", nil)

	entries := s.Entries(activitylog.Filter{})
	require.Len(t, entries, 2)
	assert.Equal(t, "L002", entries[0].ID)
	assert.Equal(t, "User sarah@example.com logged out", entries[0].Message)
	assert.Equal(t, "L001", entries[1].ID)
	assert.Equal(t, "User sarah@example.com successfully logged in", entries[1].Message)
}

func TestStoreRingOverwritesOldest(t *testing.T) {
	s := activitylog.NewStore(3)
	for i := 0; i < 5; i++ {
		record(t, s, auth.ActivityEventLogout, fmt.Sprintf("user-%d", i), nil)
	}

	assert.Equal(t, 3, s.Len())
	entries := s.Entries(activitylog.Filter{})
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"user-4", "user-3", "user-2"}, []string{entries[0].ActorID, entries[1].ActorID, entries[2].ActorID})
	assert.Equal(t, "L005", entries[0].ID)
}

func TestStoreDefaultCapacity(t *testing.T) {
	s := activitylog.NewStore(0)
	record(t, s, auth.ActivityEventLogout, "u", nil)
	assert.Equal(t, 1, s.Len())
}

func TestStoreFilter(t *testing.T) {
	s := activitylog.NewStore(0)
	record(t, s, auth.ActivityEventLoginSuccess, "ana@example.com", nil)
	record(t, s, auth.ActivityEventLoginFailure, "bo@example.com", nil)
	record(t, s, auth.ActivityEventTenantCreated, "ana@example.com", map[string]any{"tenant_id": "t1", "tenant_name": "Acme"})

	assert.Len(t, s.Entries(activitylog.Filter{Level: activitylog.LevelWarning}), 1)
	assert.Len(t, s.Entries(activitylog.Filter{Level: "SUCCESS"}), 2)
	assert.Len(t, s.Entries(activitylog.Filter{Channel: "tenant"}), 1)
	assert.Len(t, s.Entries(activitylog.Filter{Search: "ANA@"}), 2)
	assert.Len(t, s.Entries(activitylog.Filter{Search: "acme"}), 1)
	assert.Empty(t, s.Entries(activitylog.Filter{Channel: "auth", Search: "acme"}))
}

func TestStorePage(t *testing.T) {
	s := activitylog.NewStore(0)
	for i := 0; i < 10; i++ {
		record(t, s, auth.ActivityEventLogout, fmt.Sprintf("user-%d", i), nil)
	}

	items, meta := s.Page(activitylog.Filter{}, 1, 0)
	assert.Len(t, items, activitylog.DefaultPageSize)
	assert.Equal(t, 2, meta.TotalPages)
	assert.True(t, meta.HasNext)

	items, meta = s.Page(activitylog.Filter{}, 2, 0)
	assert.Len(t, items, 2)
	assert.Equal(t, "user-1", items[0].ActorID)
	assert.False(t, meta.HasNext)
	assert.True(t, meta.HasPrevious)
}

func TestStoreOnEntry(t *testing.T) {
	s := activitylog.NewStore(0)
	var seen []string
	s.OnEntry(func(e activitylog.Entry) { seen = append(seen, e.Verb) })
	s.OnEntry(nil)

	record(t, s, auth.ActivityEventTenantInvited, "ana", map[string]any{"email": "bo@example.com", "role": "student"})

	assert.Equal(t, []string{string(auth.ActivityEventTenantInvited)}, seen)
	assert.Equal(t, "User ana invited bo@example.com as student", s.Entries(activitylog.Filter{})[0].Message)
}

func TestStoreAsMachineSink(t *testing.T) {
	s := activitylog.NewStore(0)
	sink := auth.MultiActivitySink(nil, s)

	require.NoError(t, sink.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventSessionEnded, UserID: "u1"}))
	entries := s.Entries(activitylog.Filter{})
	require.Len(t, entries, 1)
	assert.Equal(t, "Session of u1 ended by the identity provider", entries[0].Message)
	assert.Equal(t, activitylog.LevelWarning, entries[0].Level)
}
