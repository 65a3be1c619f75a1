package activitylog_test

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/activitylog"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 3, 11, 14, 30, 25, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType:  auth.ActivityEventLoginSuccess,
		Actor:      auth.ActorRef{ID: "user-100", Type: "user"},
		UserID:     "user-100",
		FromStatus: auth.StatusAuthenticating,
		ToStatus:   auth.StatusAuthenticated,
		Metadata: map[string]any{
			"session_machine": "m-1",
		},
		OccurredAt: ts,
	}

	out := activitylog.Normalize(event)

	if out.ActorID != "user-100" {
		t.Fatalf("expected actor_id user-100, got %q", out.ActorID)
	}
	if out.Verb != string(auth.ActivityEventLoginSuccess) {
		t.Fatalf("expected verb %q, got %q", auth.ActivityEventLoginSuccess, out.Verb)
	}
	if out.ObjectType != "user" {
		t.Fatalf("expected object_type user, got %q", out.ObjectType)
	}
	if out.ObjectID != "user-100" {
		t.Fatalf("expected object_id user-100, got %q", out.ObjectID)
	}
	if out.Channel != "auth" {
		t.Fatalf("expected channel auth, got %q", out.Channel)
	}
	if out.Level != activitylog.LevelSuccess {
		t.Fatalf("expected level success, got %q", out.Level)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}
	if out.Metadata[activitylog.MetadataKeyActorType] != "user" {
		t.Fatalf("expected metadata actor_type user, got %#v", out.Metadata[activitylog.MetadataKeyActorType])
	}
	if out.Metadata[activitylog.MetadataKeyFromStatus] != string(auth.StatusAuthenticating) {
		t.Fatalf("expected metadata from_status authenticating, got %#v", out.Metadata[activitylog.MetadataKeyFromStatus])
	}
	if out.Metadata[activitylog.MetadataKeyToStatus] != string(auth.StatusAuthenticated) {
		t.Fatalf("expected metadata to_status authenticated, got %#v", out.Metadata[activitylog.MetadataKeyToStatus])
	}
	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeTenantEvents(t *testing.T) {
	t.Parallel()

	out := activitylog.Normalize(auth.ActivityEvent{
		EventType: auth.ActivityEventTenantCreated,
		UserID:    "user-1",
		Metadata:  map[string]any{"tenant_id": "tn-9", "tenant_name": "Acme"},
	})

	if out.Channel != "tenant" {
		t.Fatalf("expected channel tenant, got %q", out.Channel)
	}
	if out.ObjectID != "tn-9" {
		t.Fatalf("expected object_id tn-9, got %q", out.ObjectID)
	}
	if out.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set when input is zero")
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventProfileUpdated,
		Actor:     auth.ActorRef{Type: "user"},
		UserID:    "user-200",
		Metadata: map[string]any{
			"profile_id":                     "prf-1",
			activitylog.MetadataKeyActorType: "existing",
		},
	}

	out := activitylog.Normalize(
		event,
		activitylog.WithDefaultChannel("security"),
		activitylog.WithDefaultObjectType("profile"),
		activitylog.WithNormalizeClock(func() time.Time { return fixed }),
		activitylog.WithObjectIDResolver(func(e auth.ActivityEvent) string {
			if v, ok := e.Metadata["profile_id"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "profile" {
		t.Fatalf("expected object_type profile, got %q", out.ObjectType)
	}
	if out.ObjectID != "prf-1" {
		t.Fatalf("expected object_id prf-1, got %q", out.ObjectID)
	}
	if out.Metadata[activitylog.MetadataKeyActorType] != "existing" {
		t.Fatalf("expected existing actor_type preserved, got %#v", out.Metadata[activitylog.MetadataKeyActorType])
	}
	if !out.OccurredAt.Equal(fixed) {
		t.Fatalf("expected occurred_at from the injected clock, got %v", out.OccurredAt)
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  auth.ActivityEvent
		opts   []activitylog.Option
		expect string
	}{
		{
			name:   "uses actor id when present",
			event:  auth.ActivityEvent{Actor: auth.ActorRef{ID: "actor-1"}, UserID: "user-1"},
			expect: "actor-1",
		},
		{
			name:   "uses user id when actor id missing",
			event:  auth.ActivityEvent{UserID: "user-2"},
			expect: "user-2",
		},
		{
			name:   "uses default fallback when actor and user missing",
			event:  auth.ActivityEvent{},
			expect: "system",
		},
		{
			name:   "uses configured fallback when actor and user missing",
			event:  auth.ActivityEvent{},
			opts:   []activitylog.Option{activitylog.WithActorFallback("janitor")},
			expect: "janitor",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitylog.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestLevelOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		eventType auth.ActivityEventType
		want      activitylog.Level
	}{
		{auth.ActivityEventLoginSuccess, activitylog.LevelSuccess},
		{auth.ActivityEventLoginFailure, activitylog.LevelWarning},
		{auth.ActivityEventSessionEnded, activitylog.LevelWarning},
		{auth.ActivityEventLogout, activitylog.LevelInfo},
		{auth.ActivityEventTenantInvited, activitylog.LevelInfo},
		{auth.ActivityEventType("x.error"), activitylog.LevelError},
	}

	for _, tt := range tests {
		if got := activitylog.LevelOf(tt.eventType); got != tt.want {
			t.Fatalf("LevelOf(%q) = %q, want %q", tt.eventType, got, tt.want)
		}
	}
}
