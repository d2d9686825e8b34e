package telemetry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagebeacon/beacon/pkg/consent"
	"github.com/usagebeacon/beacon/pkg/counter"
)

func testClient(t *testing.T, policy *consent.Policy) (*Client, *counter.InMemoryStore) {
	t.Helper()

	t.Setenv("HOME", t.TempDir())

	store := counter.NewInMemoryStore()
	fixedNow := func() time.Time {
		return time.Date(2026, 8, 25, 14, 30, 0, 0, time.Local)
	}
	client := newClient(slog.New(slog.DiscardHandler), true, false, "test", policy, store, fixedNow)
	return client, store
}

func TestLogUsageEvent_CountsAllowedEvents(t *testing.T) {
	policy := &consent.Policy{DefaultAllowed: true, Components: map[string]consent.State{}}
	client, store := testClient(t, policy)

	client.LogUsageEvent("SegmentEditor", "apply")
	client.LogUsageEvent("SegmentEditor", "apply")
	client.LogUsageEvent("Markups", "place-point")
	client.Close()

	counts, err := store.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "2026-08-25", counts[0].Day)
	assert.Equal(t, int64(1), counts[0].Times) // Markups place-point
	assert.Equal(t, int64(2), counts[1].Times) // SegmentEditor apply
}

func TestLogUsageEvent_DeniedByConsent(t *testing.T) {
	policy := &consent.Policy{
		DefaultAllowed: true,
		Components:     map[string]consent.State{"SampleData": consent.StateDisabled},
	}
	client, store := testClient(t, policy)

	client.LogUsageEvent("SampleData", "download")
	client.Close()

	counts, err := store.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestLogUsageEvent_DefaultDenied(t *testing.T) {
	policy := &consent.Policy{DefaultAllowed: false, Components: map[string]consent.State{}}
	client, store := testClient(t, policy)

	client.LogUsageEvent("SegmentEditor", "apply")
	client.Close()

	counts, err := store.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)

	// The component was still registered so the user can enable it later.
	assert.Equal(t, consent.StateDefault, policy.GetState("SegmentEditor"))
}

func TestClose_PersistsRegisteredComponents(t *testing.T) {
	policy := &consent.Policy{DefaultAllowed: true, Components: map[string]consent.State{}}
	client, _ := testClient(t, policy)

	client.LogUsageEvent("Markups", "place-point")
	client.Close()

	// A fresh load from disk sees the registration, so `beacon status` lists
	// the component without the user ever touching the consent file.
	loaded, err := consent.Load()
	require.NoError(t, err)
	assert.Equal(t, consent.StateDefault, loaded.GetState("Markups"))
	assert.Contains(t, loaded.ComponentStates(), "Markups")
}

func TestClose_LivePolicyEditTakesEffect(t *testing.T) {
	policy := &consent.Policy{DefaultAllowed: false, Components: map[string]consent.State{}}
	client, store := testClient(t, policy)

	client.LogUsageEvent("SegmentEditor", "apply") // denied

	// An edit reaching the shared policy (as the consent watcher applies)
	// changes the decision for subsequent events, no new client needed.
	policy.SetDefaultAllowed(true)
	client.LogUsageEvent("SegmentEditor", "apply")
	client.Close()

	counts, err := store.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(1), counts[0].Times)
}

func TestLogUsageEvent_DropsEmptyFields(t *testing.T) {
	policy := &consent.Policy{DefaultAllowed: true, Components: map[string]consent.State{}}
	client, store := testClient(t, policy)

	client.LogUsageEvent("", "apply")
	client.LogUsageEvent("SegmentEditor", "")
	client.Close()

	counts, err := store.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestLogUsageEvent_DisabledClient(t *testing.T) {
	client := newClient(slog.New(slog.DiscardHandler), false, false, "test", nil, nil)

	// Must be safe no-ops.
	client.LogUsageEvent("SegmentEditor", "apply")
	client.Close()

	var nilClient *Client
	nilClient.LogUsageEvent("SegmentEditor", "apply")
	nilClient.Close()
}

func TestTelemetryEnabledFromEnv(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"false", false},
		{"true", true},
		{"1", true},
		{"anything-else", true},
	}

	for _, tt := range tests {
		t.Run("value="+tt.value, func(t *testing.T) {
			t.Setenv("BEACON_TELEMETRY_ENABLED", tt.value)
			assert.Equal(t, tt.want, telemetryEnabledFromEnv())
		})
	}
}

func TestTelemetryDisabledInTests(t *testing.T) {
	// flag.Lookup("test.v") is non-nil under go test.
	assert.False(t, GetTelemetryEnabled())
}

func TestInstallUUID_Persists(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	first := getInstallUUID()
	require.NotEmpty(t, first)
	assert.Equal(t, first, getInstallUUID())
}

func TestContextCarrier(t *testing.T) {
	policy := &consent.Policy{DefaultAllowed: true, Components: map[string]consent.State{}}
	client, store := testClient(t, policy)

	ctx := WithClient(context.Background(), client)
	assert.Same(t, client, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))

	LogUsageEventContext(ctx, "VolumeRendering", "apply")
	LogUsageEventContext(context.Background(), "VolumeRendering", "apply") // no client, dropped
	client.Close()

	counts, err := store.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(1), counts[0].Times)
}
