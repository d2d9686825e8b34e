package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/usagebeacon/beacon/pkg/api"
	"github.com/usagebeacon/beacon/pkg/consent"
	"github.com/usagebeacon/beacon/pkg/counter"
)

// eventBufferSize is the capacity of the recording queue. When the queue is
// full new events are dropped rather than blocking the caller.
const eventBufferSize = 128

type usageEvent struct {
	component string
	event     string
}

// Client records usage events into an aggregated counter store, gated by the
// user's consent policy.
type Client struct {
	logger      *telemetryLogger
	installUUID string
	enabled     bool
	debugMode   bool
	policy      *consent.Policy
	store       counter.Store
	version     string
	mu          sync.RWMutex

	events chan usageEvent
	wg     sync.WaitGroup
	now    func() time.Time

	dropped int64
}

func newClient(logger *slog.Logger, enabled, debugMode bool, version string, policy *consent.Policy, store counter.Store, customNow ...func() time.Time) *Client {
	telemetryLogger := NewTelemetryLogger(logger)

	if !enabled {
		return &Client{
			logger:  telemetryLogger,
			enabled: false,
			version: version,
		}
	}

	now := time.Now
	if len(customNow) > 0 && customNow[0] != nil {
		now = customNow[0]
	}

	client := &Client{
		logger:      telemetryLogger,
		installUUID: getInstallUUID(),
		enabled:     enabled,
		debugMode:   debugMode,
		policy:      policy,
		store:       store,
		version:     version,
		events:      make(chan usageEvent, eventBufferSize),
		now:         now,
	}

	client.wg.Add(1)
	go client.recordLoop()

	telemetryLogger.Debug("Enabled:", "enabled", enabled)

	return client
}

// NewClient creates a telemetry client that counts events into store subject
// to policy. Pass a nil logger to use slog.Default().
func NewClient(logger *slog.Logger, policy *consent.Policy, store counter.Store, version string) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return newClient(logger, GetTelemetryEnabled(), false, version, policy, store)
}

// LogUsageEvent records one occurrence of event in component. It never blocks
// and never fails: when telemetry is disabled, the component is denied by the
// consent policy, or the recording queue is full, the event is silently
// dropped.
func (tc *Client) LogUsageEvent(component, event string) {
	if tc == nil || !tc.enabled {
		return
	}
	if component == "" || event == "" {
		tc.logger.Debug("Dropping usage event with empty field", "component", component, "event", event)
		return
	}
	if tc.policy == nil || !tc.policy.Allowed(component) {
		tc.logger.Debug("Usage event denied by consent policy", "component", component, "event", event)
		return
	}

	select {
	case tc.events <- usageEvent{component: component, event: event}:
	default:
		tc.mu.Lock()
		tc.dropped++
		tc.mu.Unlock()
		tc.logger.Debug("Recording queue full, dropping usage event", "component", component, "event", event)
	}
}

// recordLoop drains the event queue into the counter store.
func (tc *Client) recordLoop() {
	defer tc.wg.Done()

	for ev := range tc.events {
		// The day is computed at recording time, in local time, matching what
		// the user would call "today".
		day := tc.now().Format(api.DayFormat)

		if err := tc.store.Increment(context.Background(), ev.component, ev.event, day); err != nil {
			tc.logger.Warn("Failed to record usage event", "component", ev.component, "event", ev.event, "error", err)
			continue
		}

		if tc.debugMode {
			tc.logger.Info("Usage event recorded", "component", ev.component, "event", ev.event, "day", day)
		}
	}
}

// Close flushes queued events into the store and stops the recording
// goroutine. LogUsageEvent must not be called after Close. The counter store
// itself is not closed; it belongs to the caller. Components that Allowed
// auto-registered during the session are persisted here so they show up in
// `beacon status`.
func (tc *Client) Close() {
	if tc == nil || !tc.enabled {
		return
	}
	close(tc.events)
	tc.wg.Wait()

	if tc.policy != nil && tc.policy.Dirty() {
		if err := tc.policy.Save(); err != nil {
			tc.logger.Warn("Failed to save auto-registered components", "error", err)
		}
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (tc *Client) Dropped() int64 {
	if tc == nil {
		return 0
	}
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.dropped
}

// InstallUUID returns the anonymous installation identifier.
func (tc *Client) InstallUUID() string {
	if tc == nil {
		return ""
	}
	return tc.installUUID
}

// setVersion safely sets the version with proper locking
func (tc *Client) setVersion(version string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.version = version
}
