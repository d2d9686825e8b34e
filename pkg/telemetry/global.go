package telemetry

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/usagebeacon/beacon/pkg/consent"
	"github.com/usagebeacon/beacon/pkg/counter"
	"github.com/usagebeacon/beacon/pkg/paths"
	"github.com/usagebeacon/beacon/pkg/uploader"
)

// LogUsageEvent records a usage event using automatic telemetry initialization.
// This is the one-liner hosts embed: telemetry.LogUsageEvent("SegmentEditor", "apply").
func LogUsageEvent(component, event string) {
	EnsureGlobalTelemetryInitialized()

	if globalTelemetryClient != nil {
		globalTelemetryClient.LogUsageEvent(component, event)
	}
}

// Global state for automatic telemetry initialization
var (
	globalTelemetryClient    *Client
	globalTelemetryOnce      sync.Once
	globalTelemetryVersion   = "unknown"
	globalTelemetryDebugMode = false
	globalConsentWatcher     *consent.Watcher
	globalUploaderCancel     context.CancelFunc
)

// GetGlobalTelemetryClient returns the global telemetry client for adding to context
func GetGlobalTelemetryClient() *Client {
	EnsureGlobalTelemetryInitialized()
	return globalTelemetryClient
}

// SetGlobalTelemetryVersion sets the version for automatic telemetry initialization
// This should be called by the root package to provide the correct version
func SetGlobalTelemetryVersion(version string) {
	if globalTelemetryClient != nil {
		globalTelemetryClient.setVersion(version)
	}
	globalTelemetryVersion = version
}

// SetGlobalTelemetryDebugMode sets the debug mode for automatic telemetry initialization
// This should be called by the root package to pass the --debug flag state
func SetGlobalTelemetryDebugMode(debug bool) {
	globalTelemetryDebugMode = debug
}

// CloseGlobalTelemetry flushes and stops the global client, if one was
// initialized. Call at process exit.
func CloseGlobalTelemetry() {
	if globalUploaderCancel != nil {
		globalUploaderCancel()
		globalUploaderCancel = nil
	}
	if globalConsentWatcher != nil {
		globalConsentWatcher.Stop()
		globalConsentWatcher = nil
	}
	if globalTelemetryClient != nil {
		globalTelemetryClient.Close()
		if globalTelemetryClient.store != nil {
			if err := globalTelemetryClient.store.Close(); err != nil {
				globalTelemetryClient.logger.Warn("Failed to close usage counter store", "error", err)
			}
		}
	}
}

// EnsureGlobalTelemetryInitialized ensures telemetry is initialized exactly once.
// It loads the consent policy and opens the SQLite counter store; if either
// fails the client still works, falling back to an empty policy or an
// in-memory store.
func EnsureGlobalTelemetryInitialized() {
	globalTelemetryOnce.Do(func() {
		debugMode := globalTelemetryDebugMode
		logger := slog.Default()
		enabled := GetTelemetryEnabled()
		version := globalTelemetryVersion

		if !enabled {
			globalTelemetryClient = newClient(logger, false, debugMode, version, nil, nil)
			return
		}

		policy, err := consent.Load()
		if err != nil {
			NewTelemetryLogger(logger).Warn("Failed to load consent policy, telemetry stays off by default", "error", err)
			policy = &consent.Policy{Components: map[string]consent.State{}}
		}

		var store counter.Store
		store, err = counter.NewSQLiteStore(filepath.Join(paths.GetDataDir(), "usage.db"))
		if err != nil {
			NewTelemetryLogger(logger).Warn("Failed to open usage counter store, counters will not persist", "error", err)
			store = counter.NewInMemoryStore()
		}

		globalTelemetryClient = newClient(logger, enabled, debugMode, version, policy, store)

		// Long-running hosts pick up consent edits without restarting. The
		// client and the uploader share the policy pointer, so reloading it in
		// place is enough.
		watcher := consent.NewWatcher(func() {
			if err := policy.Reload(); err != nil {
				NewTelemetryLogger(logger).Warn("Failed to reload consent policy", "error", err)
			}
		})
		if err := watcher.Watch(consent.Path()); err != nil {
			NewTelemetryLogger(logger).Warn("Failed to watch consent file", "error", err)
		} else {
			globalConsentWatcher = watcher
		}

		// Background upload loop. Consent and the once-a-week interval are
		// enforced inside Run on every check, so starting it is always safe.
		ctx, cancel := context.WithCancel(context.Background())
		globalUploaderCancel = cancel
		go uploader.New(logger, store, policy, globalTelemetryClient.InstallUUID(), version).Run(ctx)

		if debugMode {
			telemetryLogger := NewTelemetryLogger(logger)
			telemetryLogger.Info("Auto-initialized telemetry", "enabled", enabled, "debug", debugMode)
		}
	})
}
