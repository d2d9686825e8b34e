package telemetry

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/usagebeacon/beacon/pkg/paths"
)

// GetTelemetryEnabled reports whether usage counting is on at all, before any
// consent policy is consulted.
func GetTelemetryEnabled() bool {
	// Disable telemetry when running in tests to prevent stray counter writes
	if flag.Lookup("test.v") != nil {
		return false
	}
	return telemetryEnabledFromEnv()
}

// telemetryEnabledFromEnv checks only the environment variable,
// without the test detection bypass. This allows testing the env var logic.
func telemetryEnabledFromEnv() bool {
	if env := os.Getenv("BEACON_TELEMETRY_ENABLED"); env != "" {
		// Only disable if explicitly set to "false"
		return env != "false"
	}
	// Default to true; the consent policy still decides per component
	return true
}

// installUUIDFilePath returns the path to the installation UUID file
func installUUIDFilePath() string {
	return filepath.Join(paths.GetConfigDir(), "install-uuid")
}

// getInstallUUID gets or creates a persistent anonymous installation UUID.
// The UUID carries no user information; it only lets the collector count
// installations instead of uploads.
func getInstallUUID() string {
	uuidFile := installUUIDFilePath()

	if data, err := os.ReadFile(uuidFile); err == nil {
		existingUUID := strings.TrimSpace(string(data))
		if existingUUID != "" {
			return existingUUID
		}
		// UUID file exists but is empty - will generate new one
	}

	newUUID := uuid.New().String()
	if err := saveInstallUUID(newUUID); err != nil {
		// If we can't save, still return a UUID for this session
		// but it won't persist across runs
		return newUUID
	}

	return newUUID
}

// saveInstallUUID saves the UUID to disk
func saveInstallUUID(newUUID string) error {
	uuidFile := installUUIDFilePath()

	if err := os.MkdirAll(filepath.Dir(uuidFile), 0o755); err != nil {
		return err
	}

	// Readable only by user
	return os.WriteFile(uuidFile, []byte(newUUID), 0o600)
}
