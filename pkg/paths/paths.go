package paths

import (
	"os"
	"path/filepath"
)

// GetConfigDir returns the user's config directory for beacon. This is where
// the consent file and the install UUID live.
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory. This is a best-effort fallback and
// not intended to be a security boundary.
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to temp directory
		return filepath.Clean(filepath.Join(os.TempDir(), ".beacon-config"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".config", "beacon"))
}

// GetDataDir returns the user's data directory for beacon (usage counters,
// collector database, logs).
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory.
func GetDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".beacon"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".beacon"))
}
