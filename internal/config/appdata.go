package config

import (
	"os"
	"path/filepath"
)

// defaultAppDataDir picks a per-user data directory for logs, honoring
// XDG_DATA_HOME when set and falling back to ~/.local/share/sessiond.
func defaultAppDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "sessiond")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "sessiond")
	}
	return filepath.Join(home, ".local", "share", "sessiond")
}
