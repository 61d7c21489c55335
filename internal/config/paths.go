// Package config resolves the on-disk locations vaultctl shares across
// runs: where log files live.
package config

import ("os"
	"path/filepath"
	"runtime")

// LogDirectory returns the directory vaultctl writes its log file into.
//
// Locations:
// - Windows: %LOCALAPPDATA%\VaultCore\vaultctl\logs
// - Unix: ~/.config/vault-core/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "vault-core-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "VaultCore", "vaultctl", "logs")
	}

	// Unix: use the XDG config directory.
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "vault-core-logs")
		}
		return filepath.Join(homeDir, ".config", "vault-core", "logs")
	}
	return filepath.Join(configDir, "vault-core", "logs")
}

// EnsureLogDirectory creates the log directory if it doesn't exist,
// restricted to the owner since log lines may include repo/mount ids.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}

// LogDirectoryForUser returns the log directory for a specific user
// profile path, for a host process running vaultctl on another user's
// behalf (e.g. a system service iterating configured profiles).
func LogDirectoryForUser(profilePath string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(profilePath, "AppData", "Local", "VaultCore", "vaultctl", "logs")
	}
	return filepath.Join(profilePath, ".config", "vault-core", "logs")
}
