// Package paths resolves the satchel CLI's configuration directory and
// database file locations.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// CWD-relative defaults.
const (
	DefaultConfigDirName = ".satchel"
	DefaultDatabaseName  = "satchel.db"
)

// Environment variable overrides.
const (
	EnvConfigDir = "SATCHEL_CONFIG_DIR"
	EnvDatabase  = "SATCHEL_DB"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific default configuration
// directory.
//
// Linux:   $XDG_CONFIG_HOME/satchel (fallback ~/.config/satchel)
// macOS:   ~/Library/Application Support/satchel
// Windows: %APPDATA%/satchel
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "satchel"), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "satchel"), nil
	default:
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "satchel"), nil
	}
}

// ResolveConfigDir returns the configuration directory following the
// precedence chain: flag > SATCHEL_CONFIG_DIR env > $(CWD)/.satchel when
// it exists > platform default.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, DefaultConfigDirName)
		if info, err := os.Stat(local); err == nil && info.IsDir() {
			return local, nil
		}
	}
	return DefaultConfigDir()
}

// ResolveDatabase returns the database file path following the
// precedence chain: flag > config value > SATCHEL_DB env > a default
// file inside the config directory. The empty string (an in-memory
// database) is only ever produced by an explicit flag value of ":memory:".
func ResolveDatabase(flag, configValue, configDir string) (string, error) {
	if flag == ":memory:" {
		return "", nil
	}
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configValue != "" {
		return filepath.Abs(configValue)
	}
	if env := os.Getenv(EnvDatabase); env != "" {
		return filepath.Abs(env)
	}
	return filepath.Join(configDir, DefaultDatabaseName), nil
}
