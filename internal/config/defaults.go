package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// configFileNames are the file names FindConfigFile probes, in order.
var configFileNames = []string{
	"expandd.toml",
	"expandd.json",
	"expandd.yaml",
	"expandd.yml",
}

// PlatformDataDir returns the platform-appropriate data directory for
// expandd.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return fallbackDir()
		}
		return filepath.Join(home, "Library", "Application Support", "expandd")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "expandd")
		}
		return fallbackDir()
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "expandd")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return fallbackDir()
		}
		return filepath.Join(home, ".local", "share", "expandd")
	}
}

// PlatformConfigDir returns the platform-appropriate configuration
// directory for expandd.
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return fallbackDir()
		}
		return filepath.Join(home, "Library", "Application Support", "expandd")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "expandd")
		}
		return fallbackDir()
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "expandd")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return fallbackDir()
		}
		return filepath.Join(home, ".config", "expandd")
	}
}

// PlatformLogDir returns the platform-appropriate log directory for
// expandd.
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return fallbackDir()
		}
		return filepath.Join(home, "Library", "Logs", "expandd")
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, "expandd", "logs")
		}
		return fallbackDir()
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, "expandd")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return fallbackDir()
		}
		return filepath.Join(home, ".local", "state", "expandd")
	}
}

// fallbackDir is used when no home directory can be resolved.
func fallbackDir() string {
	return filepath.Join(os.TempDir(), "expandd-"+getUserID())
}

func getUserID() string {
	if uid := os.Getuid(); uid >= 0 {
		return strconv.Itoa(uid)
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "unknown"
}

// DefaultConfigPath returns the path where expandd writes a fresh
// configuration file.
func DefaultConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "expandd.toml")
}

// FindConfigFile searches the working directory, the platform config
// directory, and the data directory for an expandd configuration file.
func FindConfigFile() (string, bool) {
	dirs := []string{".", PlatformConfigDir(), ExpanddDir()}
	for _, dir := range dirs {
		for _, name := range configFileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, true
			}
		}
	}
	return "", false
}
