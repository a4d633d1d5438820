package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user configuration and data directories.
const AppName = "text-searcher"

// Paths holds the per-user locations used by text-searcher.
type Paths struct {
	// ConfigDir holds config.yaml (~/.config/text-searcher)
	ConfigDir string

	// DataDir holds the search history (~/.local/share/text-searcher)
	DataDir string
}

// DefaultPaths returns the default paths based on the XDG Base Directory spec.
// On Windows, %APPDATA% and %LOCALAPPDATA% are used instead.
func DefaultPaths() *Paths {
	home := homeDir()

	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(home, "AppData", "Local")
		}
		return &Paths{
			ConfigDir: filepath.Join(appData, AppName),
			DataDir:   filepath.Join(localAppData, AppName),
		}
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(home, ".local", "share")
	}

	return &Paths{
		ConfigDir: filepath.Join(configHome, AppName),
		DataDir:   filepath.Join(dataHome, AppName),
	}
}

// ConfigFile returns the path to the main configuration file.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir, "config.yaml")
}

// HistoryFile returns the default path of the keyword history.
func (p *Paths) HistoryFile() string {
	return filepath.Join(p.DataDir, "search_history.json")
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
