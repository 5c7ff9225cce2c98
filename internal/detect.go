package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the directory name used under the user's config location
const AppName = "querychat"

// AppPaths holds the default locations of querychat's files
type AppPaths struct {
	BaseDir    string // per-user querychat directory
	ConfigFile string // config.yaml
	EnvFile    string // .env next to config.yaml
	HistoryDB  string // SQLite chat history
	ExportDir  string // default export destination
}

// DetectPaths detects the default paths based on the operating system
func DetectPaths() (AppPaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return AppPaths{}, fmt.Errorf("failed to get home directory: %w", err)
	}

	var baseDir string
	switch runtime.GOOS {
	case "darwin":
		baseDir = filepath.Join(home, "Library/Application Support", AppName)
	case "linux":
		// Honour XDG when set
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" && filepath.IsAbs(xdg) {
			baseDir = filepath.Join(xdg, AppName)
		} else {
			baseDir = filepath.Join(home, ".config", AppName)
		}
	default:
		dir, err := os.UserConfigDir()
		if err != nil {
			return AppPaths{}, fmt.Errorf("unsupported OS: %s: %w", runtime.GOOS, err)
		}
		baseDir = filepath.Join(dir, AppName)
	}

	return AppPaths{
		BaseDir:    baseDir,
		ConfigFile: filepath.Join(baseDir, "config.yaml"),
		EnvFile:    filepath.Join(baseDir, ".env"),
		HistoryDB:  filepath.Join(baseDir, "history.db"),
		ExportDir:  filepath.Join(baseDir, "exports"),
	}, nil
}

// EnsureBaseDir creates the querychat directory if needed
func (p AppPaths) EnsureBaseDir() error {
	return os.MkdirAll(p.BaseDir, 0755)
}

// ConfigExists checks if the default config file exists
func (p AppPaths) ConfigExists() bool {
	return fileExists(p.ConfigFile)
}

// HistoryExists checks if the history database exists
func (p AppPaths) HistoryExists() bool {
	return fileExists(p.HistoryDB)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// IsCIEnvironment reports whether querychat runs under a CI system
func IsCIEnvironment() bool {
	for _, name := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "JENKINS_URL"} {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}
