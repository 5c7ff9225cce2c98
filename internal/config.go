package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the config file
const (
	EnvBackendURL   = "QUERYCHAT_BACKEND_URL"
	EnvAPIKey       = "QUERYCHAT_API_KEY"
	EnvDatabaseType = "QUERYCHAT_DATABASE_TYPE"
	EnvHistory      = "QUERYCHAT_HISTORY"
	EnvTimeout      = "QUERYCHAT_TIMEOUT"
	EnvSessionID    = "QUERYCHAT_SESSION_ID"
)

const (
	DefaultDatabaseType   = "oracle"
	DefaultRequestTimeout = 60 * time.Second
)

// ErrNoBackend is returned when a command needs the backend but no URL is configured
var ErrNoBackend = errors.New("backend URL is not configured (set backend_url or " + EnvBackendURL + ")")

var supportedDatabaseTypes = map[string]bool{
	"oracle":     true,
	"doris":      true,
	"postgres":   true,
	"postgresql": true,
	"mysql":      true,
	"sqlite":     true,
	"clickhouse": true,
}

// Config holds the client configuration
type Config struct {
	BackendURL     string        `yaml:"backend_url"`
	APIKey         string        `yaml:"api_key"`
	DatabaseType   string        `yaml:"database_type"`
	SessionID      string        `yaml:"session_id,omitempty"`
	HistoryPath    string        `yaml:"history_path"`
	KnownColumns   []string      `yaml:"known_columns,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	cfg := Config{
		DatabaseType:   DefaultDatabaseType,
		RequestTimeout: DefaultRequestTimeout,
	}
	if paths, err := DetectPaths(); err == nil {
		cfg.HistoryPath = paths.HistoryDB
	}
	return cfg
}

// LoadConfig builds the configuration from, in increasing precedence: the
// defaults, the YAML file at path, and the environment. A .env file next to
// the config file (or in the working directory) seeds the environment without
// overriding variables that are already set.
//
// An empty path means the default config file, which may be absent.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	optional := path == ""
	if optional {
		if paths, err := DetectPaths(); err == nil {
			path = paths.ConfigFile
		}
	}

	loadEnvFiles(path)

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, &ParseError{Source: "config", Key: path, Err: err}
			}
			LogDebug("loaded config from %s", path)
		case optional && errors.Is(err, os.ErrNotExist):
			LogDebug("no config file at %s, using defaults", path)
		default:
			return Config{}, &StorageError{Path: path, Op: "read", Err: err}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFiles(configPath string) {
	var files []string
	if configPath != "" {
		files = append(files, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	files = append(files, ".env")

	for _, f := range files {
		if !fileExists(f) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			LogWarn("failed to load %s: %v", f, err)
			continue
		}
		LogDebug("loaded environment from %s", f)
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvBackendURL); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(EnvDatabaseType); v != "" {
		c.DatabaseType = v
	}
	if v := os.Getenv(EnvHistory); v != "" {
		c.HistoryPath = v
	}
	if v := os.Getenv(EnvSessionID); v != "" {
		c.SessionID = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := ParseTimeout(v)
		if err != nil {
			return &ParseError{Source: "config", Key: EnvTimeout, Err: err}
		}
		c.RequestTimeout = d
	}
	return nil
}

func (c *Config) normalize() {
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	c.DatabaseType = strings.ToLower(strings.TrimSpace(c.DatabaseType))
	if c.DatabaseType == "" {
		c.DatabaseType = DefaultDatabaseType
	}
	cols := c.KnownColumns[:0]
	for _, col := range c.KnownColumns {
		if col = strings.TrimSpace(col); col != "" {
			cols = append(cols, col)
		}
	}
	c.KnownColumns = cols
}

// Validate checks the configuration values
func (c Config) Validate() error {
	if !supportedDatabaseTypes[strings.ToLower(c.DatabaseType)] {
		return fmt.Errorf("unsupported database type %q (supported: %s)", c.DatabaseType, strings.Join(SupportedDatabaseTypes(), ", "))
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative, got %s", c.RequestTimeout)
	}
	if c.BackendURL != "" {
		u, err := url.Parse(c.BackendURL)
		if err != nil {
			return fmt.Errorf("invalid backend URL %q: %w", c.BackendURL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid backend URL %q: scheme must be http or https", c.BackendURL)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid backend URL %q: missing host", c.BackendURL)
		}
	}
	return nil
}

// RequireBackend returns ErrNoBackend when no backend URL is set
func (c Config) RequireBackend() error {
	if c.BackendURL == "" {
		return ErrNoBackend
	}
	return nil
}

// ControllerConfig derives the controller settings for a chat
func (c Config) ControllerConfig(sessionID string) ControllerConfig {
	if c.SessionID != "" {
		sessionID = c.SessionID
	}
	return ControllerConfig{
		SessionID:      sessionID,
		DatabaseType:   c.DatabaseType,
		KnownColumns:   append([]string(nil), c.KnownColumns...),
		RequestTimeout: c.RequestTimeout,
	}
}

// SupportedDatabaseTypes lists the accepted database types
func SupportedDatabaseTypes() []string {
	out := make([]string, 0, len(supportedDatabaseTypes))
	for k := range supportedDatabaseTypes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParseTimeout parses a Go duration ("90s", "2m") or a plain number of seconds
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}
