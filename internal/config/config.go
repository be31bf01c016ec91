// ABOUTME: Configuration loading and parsing for the anf daemon
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration
type Config struct {
	Daemon     DaemonConfig     `yaml:"daemon"`
	Delegate   DelegateConfig   `yaml:"delegate"`
	Agents     AgentsConfig     `yaml:"agents"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Dedupe     DedupeConfig     `yaml:"dedupe"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DaemonConfig holds the command socket configuration
type DaemonConfig struct {
	SocketPath   string        `yaml:"socket_path"`
	ReadTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ReadTimeoutRaw  string `yaml:"read_timeout"`
	WriteTimeoutRaw string `yaml:"write_timeout"`
}

// DelegateConfig holds the delegate peer endpoint
type DelegateConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// AgentsConfig holds agent catalog configuration
type AgentsConfig struct {
	// CustomDir is scanned for descriptor files at startup. Missing is fine.
	CustomDir string `yaml:"custom_dir"`

	// DefaultAgent receives legacy ask commands that name no agent.
	DefaultAgent string `yaml:"default_agent"`
}

// DispatcherConfig holds scheduling configuration
type DispatcherConfig struct {
	PollInterval  time.Duration `yaml:"-"`
	ExecutorDelay time.Duration `yaml:"-"`

	PollIntervalRaw  string `yaml:"poll_interval"`
	ExecutorDelayRaw string `yaml:"executor_delay"`
}

// DedupeConfig holds idempotent submit configuration
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-"`
	MaxEntries int           `yaml:"max_entries"`

	TTLRaw string `yaml:"ttl"`
}

// DatabaseConfig holds task journal configuration. An empty path disables it.
type DatabaseConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"-"`

	RetentionRaw string `yaml:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the HTTP health and metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Default returns a configuration that runs without any file. Durations are
// set both parsed and raw so the result is usable as is.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			SocketPath:      "/tmp/anf.sock",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Second,
			ReadTimeoutRaw:  "30s",
			WriteTimeoutRaw: "10s",
		},
		Delegate: DelegateConfig{
			Enabled:    true,
			SocketPath: "/tmp/anf_python.sock",
		},
		Agents: AgentsConfig{
			CustomDir:    "~/.anf/agents",
			DefaultAgent: "coder",
		},
		Dispatcher: DispatcherConfig{
			PollInterval:     100 * time.Millisecond,
			ExecutorDelay:    100 * time.Millisecond,
			PollIntervalRaw:  "100ms",
			ExecutorDelayRaw: "100ms",
		},
		Dedupe: DedupeConfig{
			TTL:        10 * time.Minute,
			TTLRaw:     "10m",
			MaxEntries: 10000,
		},
		Database: DatabaseConfig{
			Path:         "~/.anf/tasks.db",
			Retention:    168 * time.Hour,
			RetentionRaw: "168h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Values absent from the file keep their defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(Default())
	}
	return cfg, err
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.Daemon.SocketPath = expandHome(cfg.Daemon.SocketPath)
	cfg.Delegate.SocketPath = expandHome(cfg.Delegate.SocketPath)
	cfg.Agents.CustomDir = expandHome(cfg.Agents.CustomDir)
	cfg.Database.Path = expandHome(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns the config file location.
// Priority: ANF_CONFIG env > $XDG_CONFIG_HOME/anf/daemon.yaml > ~/.config/anf/daemon.yaml
func DefaultPath() string {
	if p := os.Getenv("ANF_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "anf", "daemon.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "daemon.yaml"
	}
	return filepath.Join(home, ".config", "anf", "daemon.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Daemon.SocketPath == "" {
		return fmt.Errorf("daemon.socket_path is required")
	}

	if c.Delegate.Enabled {
		if c.Delegate.SocketPath == "" {
			return fmt.Errorf("delegate.socket_path is required when delegation is enabled")
		}
		if filepath.Clean(c.Delegate.SocketPath) == filepath.Clean(c.Daemon.SocketPath) {
			return fmt.Errorf("delegate.socket_path must differ from daemon.socket_path")
		}
	}

	if c.Dispatcher.PollInterval <= 0 {
		return fmt.Errorf("dispatcher.poll_interval must be positive")
	}
	if c.Dispatcher.ExecutorDelay < 0 {
		return fmt.Errorf("dispatcher.executor_delay must not be negative")
	}

	if c.Dedupe.TTL <= 0 {
		return fmt.Errorf("dedupe.ttl must be positive")
	}
	if c.Dedupe.MaxEntries <= 0 {
		return fmt.Errorf("dedupe.max_entries must be positive")
	}

	if c.Database.Retention < 0 {
		return fmt.Errorf("database.retention must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return fmt.Errorf("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"daemon.read_timeout", cfg.Daemon.ReadTimeoutRaw, &cfg.Daemon.ReadTimeout},
		{"daemon.write_timeout", cfg.Daemon.WriteTimeoutRaw, &cfg.Daemon.WriteTimeout},
		{"dispatcher.poll_interval", cfg.Dispatcher.PollIntervalRaw, &cfg.Dispatcher.PollInterval},
		{"dispatcher.executor_delay", cfg.Dispatcher.ExecutorDelayRaw, &cfg.Dispatcher.ExecutorDelay},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
		{"database.retention", cfg.Database.RetentionRaw, &cfg.Database.Retention},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
