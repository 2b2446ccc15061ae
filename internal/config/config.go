// Package config provides configuration management for tether.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the service configuration.
type Config struct {
	Service  ServiceConfig   `yaml:"service" toml:"service"`
	API      APIConfig       `yaml:"api" toml:"api"`
	MCP      MCPConfig       `yaml:"mcp" toml:"mcp"`
	Logging  LoggingConfig   `yaml:"logging" toml:"logging"`
	Daemon   DaemonConfig    `yaml:"daemon" toml:"daemon"`
	Sessions []SessionConfig `yaml:"sessions" toml:"sessions"`
}

// ServiceConfig contains service-level settings.
type ServiceConfig struct {
	Host    string `yaml:"host" toml:"host"`
	Port    int    `yaml:"port" toml:"port"`
	DataDir string `yaml:"data_dir" toml:"data_dir"`
}

// APIConfig contains API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
}

// MCPConfig contains MCP server settings.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level      string   `yaml:"level" toml:"level"`
	Format     string   `yaml:"format" toml:"format"`
	Output     []string `yaml:"output" toml:"output"`
	TimeFormat string   `yaml:"time_format" toml:"time_format"`
	MaxSizeMB  int      `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int      `yaml:"max_backups" toml:"max_backups"`
}

// DaemonConfig holds defaults applied to every daemon session.
type DaemonConfig struct {
	// ReadTimeout is the per-line sync timeout in seconds. Zero keeps the
	// daemon default (TETHER_DAEMON_READ_TIMEOUT or 120).
	ReadTimeout int `yaml:"read_timeout" toml:"read_timeout"`

	// SwitchUser is the privilege-switch wrapper, e.g. "su -".
	SwitchUser string `yaml:"switch_user" toml:"switch_user"`

	// Filters are redaction patterns applied to all sessions.
	Filters []string `yaml:"filters" toml:"filters"`

	// ErrorPatterns mark a sync as failed for all sessions.
	ErrorPatterns []string `yaml:"error_patterns" toml:"error_patterns"`

	// PersistTranscripts stores session transcripts under TranscriptDir.
	PersistTranscripts bool `yaml:"persist_transcripts" toml:"persist_transcripts"`
}

// SessionConfig predefines a daemon session opened on first use.
type SessionConfig struct {
	Identity      string   `yaml:"identity" toml:"identity"`
	Command       string   `yaml:"command" toml:"command"`
	User          string   `yaml:"user" toml:"user"`
	Filters       []string `yaml:"filters" toml:"filters"`
	ErrorPatterns []string `yaml:"error_patterns" toml:"error_patterns"`
	ReadTimeout   int      `yaml:"read_timeout" toml:"read_timeout"`

	// Wrap appends the sentinel echo to every exec so plain shell commands
	// terminate a sync by exit status.
	Wrap bool `yaml:"wrap" toml:"wrap"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Host:    "127.0.0.1",
			Port:    8421,
			DataDir: DefaultDataDir(),
		},
		API: APIConfig{
			Enabled: true,
			APIKey:  "", // Empty = no auth for localhost
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"console"},
		},
		Daemon: DaemonConfig{
			SwitchUser: "su -",
		},
	}
}

// DefaultDataDir returns the default data directory based on OS.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "tether")
	default: // linux and others
		xdgData := os.Getenv("XDG_DATA_HOME")
		if xdgData != "" {
			return filepath.Join(xdgData, "tether")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".tether")
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load loads configuration from a YAML or TOML file, chosen by extension.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables in the config
	expanded := os.ExpandEnv(string(data))

	if isTOML(path) {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if strings.HasPrefix(cfg.Service.DataDir, "~/") {
		home, _ := os.UserHomeDir()
		cfg.Service.DataDir = filepath.Join(home, cfg.Service.DataDir[2:])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks session definitions.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Sessions))
	for i, s := range c.Sessions {
		if strings.TrimSpace(s.Identity) == "" {
			return fmt.Errorf("sessions[%d]: identity is required", i)
		}
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("session %q: command is required", s.Identity)
		}
		if seen[s.Identity] {
			return fmt.Errorf("session %q: duplicate identity", s.Identity)
		}
		seen[s.Identity] = true
	}
	return nil
}

// Save saves the configuration to a file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf strings.Builder
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		data = []byte(buf.String())
	} else {
		var err error
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Session returns the predefined session with the given identity.
func (c *Config) Session(identity string) (SessionConfig, bool) {
	for _, s := range c.Sessions {
		if s.Identity == identity {
			return s, true
		}
	}
	return SessionConfig{}, false
}

// Address returns the full address string for the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.Port)
}

// TranscriptDir returns the directory holding session transcripts.
func (c *Config) TranscriptDir() string {
	return filepath.Join(c.Service.DataDir, "transcripts")
}

// LogPath returns the path to the service log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Service.DataDir, "logs", "tether-service.log")
}

// PIDPath returns the path to the service PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Service.DataDir, "tether-service.pid")
}

// EnsureDirectories creates all necessary directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Service.DataDir,
		c.TranscriptDir(),
		filepath.Dir(c.LogPath()),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
