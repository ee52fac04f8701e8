package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Submarine     SubmarineConfig `yaml:"submarine"`
	Bluetooth     BluetoothConfig `yaml:"bluetooth"`
	AutoReconnect bool            `yaml:"auto_reconnect"`
	LogLevel      string          `yaml:"log_level"`
}

// SubmarineConfig identifies the submarine.
type SubmarineConfig struct {
	Name string `yaml:"name"` // advertised name of the paired submarine
}

// BluetoothConfig holds link settings.
type BluetoothConfig struct {
	ServiceUUID     string        `yaml:"service_uuid"`     // service negotiated first
	FallbackChannel uint8         `yaml:"fallback_channel"` // RFCOMM channel dialed when negotiation fails
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	StatusDelay     time.Duration `yaml:"status_delay"`
	Discovery       bool          `yaml:"discovery"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "submarine-control")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Submarine: SubmarineConfig{
			Name: "USS Sea Tiger",
		},
		Bluetooth: BluetoothConfig{
			ServiceUUID:     "00001101-0000-1000-8000-00805f9b34fb",
			FallbackChannel: 1,
			ConnectTimeout:  20 * time.Second,
			StatusDelay:     2 * time.Second,
			Discovery:       true,
		},
		AutoReconnect: false,
		LogLevel:      "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. A leading ~ in path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Submarine.Name = strings.TrimSpace(cfg.Submarine.Name)

	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Submarine.Name == "" {
		return fmt.Errorf("submarine.name must not be empty")
	}

	if _, err := uuid.Parse(c.Bluetooth.ServiceUUID); err != nil {
		return fmt.Errorf("bluetooth.service_uuid %q is not a UUID: %w", c.Bluetooth.ServiceUUID, err)
	}

	if c.Bluetooth.FallbackChannel < 1 || c.Bluetooth.FallbackChannel > 30 {
		return fmt.Errorf("bluetooth.fallback_channel must be 1-30, got %d", c.Bluetooth.FallbackChannel)
	}

	if c.Bluetooth.ConnectTimeout <= 0 {
		return fmt.Errorf("bluetooth.connect_timeout must be > 0")
	}

	if c.Bluetooth.StatusDelay < 0 {
		return fmt.Errorf("bluetooth.status_delay must not be negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

const defaultConfigYAML = `# submarine-control configuration
#
# Connects to a paired submarine over Bluetooth RFCOMM.

submarine:
  # Advertised name of the paired submarine.
  name: "USS Sea Tiger"

bluetooth:
  # Service negotiated first (Serial Port Profile).
  service_uuid: "00001101-0000-1000-8000-00805f9b34fb"
  # RFCOMM channel dialed directly when negotiation fails (1-30).
  fallback_channel: 1
  # Upper bound for one connection attempt.
  connect_timeout: 20s
  # Connection status changes are reported after this delay.
  status_delay: 2s
  # Run a discovery pass before looking up paired devices.
  discovery: true

# Reconnect whenever the connection drops (watch command).
auto_reconnect: false

# debug, info, warn or error
log_level: info
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a log_level value to a slog.Level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
