package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/blelock/internal/ble"
)

// Config holds all application configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Retry     RetryConfig     `yaml:"retry"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Session   SessionConfig   `yaml:"session"`
	LogLevel  string          `yaml:"log_level" default:"info"`
}

// DeviceConfig identifies the lock and its static GATT layout.
type DeviceConfig struct {
	Name               string `yaml:"name" default:"BleLock"`
	ServiceUUID        string `yaml:"service_uuid" default:"abcd"`
	PublicCharUUID     string `yaml:"public_char_uuid" default:"1234"`
	DestinationAddress string `yaml:"destination_address"`
}

// RetryConfig holds the reconnect budgets.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries" default:"5"`
	Delay             time.Duration `yaml:"delay" default:"500ms"`
	SessionMaxRetries int           `yaml:"session_max_retries" default:"5"`
	SessionResetAfter time.Duration `yaml:"session_reset_after" default:"10m"`
}

// DiscoveryConfig holds the stale-GATT refresh settings.
type DiscoveryConfig struct {
	SettleDelay        time.Duration `yaml:"settle_delay" default:"100ms"`
	MaxRefreshAttempts int           `yaml:"max_refresh_attempts" default:"50"` // 0 = unbounded
	MaxRefreshDelay    time.Duration `yaml:"max_refresh_delay" default:"2s"`
}

// SessionConfig holds steady-state session settings.
type SessionConfig struct {
	PacingInterval time.Duration `yaml:"pacing_interval" default:"5s"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blelock")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return errors.New("device.name must not be empty")
	}
	if _, err := ble.ParseBluetoothUUID(c.Device.ServiceUUID); err != nil {
		return fmt.Errorf("device.service_uuid: %w", err)
	}
	if _, err := ble.ParseBluetoothUUID(c.Device.PublicCharUUID); err != nil {
		return fmt.Errorf("device.public_char_uuid: %w", err)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.SessionMaxRetries < 0 {
		return fmt.Errorf("retry.session_max_retries must be >= 0, got %d", c.Retry.SessionMaxRetries)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay must be >= 0, got %s", c.Retry.Delay)
	}
	if c.Retry.SessionResetAfter <= 0 {
		return fmt.Errorf("retry.session_reset_after must be > 0, got %s", c.Retry.SessionResetAfter)
	}

	if c.Discovery.SettleDelay < 0 {
		return fmt.Errorf("discovery.settle_delay must be >= 0, got %s", c.Discovery.SettleDelay)
	}
	if c.Discovery.MaxRefreshAttempts < 0 {
		return fmt.Errorf("discovery.max_refresh_attempts must be >= 0, got %d", c.Discovery.MaxRefreshAttempts)
	}
	if c.Discovery.MaxRefreshDelay < 0 {
		return fmt.Errorf("discovery.max_refresh_delay must be >= 0, got %s", c.Discovery.MaxRefreshDelay)
	}

	if c.Session.PacingInterval <= 0 {
		return fmt.Errorf("session.pacing_interval must be > 0, got %s", c.Session.PacingInterval)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ClientOptions maps the config onto ble.ClientOptions.
func (c *Config) ClientOptions() ble.ClientOptions {
	return ble.ClientOptions{
		ServiceUUID:        c.Device.ServiceUUID,
		PublicCharUUID:     c.Device.PublicCharUUID,
		DestinationAddress: c.Device.DestinationAddress,
		SettleDelay:        c.Discovery.SettleDelay,
		MaxRefreshAttempts: c.Discovery.MaxRefreshAttempts,
		MaxRefreshDelay:    c.Discovery.MaxRefreshDelay,
		PacingInterval:     c.Session.PacingInterval,
	}
}

// SupervisorOptions maps the config onto ble.SupervisorOptions.
func (c *Config) SupervisorOptions() ble.SupervisorOptions {
	return ble.SupervisorOptions{
		MaxRetries:        c.Retry.MaxRetries,
		RetryDelay:        c.Retry.Delay,
		SessionMaxRetries: c.Retry.SessionMaxRetries,
		SessionResetAfter: c.Retry.SessionResetAfter,
	}
}

// ParseLogLevel converts a config log level to a slog.Level.
// Unknown values fall back to info.
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

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	content := "# blelock configuration\n# Durations use Go syntax: 100ms, 5s, 10m.\n\n" + string(data)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
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
