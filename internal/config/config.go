package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Sender   string    `yaml:"sender"`
	LogLevel string    `yaml:"log_level"`
	BLE      BLEConfig `yaml:"ble"`
}

// BLEConfig holds link and session settings.
type BLEConfig struct {
	ScanDuration         time.Duration `yaml:"scan_duration"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"` // 0 = adapter default
	InterChunkDelay      time.Duration `yaml:"inter_chunk_delay"`
	ChunkSize            int           `yaml:"chunk_size"`
	ConnectPolicy        string        `yaml:"connect_policy"` // "reuse" or "reject"
	BroadcastConcurrency int           `yaml:"broadcast_concurrency"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blemsg")
}

// DefaultConfigPath returns the default config file path, or "" if the
// home directory is unknown.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Sender:   "blemsg",
		LogLevel: "info",
		BLE: BLEConfig{
			ScanDuration:         10 * time.Second,
			InterChunkDelay:      50 * time.Millisecond,
			ChunkSize:            20,
			ConnectPolicy:        "reuse",
			BroadcastConcurrency: 8,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
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
	if c.Sender == "" {
		return fmt.Errorf("sender must not be empty")
	}

	if c.BLE.ScanDuration <= 0 {
		return fmt.Errorf("ble.scan_duration must be > 0")
	}

	if c.BLE.ConnectTimeout < 0 {
		return fmt.Errorf("ble.connect_timeout must be >= 0")
	}

	if c.BLE.InterChunkDelay < 0 {
		return fmt.Errorf("ble.inter_chunk_delay must be >= 0")
	}

	if c.BLE.ChunkSize <= 0 {
		return fmt.Errorf("ble.chunk_size must be > 0")
	}

	switch c.BLE.ConnectPolicy {
	case "reuse", "reject":
	default:
		return fmt.Errorf("ble.connect_policy must be \"reuse\" or \"reject\", got %q", c.BLE.ConnectPolicy)
	}

	if c.BLE.BroadcastConcurrency < 0 {
		return fmt.Errorf("ble.broadcast_concurrency must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level string to a slog.Level, defaulting to info.
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

const defaultHeader = `# blemsg configuration
# Durations use Go syntax: 500ms, 10s, 1m.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" without touching anything if a file already
// exists there. It fails when the home directory cannot be determined.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if path == "" {
		return "", fmt.Errorf("cannot determine home directory for default config")
	}
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	data := append([]byte(defaultHeader), body...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
