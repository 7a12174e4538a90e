// Package config loads vfrnav configuration.
//
// Precedence (lowest to highest): DefaultConfig, the JSON config file,
// VFRNAV_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// Config is the root configuration for the bridge server and CLI.
type Config struct {
	Bridge  BridgeConfig  `json:"bridge" envPrefix:"BRIDGE_"`
	Storage StorageConfig `json:"storage" envPrefix:"STORAGE_"`
	Schemas SchemaConfig  `json:"schemas" envPrefix:"SCHEMAS_"`
	Popup   PopupConfig   `json:"popup" envPrefix:"POPUP_"`
	Metar   MetarConfig   `json:"metar" envPrefix:"METAR_"`
	Logging LoggingConfig `json:"logging" envPrefix:"LOG_"`

	mu sync.RWMutex
}

// BridgeConfig controls the WebSocket listener EFB panels connect to.
type BridgeConfig struct {
	Host           string   `json:"host" env:"HOST"`
	Port           int      `json:"port" env:"PORT"`
	AllowedOrigins []string `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	// ReadLimit caps a single inbound frame in bytes.
	ReadLimit int64 `json:"read_limit" env:"READ_LIMIT"`
	// APIKey, when set, is required on every request but the health check.
	APIKey string `json:"api_key,omitempty" env:"API_KEY"`
}

type StorageConfig struct {
	Dir       string `json:"dir" env:"DIR"`
	RecordsDB string `json:"records_db" env:"RECORDS_DB"`
}

type SchemaConfig struct {
	// Dir holds *.yaml schema overrides keyed by message id.
	Dir string `json:"dir" env:"DIR"`
	// Watch reloads the table when files in Dir change.
	Watch bool `json:"watch" env:"WATCH"`
}

type PopupConfig struct {
	WatchBuffer int `json:"watch_buffer" env:"WATCH_BUFFER"`
	// NoticeTTLSeconds closes panel connect and disconnect notices after
	// this long. Zero keeps them until closed by hand.
	NoticeTTLSeconds int `json:"notice_ttl_seconds" env:"NOTICE_TTL_SECONDS"`
}

// MetarConfig drives the periodic GetMetar broadcast.
type MetarConfig struct {
	Enabled  bool     `json:"enabled" env:"ENABLED"`
	Schedule string   `json:"schedule" env:"SCHEDULE"`
	Airports []string `json:"airports" env:"AIRPORTS" envSeparator:","`
}

type LoggingConfig struct {
	Level string `json:"level" env:"LEVEL"`
	JSON  bool   `json:"json" env:"JSON"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	home := os.Getenv("HOME")
	dir := filepath.Join(home, ".vfrnav")
	return &Config{
		Bridge: BridgeConfig{
			Host:      "127.0.0.1",
			Port:      48578,
			ReadLimit: 1 << 20,
		},
		Storage: StorageConfig{
			Dir:       filepath.Join(dir, "data"),
			RecordsDB: filepath.Join(dir, "data", "records.db"),
		},
		Schemas: SchemaConfig{
			Dir:   filepath.Join(dir, "schemas"),
			Watch: true,
		},
		Popup: PopupConfig{
			WatchBuffer:      64,
			NoticeTTLSeconds: 10,
		},
		Metar: MetarConfig{
			Enabled:  false,
			Schedule: "*/10 * * * *",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".vfrnav", "config.json")
}

// LoadConfig reads path (missing file is not an error) and applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "VFRNAV_"}); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port %d out of range", c.Bridge.Port)
	}
	if c.Popup.WatchBuffer < 0 {
		return fmt.Errorf("popup.watch_buffer must not be negative")
	}
	if c.Popup.NoticeTTLSeconds < 0 {
		return fmt.Errorf("popup.notice_ttl_seconds must not be negative")
	}
	if c.Metar.Enabled && strings.TrimSpace(c.Metar.Schedule) == "" {
		return fmt.Errorf("metar.schedule required when metar.enabled")
	}
	return nil
}

// SaveConfig writes cfg as indented JSON, creating the parent directory.
func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ListenAddr returns host:port for the bridge listener.
func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Bridge.Host, c.Bridge.Port)
}

// OriginAllowed reports whether a WebSocket Origin may connect. Same-origin
// requests carry no Origin header; localhost is always accepted.
func (c *Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1", "coui://"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, allowed := range c.Bridge.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
