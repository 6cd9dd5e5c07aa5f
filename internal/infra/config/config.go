package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultProviderEndpoint is the hosted WhatsApp provider used by the API-key transport.
const DefaultProviderEndpoint = "https://adrika.aknexus.in/api/send"

// Config holds all application configuration.
type Config struct {
	// Logging
	LogLevel string `json:"log_level"`

	// Storage for the paired device keys and the dispatch log
	StorePath string `json:"store_path"`

	// Device name shown in WhatsApp's linked devices list
	DeviceName string `json:"device_name"`

	HTTP     HTTPConfig     `json:"http"`
	Provider ProviderConfig `json:"provider"`
	Session  SessionConfig  `json:"session"`
}

// HTTPConfig configures the gateway's HTTP listener.
type HTTPConfig struct {
	Addr            string `json:"addr"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// ProviderConfig holds the API-key transport deployment credentials.
type ProviderConfig struct {
	Endpoint    string `json:"endpoint"`
	InstanceID  string `json:"instance_id"`
	AccessToken string `json:"access_token"`
}

// SessionConfig configures the device-paired session transport.
type SessionConfig struct {
	Enabled     bool          `json:"enabled"`
	QRTimeoutMs int           `json:"qr_timeout_ms"`
	QRTimeout   time.Duration `json:"-"`
	QRSize      int           `json:"qr_size"` // rendered PNG edge in pixels
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultStore := filepath.Join(homeDir, ".dispatch-gateway", "store")

	return &Config{
		LogLevel:   "INFO",
		StorePath:  defaultStore,
		DeviceName: "Dispatch Gateway",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10,
		},
		Provider: ProviderConfig{
			Endpoint: DefaultProviderEndpoint,
		},
		Session: SessionConfig{
			Enabled:     true,
			QRTimeoutMs: 60000,
			QRTimeout:   60 * time.Second,
			QRSize:      256,
		},
	}
}

// LoadFromFile loads configuration from a JSON file over the defaults.
// A missing file yields the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.Session.QRTimeout = time.Duration(cfg.Session.QRTimeoutMs) * time.Millisecond
	return cfg, nil
}

// Load loads configuration from the optional JSON file, then applies
// DISPATCH_* environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		fileCfg, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if v := os.Getenv("DISPATCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DISPATCH_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("DISPATCH_DEVICE_NAME"); v != "" {
		cfg.DeviceName = v
	}
	if v := os.Getenv("DISPATCH_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("DISPATCH_PROVIDER_ENDPOINT"); v != "" {
		cfg.Provider.Endpoint = v
	}
	if v := os.Getenv("DISPATCH_PROVIDER_INSTANCE_ID"); v != "" {
		cfg.Provider.InstanceID = v
	}
	if v := os.Getenv("DISPATCH_PROVIDER_ACCESS_TOKEN"); v != "" {
		cfg.Provider.AccessToken = v
	}
	if v := os.Getenv("DISPATCH_SESSION_ENABLED"); v != "" {
		cfg.Session.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DISPATCH_QR_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_QR_TIMEOUT_MS %q: %w", v, err)
		}
		cfg.Session.QRTimeoutMs = ms
		cfg.Session.QRTimeout = time.Duration(ms) * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Provider.Endpoint == "" {
		return fmt.Errorf("provider endpoint is required")
	}
	if c.Session.QRTimeoutMs < 0 {
		return fmt.Errorf("session qr_timeout_ms must not be negative")
	}
	if c.Session.QRSize <= 0 {
		c.Session.QRSize = 256
	}
	return nil
}

// DBPath returns the sqlite database location inside StorePath.
func (c *Config) DBPath() string {
	return filepath.Join(c.StorePath, "dispatch.db")
}

// EnsureStorePath creates the store directory if it doesn't exist.
func (c *Config) EnsureStorePath() error {
	return os.MkdirAll(c.StorePath, 0755)
}
