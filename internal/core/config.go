package core

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire apiguard configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bus       BusConfig       `yaml:"bus"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Validator ValidatorConfig `yaml:"validator"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Session   SessionConfig   `yaml:"session"`
	Audit     AuditConfig     `yaml:"audit"`
	Headers   HeadersConfig   `yaml:"headers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the export/dashboard API server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// BusConfig holds NATS event bus settings. The bus is optional; verdict paths
// never depend on it.
type BusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
}

// AlertConfig holds alert pipeline settings.
type AlertConfig struct {
	MaxStore      int      `yaml:"max_store"`
	EnableConsole bool     `yaml:"enable_console"`
	WebhookURLs   []string `yaml:"webhook_urls"`
}

// ValidatorConfig holds input validator settings.
type ValidatorConfig struct {
	MaxInputLength int    `yaml:"max_input_length"`
	DecodeDepth    int    `yaml:"decode_depth"`
	BlockSeverity  string `yaml:"block_severity"`
}

// RateLimitConfig holds rate limiter settings.
type RateLimitConfig struct {
	WindowSize     time.Duration `yaml:"window_size"`
	Limit          int           `yaml:"limit"`
	MaxMultiplier  int           `yaml:"max_multiplier"`
	DecayFraction  float64       `yaml:"decay_fraction"`
	FailOpen       bool          `yaml:"fail_open"`
	MaxTrackedKeys int           `yaml:"max_tracked_keys"`
}

// SessionConfig holds session integrity settings.
type SessionConfig struct {
	MaxAge             time.Duration `yaml:"max_age"`
	MaxInactivity      time.Duration `yaml:"max_inactivity"`
	MaxPerUser         int           `yaml:"max_per_user"`
	MaxUsage           int           `yaml:"max_usage"`
	MaxTravelSpeedKmh  float64       `yaml:"max_travel_speed_kmh"`
	MaxTrackedSessions int           `yaml:"max_tracked_sessions"`
}

// AuditConfig holds audit store settings.
type AuditConfig struct {
	MaxEvents      int           `yaml:"max_events"`
	AnomalyWindow  time.Duration `yaml:"anomaly_window"`
	ArchiveEnabled bool          `yaml:"archive_enabled"`
	ArchivePath    string        `yaml:"archive_path"`
}

// HeadersConfig holds security response header settings.
type HeadersConfig struct {
	Enabled    bool `yaml:"enabled"`
	CSPNonce   bool `yaml:"csp_nonce"`
	HSTSMaxAge int  `yaml:"hsts_max_age"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults so zero-config works out
// of the box.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 7811,
		},
		Bus: BusConfig{
			Enabled:  false,
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4222,
		},
		Alerts: AlertConfig{
			MaxStore:      10000,
			EnableConsole: true,
		},
		Validator: ValidatorConfig{
			MaxInputLength: 100000,
			DecodeDepth:    3,
			BlockSeverity:  "high",
		},
		RateLimit: RateLimitConfig{
			WindowSize:     time.Minute,
			Limit:          100,
			MaxMultiplier:  16,
			DecayFraction:  0.5,
			FailOpen:       false,
			MaxTrackedKeys: 100000,
		},
		Session: SessionConfig{
			MaxAge:             24 * time.Hour,
			MaxInactivity:      30 * time.Minute,
			MaxPerUser:         5,
			MaxUsage:           10000,
			MaxTravelSpeedKmh:  900,
			MaxTrackedSessions: 100000,
		},
		Audit: AuditConfig{
			MaxEvents:     50000,
			AnomalyWindow: time.Minute,
		},
		Headers: HeadersConfig{
			Enabled:    true,
			CSPNonce:   true,
			HSTSMaxAge: 31536000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults
// when the path is empty or the file is absent.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Load API keys from environment if not set in config
	if len(cfg.Server.APIKeys) == 0 {
		if envKey := os.Getenv("APIGUARD_API_KEY"); envKey != "" {
			cfg.Server.APIKeys = []string{envKey}
		}
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// BlockSeverity returns the parsed severity at or above which a signature
// match forces a blocking verdict.
func (c *Config) BlockSeverity() Severity {
	return ParseSeverity(c.Validator.BlockSeverity)
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

// AuthEnabled returns true if API key authentication is configured.
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeys) > 0
}

// ValidateAPIKey checks if the provided key matches any configured API key.
// Uses constant-time comparison to prevent timing attacks.
func (c *Config) ValidateAPIKey(key string) bool {
	for _, valid := range c.Server.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
