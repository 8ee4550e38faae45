package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation constants
const (
	MinRefreshInterval = 60    // Minimum refresh interval in seconds
	MinPort            = 1     // Minimum valid port number
	MaxPort            = 65535 // Maximum valid port number
	MinWindowDays      = 1     // Minimum daily window length
	MaxWindowDays      = 90    // Partition pruning keeps queries cheap up to this

	// Default values
	DefaultTimezone        = "UTC"
	DefaultWindowDays      = 7
	DefaultRefreshInterval = 3600 // 1 hour in seconds
	DefaultHTTPPort        = 9091
	DefaultMetricsPath     = "/metrics"
	DefaultLogLevel        = "info"
	DefaultQueryTimeout    = 60 // BigQuery query timeout in seconds
	DefaultMaxRetries      = 3
)

// Config represents the application configuration
type Config struct {
	ProjectID        string `yaml:"project_id"`
	Dataset          string `yaml:"dataset"`
	BillingAccountID string `yaml:"billing_account_id"`
	CredentialsFile  string `yaml:"credentials_file"`
	Timezone         string `yaml:"timezone"` // report time zone for month and day boundaries
	RefreshInterval  int    `yaml:"refresh_interval"` // seconds
	WindowDays       int    `yaml:"window_days"` // trailing daily series length
	HTTPPort         int    `yaml:"http_port"`
	MetricsPath      string `yaml:"metrics_path"`
	LogLevel         string `yaml:"log_level"`
	QueryTimeout     int    `yaml:"query_timeout"` // seconds
	MaxRetries       int    `yaml:"max_retries"`

	location *time.Location
}

// Load loads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 -- Config file path is provided by administrator via CLI flag, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment variable error: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Location returns the parsed report time zone. Only valid after Load.
func (c *Config) Location() *time.Location {
	return c.location
}

// applyDefaults sets default values for configuration
func applyDefaults(cfg *Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.WindowDays == 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = DefaultMetricsPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("GCP_BILLING_PROJECT_ID"); val != "" {
		cfg.ProjectID = val
	}
	if val := os.Getenv("GCP_BILLING_DATASET"); val != "" {
		cfg.Dataset = val
	}
	if val := os.Getenv("GCP_BILLING_ACCOUNT_ID"); val != "" {
		cfg.BillingAccountID = val
	}
	if val := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); val != "" && cfg.CredentialsFile == "" {
		cfg.CredentialsFile = val
	}
	if val := os.Getenv("GCP_BILLING_TIMEZONE"); val != "" {
		cfg.Timezone = val
	}
	if val := os.Getenv("GCP_BILLING_LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := os.Getenv("GCP_BILLING_METRICS_PATH"); val != "" {
		cfg.MetricsPath = val
	}

	intOverrides := []struct {
		env string
		dst *int
	}{
		{"GCP_BILLING_REFRESH_INTERVAL", &cfg.RefreshInterval},
		{"GCP_BILLING_WINDOW_DAYS", &cfg.WindowDays},
		{"GCP_BILLING_HTTP_PORT", &cfg.HTTPPort},
		{"GCP_BILLING_QUERY_TIMEOUT", &cfg.QueryTimeout},
		{"GCP_BILLING_MAX_RETRIES", &cfg.MaxRetries},
	}
	for _, o := range intOverrides {
		if val := os.Getenv(o.env); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid %s: must be an integer, got %q", o.env, val)
			}
			*o.dst = i
		}
	}

	return nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if cfg.Dataset == "" {
		return fmt.Errorf("dataset is required")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.location = loc

	if cfg.RefreshInterval < MinRefreshInterval {
		return fmt.Errorf("refresh_interval must be at least %d seconds, got %d", MinRefreshInterval, cfg.RefreshInterval)
	}

	if cfg.WindowDays < MinWindowDays || cfg.WindowDays > MaxWindowDays {
		return fmt.Errorf("window_days must be between %d and %d, got %d", MinWindowDays, MaxWindowDays, cfg.WindowDays)
	}

	if cfg.HTTPPort < MinPort || cfg.HTTPPort > MaxPort {
		return fmt.Errorf("http_port must be between %d and %d", MinPort, MaxPort)
	}

	if !strings.HasPrefix(cfg.MetricsPath, "/") {
		return fmt.Errorf("metrics_path must start with /, got %q", cfg.MetricsPath)
	}

	if cfg.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive, got %d", cfg.QueryTimeout)
	}
	if cfg.QueryTimeout > 300 {
		return fmt.Errorf("query_timeout should not exceed 300 seconds (5 minutes), got %d", cfg.QueryTimeout)
	}

	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", cfg.MaxRetries)
	}

	return nil
}
