// Package config provides configuration management for autotrack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultCaptureIntervalSec  = 60
	DefaultMetadataIntervalSec = 5
	DefaultAutoConfirm         = 85
	DefaultMinEntrySec         = 60

	DefaultImageHashSize      = 8
	DefaultImageHashThreshold = 5
	DefaultOCRSimilarity      = 0.8

	DefaultChangeModel     = "gpt-4o-mini"
	DefaultJudgmentModel   = "gpt-4o-mini"
	DefaultMonthlyBudget   = 5.0
	DefaultRequestTimeout  = 60
	DefaultRequestsPerMin  = 60
	DefaultMaxRetries      = 3
	DefaultAlertsPerHour   = 3
	DefaultUsageRetention  = 90
	DefaultNetworkCheckSec = 30
)

// Tracking holds the engine loop settings.
type Tracking struct {
	CaptureIntervalSec   int `yaml:"capture_interval_sec"`
	MetadataIntervalSec  int `yaml:"metadata_interval_sec"`
	AutoConfirmThreshold int `yaml:"auto_confirm_threshold"`
	MinEntryDurationSec  int `yaml:"min_entry_duration_sec"`
}

// Detector holds the change-detection cascade settings.
type Detector struct {
	EnableOCR          bool    `yaml:"enable_ocr"`
	EnableImageHash    bool    `yaml:"enable_image_hash"`
	EnableRuleMatching bool    `yaml:"enable_rule_matching"`
	EnableAIJudgment   bool    `yaml:"enable_ai_judgment"`
	ImageHashSize      int     `yaml:"image_hash_size"`
	ImageHashThreshold int     `yaml:"image_hash_threshold"`
	OCRSimilarity      float64 `yaml:"ocr_similarity_threshold"`
}

// AI holds the reasoning-service settings. The API key is taken from the
// environment, never from the settings file.
type AI struct {
	APIKey            string  `yaml:"-"`
	ChangeModel       string  `yaml:"change_model"`
	JudgmentModel     string  `yaml:"judgment_model"`
	MonthlyBudget     float64 `yaml:"monthly_budget"`
	RequestTimeoutSec int     `yaml:"request_timeout_sec"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	MaxRetries        int     `yaml:"max_retries"`
}

// Notifications holds system alert settings.
type Notifications struct {
	MaxAlertsPerHour int `yaml:"max_alerts_per_hour"`
}

// Privacy holds password-screen suppression settings.
type Privacy struct {
	PasswordDetection bool     `yaml:"password_detection"`
	ExcludeKeywords   []string `yaml:"exclude_keywords"`
}

// Config is the full daemon configuration.
type Config struct {
	Tracking            Tracking      `yaml:"tracking"`
	Detector            Detector      `yaml:"detector"`
	AI                  AI            `yaml:"ai"`
	Notifications       Notifications `yaml:"notifications"`
	Privacy             Privacy       `yaml:"privacy"`
	UsageRetentionDays  int           `yaml:"usage_retention_days"`
	NetworkCheckSec     int           `yaml:"network_check_sec"`
	DBPathOverride      string        `yaml:"db_path,omitempty"`
	MaxConns            int           `yaml:"max_conns"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Tracking: Tracking{
			CaptureIntervalSec:   DefaultCaptureIntervalSec,
			MetadataIntervalSec:  DefaultMetadataIntervalSec,
			AutoConfirmThreshold: DefaultAutoConfirm,
			MinEntryDurationSec:  DefaultMinEntrySec,
		},
		Detector: Detector{
			EnableOCR:          true,
			EnableImageHash:    true,
			EnableRuleMatching: true,
			EnableAIJudgment:   true,
			ImageHashSize:      DefaultImageHashSize,
			ImageHashThreshold: DefaultImageHashThreshold,
			OCRSimilarity:      DefaultOCRSimilarity,
		},
		AI: AI{
			APIKey:            os.Getenv("AUTOTRACK_API_KEY"),
			ChangeModel:       DefaultChangeModel,
			JudgmentModel:     DefaultJudgmentModel,
			MonthlyBudget:     DefaultMonthlyBudget,
			RequestTimeoutSec: DefaultRequestTimeout,
			RequestsPerMinute: DefaultRequestsPerMin,
			MaxRetries:        DefaultMaxRetries,
		},
		Notifications: Notifications{
			MaxAlertsPerHour: DefaultAlertsPerHour,
		},
		Privacy: Privacy{
			PasswordDetection: true,
			ExcludeKeywords:   []string{"password", "secret", "private", "confidential"},
		},
		UsageRetentionDays: DefaultUsageRetention,
		NetworkCheckSec:    DefaultNetworkCheckSec,
		MaxConns:           4,
	}
}

// DataDir returns the autotrack data directory (~/.autotrack).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".autotrack")
}

// DBPath returns the SQLite database path for the given config.
func (c *Config) DBPath() string {
	if c.DBPathOverride != "" {
		return c.DBPathOverride
	}
	return filepath.Join(DataDir(), "autotrack.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// Load reads configuration from the settings file, layering file values
// over defaults and environment overrides over both. A missing file is not
// an error; defaults are returned.
func Load() (*Config, error) {
	return LoadFile(SettingsPath())
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	cfg.APIKeyFromEnv()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the settings file.
func (c *Config) Save() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(SettingsPath(), data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// APIKeyFromEnv refreshes the API key from the environment.
func (c *Config) APIKeyFromEnv() {
	c.AI.APIKey = os.Getenv("AUTOTRACK_API_KEY")
}

// applyEnv applies AUTOTRACK_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("AUTOTRACK_DB_PATH"); v != "" {
		c.DBPathOverride = v
	}
	if v := os.Getenv("AUTOTRACK_MONTHLY_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.AI.MonthlyBudget = f
		}
	}
	if v := os.Getenv("AUTOTRACK_CAPTURE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Tracking.CaptureIntervalSec = n
		}
	}
	if v := os.Getenv("AUTOTRACK_METADATA_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Tracking.MetadataIntervalSec = n
		}
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Tracking.CaptureIntervalSec <= 0 {
		return fmt.Errorf("capture_interval_sec must be positive, got %d", c.Tracking.CaptureIntervalSec)
	}
	if c.Tracking.MetadataIntervalSec <= 0 {
		return fmt.Errorf("metadata_interval_sec must be positive, got %d", c.Tracking.MetadataIntervalSec)
	}
	if c.Tracking.AutoConfirmThreshold < 0 || c.Tracking.AutoConfirmThreshold > 100 {
		return fmt.Errorf("auto_confirm_threshold must be 0-100, got %d", c.Tracking.AutoConfirmThreshold)
	}
	if c.AI.MonthlyBudget < 0 {
		return fmt.Errorf("monthly_budget must not be negative, got %v", c.AI.MonthlyBudget)
	}
	if c.AI.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive, got %d", c.AI.RequestsPerMinute)
	}
	if c.Detector.ImageHashSize <= 0 {
		return fmt.Errorf("image_hash_size must be positive, got %d", c.Detector.ImageHashSize)
	}
	if c.Detector.OCRSimilarity <= 0 || c.Detector.OCRSimilarity > 1 {
		return fmt.Errorf("ocr_similarity_threshold must be in (0,1], got %v", c.Detector.OCRSimilarity)
	}
	return nil
}

// CaptureInterval returns the capture loop period.
func (c *Config) CaptureInterval() time.Duration {
	return time.Duration(c.Tracking.CaptureIntervalSec) * time.Second
}

// MetadataInterval returns the metadata loop period.
func (c *Config) MetadataInterval() time.Duration {
	return time.Duration(c.Tracking.MetadataIntervalSec) * time.Second
}

// MinEntryDuration returns the minimum duration below which entries are
// discarded as noise.
func (c *Config) MinEntryDuration() time.Duration {
	return time.Duration(c.Tracking.MinEntryDurationSec) * time.Second
}

// RequestTimeout returns the per-request timeout for reasoning calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.AI.RequestTimeoutSec) * time.Second
}

// NetworkCheckInterval returns the connectivity probe period.
func (c *Config) NetworkCheckInterval() time.Duration {
	return time.Duration(c.NetworkCheckSec) * time.Second
}
