// Package config provides configuration management for autotrack.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)

	// Save and override HOME
	s.origHomeDir = os.Getenv("HOME")
	os.Setenv("HOME", s.tempDir)
	os.Unsetenv("AUTOTRACK_API_KEY")
	os.Unsetenv("AUTOTRACK_MONTHLY_BUDGET")
	os.Unsetenv("AUTOTRACK_DB_PATH")
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultCaptureIntervalSec, cfg.Tracking.CaptureIntervalSec)
	s.Equal(DefaultMetadataIntervalSec, cfg.Tracking.MetadataIntervalSec)
	s.Equal(DefaultAutoConfirm, cfg.Tracking.AutoConfirmThreshold)
	s.Equal(DefaultMinEntrySec, cfg.Tracking.MinEntryDurationSec)
	s.True(cfg.Detector.EnableOCR)
	s.True(cfg.Detector.EnableImageHash)
	s.True(cfg.Detector.EnableRuleMatching)
	s.True(cfg.Detector.EnableAIJudgment)
	s.Equal(DefaultImageHashSize, cfg.Detector.ImageHashSize)
	s.Equal(DefaultImageHashThreshold, cfg.Detector.ImageHashThreshold)
	s.Equal(DefaultChangeModel, cfg.AI.ChangeModel)
	s.InDelta(DefaultMonthlyBudget, cfg.AI.MonthlyBudget, 1e-9)
	s.Equal(DefaultRequestsPerMin, cfg.AI.RequestsPerMinute)
	s.Equal(4, cfg.MaxConns)
}

// TestDataDir tests data directory path.
func (s *ConfigSuite) TestDataDir() {
	s.Contains(DataDir(), ".autotrack")
}

// TestDBPath tests database path derivation and override.
func (s *ConfigSuite) TestDBPath() {
	cfg := Default()
	s.Contains(cfg.DBPath(), "autotrack.db")

	cfg.DBPathOverride = "/tmp/other.db"
	s.Equal("/tmp/other.db", cfg.DBPath())
}

// TestLoadMissingFile tests that a missing settings file yields defaults.
func (s *ConfigSuite) TestLoadMissingFile() {
	cfg, err := Load()
	s.NoError(err)
	s.Equal(Default().Tracking, cfg.Tracking)
}

// TestLoadFile tests loading values from a settings file.
func (s *ConfigSuite) TestLoadFile() {
	path := filepath.Join(s.tempDir, "settings.yaml")
	data := []byte("tracking:\n  capture_interval_sec: 120\n  metadata_interval_sec: 10\n  auto_confirm_threshold: 70\n  min_entry_duration_sec: 30\nai:\n  monthly_budget: 2.5\n")
	s.Require().NoError(os.WriteFile(path, data, 0o600))

	cfg, err := LoadFile(path)
	s.Require().NoError(err)
	s.Equal(120, cfg.Tracking.CaptureIntervalSec)
	s.Equal(10, cfg.Tracking.MetadataIntervalSec)
	s.Equal(70, cfg.Tracking.AutoConfirmThreshold)
	s.InDelta(2.5, cfg.AI.MonthlyBudget, 1e-9)
	// Untouched sections keep defaults
	s.True(cfg.Detector.EnableRuleMatching)
}

// TestLoadInvalid tests that invalid settings are rejected.
func (s *ConfigSuite) TestLoadInvalid() {
	path := filepath.Join(s.tempDir, "settings.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("tracking:\n  capture_interval_sec: 0\n"), 0o600))

	_, err := LoadFile(path)
	s.Error(err)
}

// TestEnvOverrides tests AUTOTRACK_* environment overrides.
func (s *ConfigSuite) TestEnvOverrides() {
	os.Setenv("AUTOTRACK_MONTHLY_BUDGET", "1.25")
	os.Setenv("AUTOTRACK_DB_PATH", "/tmp/env.db")
	defer os.Unsetenv("AUTOTRACK_MONTHLY_BUDGET")
	defer os.Unsetenv("AUTOTRACK_DB_PATH")

	cfg, err := Load()
	s.Require().NoError(err)
	s.InDelta(1.25, cfg.AI.MonthlyBudget, 1e-9)
	s.Equal("/tmp/env.db", cfg.DBPath())
}

// TestSaveRoundTrip tests writing and reloading the settings file.
func (s *ConfigSuite) TestSaveRoundTrip() {
	cfg := Default()
	cfg.Tracking.CaptureIntervalSec = 90
	s.Require().NoError(cfg.Save())

	loaded, err := Load()
	s.Require().NoError(err)
	s.Equal(90, loaded.Tracking.CaptureIntervalSec)
}

// TestIntervalHelpers tests duration conversion helpers.
func (s *ConfigSuite) TestIntervalHelpers() {
	cfg := Default()
	s.Equal(int64(60), int64(cfg.CaptureInterval().Seconds()))
	s.Equal(int64(5), int64(cfg.MetadataInterval().Seconds()))
	s.Equal(int64(60), int64(cfg.MinEntryDuration().Seconds()))
}
