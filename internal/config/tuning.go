package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Selection scoring rule names accepted by selection_scoring.
const (
	ScoringMostRecent        = "most_recent"
	ScoringMostConnected     = "most_connected"
	ScoringHighestConfidence = "highest_confidence"
)

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; the Get* accessors supply defaults so partial
// files are safe.
type TuningConfig struct {
	// Neighborhood graph params
	MaxComponents    *int    `json:"max_components,omitempty"`
	MaxTimestampGap  *string `json:"max_timestamp_gap,omitempty"` // duration string like "500ms"
	AgingWindow      *string `json:"aging_window,omitempty"`      // duration string like "1s"
	RetentionWindow  *string `json:"retention_window,omitempty"`  // duration string like "10s"
	SelectionScoring *string `json:"selection_scoring,omitempty"`

	// Kinematic gate params
	MaxSpeedMps         *float64 `json:"max_speed_mps,omitempty"`
	MaxLateralSpeedMps  *float64 `json:"max_lateral_speed_mps,omitempty"`
	MaxYawRateRadPerSec *float64 `json:"max_yaw_rate_rad_per_sec,omitempty"`
	HeadingToleranceRad *float64 `json:"heading_tolerance_rad,omitempty"`
	PositionNoiseM      *float64 `json:"position_noise_m,omitempty"`
	GateChi2            *float64 `json:"gate_chi2,omitempty"`
	MaxDimensionRatio   *float64 `json:"max_dimension_ratio,omitempty"`

	// Service params
	PublisherListen     *string `json:"publisher_listen,omitempty"`
	PublisherMaxClients *int    `json:"publisher_max_clients,omitempty"`
	MonitorListen       *string `json:"monitor_listen,omitempty"`
	DBPath              *string `json:"db_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the built-in defaults. Useful for tests and for writing a fresh defaults file.
func DefaultTuningConfig() *TuningConfig {
	empty := EmptyTuningConfig()
	return &TuningConfig{
		MaxComponents:       ptrInt(empty.GetMaxComponents()),
		MaxTimestampGap:     ptrString(empty.GetMaxTimestampGap().String()),
		AgingWindow:         ptrString(empty.GetAgingWindow().String()),
		RetentionWindow:     ptrString(empty.GetRetentionWindow().String()),
		SelectionScoring:    ptrString(empty.GetSelectionScoring()),
		MaxSpeedMps:         ptrFloat64(empty.GetMaxSpeedMps()),
		MaxLateralSpeedMps:  ptrFloat64(empty.GetMaxLateralSpeedMps()),
		MaxYawRateRadPerSec: ptrFloat64(empty.GetMaxYawRateRadPerSec()),
		HeadingToleranceRad: ptrFloat64(empty.GetHeadingToleranceRad()),
		PositionNoiseM:      ptrFloat64(empty.GetPositionNoiseM()),
		GateChi2:            ptrFloat64(empty.GetGateChi2()),
		MaxDimensionRatio:   ptrFloat64(empty.GetMaxDimensionRatio()),
		PublisherListen:     ptrString(empty.GetPublisherListen()),
		PublisherMaxClients: ptrInt(empty.GetPublisherMaxClients()),
		MonitorListen:       ptrString(empty.GetMonitorListen()),
		DBPath:              ptrString(empty.GetDBPath()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/lidar/l5tracks/
		"../../../../" + DefaultConfigPath,    // deeper packages
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MaxComponents != nil && *c.MaxComponents <= 0 {
		return fmt.Errorf("max_components must be positive, got %d", *c.MaxComponents)
	}

	durations := []struct {
		name string
		val  *string
	}{
		{"max_timestamp_gap", c.MaxTimestampGap},
		{"aging_window", c.AgingWindow},
		{"retention_window", c.RetentionWindow},
	}
	for _, d := range durations {
		if d.val == nil || *d.val == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.val, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, *d.val)
		}
	}

	if c.SelectionScoring != nil {
		switch *c.SelectionScoring {
		case ScoringMostRecent, ScoringMostConnected, ScoringHighestConfidence:
		default:
			return fmt.Errorf("unknown selection_scoring %q", *c.SelectionScoring)
		}
	}

	positives := []struct {
		name string
		val  *float64
	}{
		{"max_speed_mps", c.MaxSpeedMps},
		{"gate_chi2", c.GateChi2},
	}
	for _, p := range positives {
		if p.val != nil && *p.val <= 0 {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.val)
		}
	}

	if c.MaxDimensionRatio != nil && *c.MaxDimensionRatio < 1 {
		return fmt.Errorf("max_dimension_ratio must be >= 1, got %f", *c.MaxDimensionRatio)
	}

	if c.PublisherMaxClients != nil && *c.PublisherMaxClients < 0 {
		return fmt.Errorf("publisher_max_clients must be non-negative, got %d", *c.PublisherMaxClients)
	}

	return nil
}

// parseDurationOr parses s and falls back to def when s is nil, empty or invalid.
func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetMaxComponents returns the max_components value or the default.
func (c *TuningConfig) GetMaxComponents() int {
	if c.MaxComponents == nil {
		return 64
	}
	return *c.MaxComponents
}

// GetMaxTimestampGap returns the compatibility window as a time.Duration.
func (c *TuningConfig) GetMaxTimestampGap() time.Duration {
	return parseDurationOr(c.MaxTimestampGap, 500*time.Millisecond)
}

// GetAgingWindow returns how long an unextended node survives.
func (c *TuningConfig) GetAgingWindow() time.Duration {
	return parseDurationOr(c.AgingWindow, time.Second)
}

// GetRetentionWindow returns the hard history horizon. Zero disables it.
func (c *TuningConfig) GetRetentionWindow() time.Duration {
	return parseDurationOr(c.RetentionWindow, 10*time.Second)
}

// GetSelectionScoring returns the selection_scoring rule or the default.
func (c *TuningConfig) GetSelectionScoring() string {
	if c.SelectionScoring == nil || *c.SelectionScoring == "" {
		return ScoringMostRecent
	}
	return *c.SelectionScoring
}

// GetMaxSpeedMps returns the max_speed_mps value or the default.
func (c *TuningConfig) GetMaxSpeedMps() float64 {
	if c.MaxSpeedMps == nil {
		return 30.0 // ~108 km/h
	}
	return *c.MaxSpeedMps
}

// GetMaxLateralSpeedMps returns the max_lateral_speed_mps value or the default.
func (c *TuningConfig) GetMaxLateralSpeedMps() float64 {
	if c.MaxLateralSpeedMps == nil {
		return 3.0
	}
	return *c.MaxLateralSpeedMps
}

// GetMaxYawRateRadPerSec returns the max_yaw_rate_rad_per_sec value or the default.
func (c *TuningConfig) GetMaxYawRateRadPerSec() float64 {
	if c.MaxYawRateRadPerSec == nil {
		return 1.0
	}
	return *c.MaxYawRateRadPerSec
}

// GetHeadingToleranceRad returns the heading_tolerance_rad value or the default.
func (c *TuningConfig) GetHeadingToleranceRad() float64 {
	if c.HeadingToleranceRad == nil {
		return 0.35 // ~20°
	}
	return *c.HeadingToleranceRad
}

// GetPositionNoiseM returns the position_noise_m value or the default.
func (c *TuningConfig) GetPositionNoiseM() float64 {
	if c.PositionNoiseM == nil {
		return 0.3
	}
	return *c.PositionNoiseM
}

// GetGateChi2 returns the gate_chi2 value or the default.
func (c *TuningConfig) GetGateChi2() float64 {
	if c.GateChi2 == nil {
		return 9.21 // 99% for 2 DOF
	}
	return *c.GateChi2
}

// GetMaxDimensionRatio returns the max_dimension_ratio value or the default.
func (c *TuningConfig) GetMaxDimensionRatio() float64 {
	if c.MaxDimensionRatio == nil {
		return 2.0
	}
	return *c.MaxDimensionRatio
}

// GetPublisherListen returns the gRPC listen address or the default.
func (c *TuningConfig) GetPublisherListen() string {
	if c.PublisherListen == nil || *c.PublisherListen == "" {
		return "localhost:50051"
	}
	return *c.PublisherListen
}

// GetPublisherMaxClients returns the publisher_max_clients value or the default.
func (c *TuningConfig) GetPublisherMaxClients() int {
	if c.PublisherMaxClients == nil {
		return 5
	}
	return *c.PublisherMaxClients
}

// GetMonitorListen returns the HTTP monitor listen address or the default.
func (c *TuningConfig) GetMonitorListen() string {
	if c.MonitorListen == nil || *c.MonitorListen == "" {
		return ":8081"
	}
	return *c.MonitorListen
}

// GetDBPath returns the SQLite database path or the default.
func (c *TuningConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "hypgraph.db"
	}
	return *c.DBPath
}
