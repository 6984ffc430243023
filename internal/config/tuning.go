// Package config loads the JSON tuning file for the tripwire process.
// Fields are pointers so a partial file only overrides what it names;
// the Get* accessors supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/tripwire/internal/tripwire"
	"github.com/banshee-data/tripwire/internal/units"
)

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/config endpoint so the same JSON can be used
// for both startup configuration and runtime updates.
type TuningConfig struct {
	// Tripwire params
	DistanceThreshold       *int64  `json:"distance_threshold,omitempty"`
	MinBaselineReads        *int    `json:"min_baseline_reads,omitempty"`
	MaxBaselineReads        *int    `json:"max_baseline_reads,omitempty"`
	MaxBaselineVariance     *int64  `json:"max_baseline_variance,omitempty"`
	BaselineReadInterval    *string `json:"baseline_read_interval,omitempty"` // duration string like "100ms"
	MinSuccessiveDetections *int    `json:"min_successive_detections,omitempty"`

	// Driver params
	PollInterval *string `json:"poll_interval,omitempty"` // duration string like "50ms"

	// Display params
	SensorUnits  *string `json:"sensor_units,omitempty"`  // unit of raw sensor readings
	DisplayUnits *string `json:"display_units,omitempty"` // unit used by the API layer

	// Serial port params
	SerialBaudRate *int    `json:"serial_baud_rate,omitempty"`
	SerialDataBits *int    `json:"serial_data_bits,omitempty"`
	SerialStopBits *int    `json:"serial_stop_bits,omitempty"`
	SerialParity   *string `json:"serial_parity,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have
// a .json extension and stay under the max file size. Fields omitted from
// the JSON retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.DistanceThreshold != nil && *c.DistanceThreshold < 1 {
		return fmt.Errorf("distance_threshold must be positive, got %d", *c.DistanceThreshold)
	}
	if c.MinBaselineReads != nil && *c.MinBaselineReads < 1 {
		return fmt.Errorf("min_baseline_reads must be at least 1, got %d", *c.MinBaselineReads)
	}
	if c.MaxBaselineReads != nil && *c.MaxBaselineReads < 1 {
		return fmt.Errorf("max_baseline_reads must be at least 1, got %d", *c.MaxBaselineReads)
	}
	if c.MinBaselineReads != nil && c.MaxBaselineReads != nil &&
		*c.MinBaselineReads > *c.MaxBaselineReads {
		return fmt.Errorf("min_baseline_reads (%d) exceeds max_baseline_reads (%d)",
			*c.MinBaselineReads, *c.MaxBaselineReads)
	}
	if c.MinSuccessiveDetections != nil && *c.MinSuccessiveDetections < 0 {
		return fmt.Errorf("min_successive_detections must be non-negative, got %d", *c.MinSuccessiveDetections)
	}

	if c.BaselineReadInterval != nil && *c.BaselineReadInterval != "" {
		if _, err := time.ParseDuration(*c.BaselineReadInterval); err != nil {
			return fmt.Errorf("invalid baseline_read_interval '%s': %w", *c.BaselineReadInterval, err)
		}
	}
	if c.PollInterval != nil && *c.PollInterval != "" {
		if _, err := time.ParseDuration(*c.PollInterval); err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *c.PollInterval, err)
		}
	}

	if c.SensorUnits != nil && !units.IsValid(*c.SensorUnits) {
		return fmt.Errorf("invalid sensor_units %q: expected one of %s", *c.SensorUnits, units.GetValidUnitsString())
	}
	if c.DisplayUnits != nil && !units.IsValid(*c.DisplayUnits) {
		return fmt.Errorf("invalid display_units %q: expected one of %s", *c.DisplayUnits, units.GetValidUnitsString())
	}

	return nil
}

// GetDistanceThreshold returns the distance_threshold value or the default.
func (c *TuningConfig) GetDistanceThreshold() int64 {
	if c.DistanceThreshold == nil {
		return tripwire.DefaultDistanceThreshold
	}
	return *c.DistanceThreshold
}

// GetMinBaselineReads returns the min_baseline_reads value or the default.
func (c *TuningConfig) GetMinBaselineReads() int {
	if c.MinBaselineReads == nil {
		return tripwire.DefaultMinBaselineReads
	}
	return *c.MinBaselineReads
}

// GetMaxBaselineReads returns the max_baseline_reads value or the default.
func (c *TuningConfig) GetMaxBaselineReads() int {
	if c.MaxBaselineReads == nil {
		return tripwire.DefaultMaxBaselineReads
	}
	return *c.MaxBaselineReads
}

// GetMaxBaselineVariance returns the max_baseline_variance value or the default.
func (c *TuningConfig) GetMaxBaselineVariance() int64 {
	if c.MaxBaselineVariance == nil {
		return tripwire.DefaultMaxBaselineVariance
	}
	return *c.MaxBaselineVariance
}

// GetBaselineReadInterval parses and returns the baseline_read_interval.
func (c *TuningConfig) GetBaselineReadInterval() time.Duration {
	if c.BaselineReadInterval == nil || *c.BaselineReadInterval == "" {
		return tripwire.DefaultBaselineReadInterval
	}
	d, err := time.ParseDuration(*c.BaselineReadInterval)
	if err != nil {
		return tripwire.DefaultBaselineReadInterval
	}
	return d
}

// GetMinSuccessiveDetections returns the min_successive_detections value or the default.
func (c *TuningConfig) GetMinSuccessiveDetections() int {
	if c.MinSuccessiveDetections == nil {
		return tripwire.DefaultMinSuccessiveDetections
	}
	return *c.MinSuccessiveDetections
}

// GetPollInterval parses and returns the poll_interval.
func (c *TuningConfig) GetPollInterval() time.Duration {
	if c.PollInterval == nil || *c.PollInterval == "" {
		return 50 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.PollInterval)
	if err != nil {
		return 50 * time.Millisecond // default on parse error
	}
	return d
}

// GetSensorUnits returns the sensor_units value or the default.
func (c *TuningConfig) GetSensorUnits() string {
	if c.SensorUnits == nil {
		return units.CM
	}
	return *c.SensorUnits
}

// GetDisplayUnits returns the display_units value or the default.
func (c *TuningConfig) GetDisplayUnits() string {
	if c.DisplayUnits == nil {
		return units.CM
	}
	return *c.DisplayUnits
}

// GetSerialBaudRate returns the serial_baud_rate value or the default.
func (c *TuningConfig) GetSerialBaudRate() int {
	if c.SerialBaudRate == nil {
		return 9600
	}
	return *c.SerialBaudRate
}

// Apply copies the tuning values onto a tripwire. Changes take effect on the
// next calibration or update.
func (c *TuningConfig) Apply(tw *tripwire.Tripwire) {
	tw.DistanceThreshold = c.GetDistanceThreshold()
	tw.MinBaselineReads = c.GetMinBaselineReads()
	tw.MaxBaselineReads = c.GetMaxBaselineReads()
	tw.MaxBaselineVariance = c.GetMaxBaselineVariance()
	tw.BaselineReadInterval = c.GetBaselineReadInterval()
	tw.MinSuccessiveDetections = c.GetMinSuccessiveDetections()
}
