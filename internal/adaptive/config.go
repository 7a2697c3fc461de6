// Package adaptive learns the installation's background levels and tunes
// alarm thresholds within a fixed band around the factory values.
package adaptive

import (
	"fmt"
	"time"
)

// MaxAdjustment is the absolute bound on how far an adapted threshold may
// move from its standard value.
const MaxAdjustment = 0.30

// Config controls the adaptive system
type Config struct {
	Enabled                  bool            `yaml:"enabled" json:"enabled"`
	MinLearningDays          float64         `yaml:"min_learning_days" json:"min_learning_days"`
	FullLearningDays         float64         `yaml:"full_learning_days" json:"full_learning_days"`
	UpdateIntervalHours      float64         `yaml:"update_interval_hours" json:"update_interval_hours"`
	MaxAdjustmentPercent     float64         `yaml:"max_adjustment_percent" json:"max_adjustment_percent"`
	MinConfidence            float64         `yaml:"min_confidence" json:"min_confidence"`
	RequireValidation        bool            `yaml:"require_validation" json:"require_validation"`
	AutoRollbackOnAlarmSpike bool            `yaml:"auto_rollback_on_alarm_spike" json:"auto_rollback_on_alarm_spike"`
	AlarmSpikeThreshold      float64         `yaml:"alarm_spike_threshold" json:"alarm_spike_threshold"`
	EnvironmentType          EnvironmentType `yaml:"environment_type" json:"environment_type"`
	ExcludeHours             []int           `yaml:"exclude_hours" json:"exclude_hours"`

	// ReservoirSeed seeds percentile sampling; 0 picks a random seed
	ReservoirSeed uint64 `yaml:"reservoir_seed" json:"reservoir_seed"`
	// SpikeWindow is the alarm counting window for auto-rollback
	SpikeWindow time.Duration `yaml:"spike_window" json:"spike_window"`
	// SpikeMinAlarms is the fewest alarms in a window that can count as a spike
	SpikeMinAlarms int `yaml:"spike_min_alarms" json:"spike_min_alarms"`
}

// DefaultConfig returns the factory adaptive configuration
func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		MinLearningDays:          7,
		FullLearningDays:         30,
		UpdateIntervalHours:      6,
		MaxAdjustmentPercent:     30,
		MinConfidence:            0.7,
		RequireValidation:        true,
		AutoRollbackOnAlarmSpike: true,
		AlarmSpikeThreshold:      2.0,
		EnvironmentType:          EnvAuto,
		SpikeWindow:              time.Hour,
		SpikeMinAlarms:           5,
	}
}

// UpdateInterval returns UpdateIntervalHours as a duration
func (c Config) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalHours * float64(time.Hour))
}

// Adjustment returns the clamp fraction, never above MaxAdjustment
func (c Config) Adjustment() float64 {
	a := c.MaxAdjustmentPercent / 100
	if a <= 0 || a > MaxAdjustment {
		return MaxAdjustment
	}
	return a
}

// Validate checks the configuration for values the system cannot run with
func (c Config) Validate() error {
	if c.MinLearningDays < 0 || c.FullLearningDays < c.MinLearningDays {
		return fmt.Errorf("invalid learning days: min %.1f, full %.1f", c.MinLearningDays, c.FullLearningDays)
	}
	if c.UpdateIntervalHours <= 0 {
		return fmt.Errorf("update_interval_hours must be positive")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1]")
	}
	if c.AlarmSpikeThreshold <= 0 {
		return fmt.Errorf("alarm_spike_threshold must be positive")
	}
	if _, err := ParseEnvironmentType(string(c.EnvironmentType)); err != nil {
		return err
	}
	for _, h := range c.ExcludeHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("exclude_hours entry %d out of range 0-23", h)
		}
	}
	return nil
}

func (c Config) excluded(hour int) bool {
	for _, h := range c.ExcludeHours {
		if h == hour {
			return true
		}
	}
	return false
}
