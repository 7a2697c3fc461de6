package config

import (
	"fmt"
	"time"

	"github.com/afroash/fire-monitor/internal/detector"
	"github.com/afroash/fire-monitor/internal/engine"
	"github.com/afroash/fire-monitor/internal/fusion"
	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/storage"
)

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	AuthToken       string        `yaml:"auth_token"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Addr returns host:port for http.Server
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageSettings sizes the in-memory result history
type StorageSettings struct {
	BufferSize int `yaml:"buffer_size"` // results kept per sensor
}

// DatabaseSettings controls the SQLite store and its background workers
type DatabaseSettings struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// WriterConfig returns the event writer settings
func (d DatabaseSettings) WriterConfig() storage.DBWriterConfig {
	return storage.DBWriterConfig{
		BatchSize:   d.BatchSize,
		FlushPeriod: d.FlushPeriod,
		ChannelSize: d.ChannelSize,
	}
}

// CleanerConfig returns the retention settings
func (d DatabaseSettings) CleanerConfig() storage.RetentionCleanerConfig {
	return storage.RetentionCleanerConfig{
		RetentionDays: d.RetentionDays,
		CleanupPeriod: d.CleanupPeriod,
	}
}

// DetectorSettings overrides the detector's factory tuning. Zero values keep
// the factory value; weights are merged per channel.
type DetectorSettings struct {
	TemporalTau     float64            `yaml:"temporal_tau"`
	DiscountMode    string             `yaml:"discount_mode"` // reliability or share
	HistorySize     int                `yaml:"history_size"`
	HysteresisCount int                `yaml:"hysteresis_count"`
	RateWindow      time.Duration      `yaml:"rate_window"`
	Weights         map[string]float64 `yaml:"weights"`
}

func (d DetectorSettings) validate() error {
	if d.TemporalTau < 0 || d.HistorySize < 0 || d.HysteresisCount < 0 || d.RateWindow < 0 {
		return fmt.Errorf("detector settings must not be negative")
	}
	switch d.DiscountMode {
	case "", "reliability", "share":
	default:
		return fmt.Errorf("unknown discount mode %q", d.DiscountMode)
	}
	known := detector.DefaultWeights()
	for name, w := range d.Weights {
		if _, ok := known[models.Channel(name)]; !ok {
			return fmt.Errorf("no weight for channel %q", name)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("weight for %s must be within [0,1]", name)
		}
	}
	return nil
}

// DetectorConfig merges the settings over detector.DefaultConfig
func (d DetectorSettings) DetectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	if d.TemporalTau > 0 {
		cfg.TemporalTau = d.TemporalTau
	}
	if d.DiscountMode == "share" {
		cfg.DiscountMode = fusion.DiscountShare
	}
	if d.HistorySize > 0 {
		cfg.HistorySize = d.HistorySize
	}
	if d.HysteresisCount > 0 {
		cfg.HysteresisCount = d.HysteresisCount
	}
	if d.RateWindow > 0 {
		cfg.RateWindow = d.RateWindow
	}
	for name, w := range d.Weights {
		cfg.Weights[models.Channel(name)] = w
	}
	return cfg
}

// EngineSettings controls the processing engine
type EngineSettings struct {
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	EventMinLevel      string        `yaml:"event_min_level"`
}

func (e EngineSettings) minLevel() (models.AlertLevel, error) {
	level, err := models.ParseAlertLevel(e.EventMinLevel)
	if err != nil {
		return 0, fmt.Errorf("event_min_level: %w", err)
	}
	return level, nil
}

// EngineConfig derives the engine settings from the adaptive section and
// the engine section.
func (ac *AppConfig) EngineConfig() engine.Config {
	cfg := engine.ConfigFromAdaptive(ac.Adaptive, ac.Engine.CheckpointInterval)
	if level, err := ac.Engine.minLevel(); err == nil {
		cfg.EventMinLevel = level
	}
	return cfg
}

// MetricsSettings controls the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
