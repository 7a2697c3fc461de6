// Package config loads the fire monitor server configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/afroash/fire-monitor/internal/adaptive"
)

// AppConfig holds all configuration for the server
type AppConfig struct {
	Server   ServerSettings   `yaml:"server"`
	Storage  StorageSettings  `yaml:"storage"`
	Database DatabaseSettings `yaml:"database"`
	Detector DetectorSettings `yaml:"detector"`
	Engine   EngineSettings   `yaml:"engine"`
	Adaptive adaptive.Config  `yaml:"adaptive"`
	Metrics  MetricsSettings  `yaml:"metrics"`
	Logging  LoggingConfig    `yaml:"logging"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// Default returns the configuration used for any key the file leaves out.
// Booleans that default to true can only be set this way.
func Default() AppConfig {
	ac := AppConfig{
		Database: DatabaseSettings{Enabled: true},
		Adaptive: adaptive.DefaultConfig(),
		Metrics:  MetricsSettings{Enabled: true},
	}
	ac.ApplyDefaults()
	return ac
}

// LoadAppConfig loads server configuration from a YAML file
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(yamlData)
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(yamlData []byte) (*AppConfig, error) {
	config := Default()
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}
	if ac.Server.ShutdownTimeout == 0 {
		ac.Server.ShutdownTimeout = 10 * time.Second
	}
	if ac.Storage.BufferSize == 0 {
		ac.Storage.BufferSize = 100
	}
	if ac.Database.Path == "" {
		ac.Database.Path = "./data/fire-monitor.db"
	}
	if ac.Database.BatchSize == 0 {
		ac.Database.BatchSize = 100
	}
	if ac.Database.FlushPeriod == 0 {
		ac.Database.FlushPeriod = 5 * time.Second
	}
	if ac.Database.ChannelSize == 0 {
		ac.Database.ChannelSize = 1000
	}
	if ac.Database.RetentionDays == 0 {
		ac.Database.RetentionDays = 90
	}
	if ac.Database.CleanupPeriod == 0 {
		ac.Database.CleanupPeriod = time.Hour
	}
	if ac.Engine.CheckpointInterval == 0 {
		ac.Engine.CheckpointInterval = 5 * time.Minute
	}
	if ac.Engine.EventMinLevel == "" {
		ac.Engine.EventMinLevel = "WATCH"
	}
	if ac.Metrics.Path == "" {
		ac.Metrics.Path = "/metrics"
	}
	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables.
// Only non-empty variables are applied.
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse SERVER_PORT: %w", err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		ac.Database.Path = v
	}
	if v := os.Getenv("ADAPTIVE_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("failed to parse ADAPTIVE_ENABLED: %w", err)
		}
		ac.Adaptive.Enabled = enabled
	}
	if v := os.Getenv("FIRE_ENVIRONMENT_TYPE"); v != "" {
		ac.Adaptive.EnvironmentType = adaptive.EnvironmentType(strings.ToLower(v))
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if ac.Server.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	if ac.Storage.BufferSize < 10 {
		return fmt.Errorf("buffer size must be at least 10")
	}
	if ac.Database.Enabled {
		if ac.Database.RetentionDays < 1 {
			return fmt.Errorf("retention days must be positive")
		}
		if ac.Database.BatchSize < 1 || ac.Database.ChannelSize < ac.Database.BatchSize {
			return fmt.Errorf("channel size must be at least the batch size")
		}
	}
	if _, err := ac.Engine.minLevel(); err != nil {
		return err
	}
	if err := ac.Detector.validate(); err != nil {
		return err
	}
	if err := ac.Adaptive.Validate(); err != nil {
		return fmt.Errorf("adaptive: %w", err)
	}
	if !strings.HasPrefix(ac.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(ac.Logging.Level)); err != nil {
		return fmt.Errorf("invalid log level %q", ac.Logging.Level)
	}
	switch ac.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", ac.Logging.Format)
	}
	return nil
}

// NewLogger builds the process logger described by the logging section
func (lc LoggingConfig) NewLogger(w io.Writer) zerolog.Logger {
	if lc.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// String returns a safe string representation (hides auth token)
func (ac *AppConfig) String() string {
	server := ac.Server
	server.AuthToken = maskToken(server.AuthToken)
	return fmt.Sprintf("AppConfig{Server: %+v, Database: %+v, Engine: %+v, Environment: %s, Logging: %+v}",
		server,
		ac.Database,
		ac.Engine,
		ac.Adaptive.EnvironmentType,
		ac.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
