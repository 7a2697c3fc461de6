package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayConfig holds the configuration of a gateway that streams readings
// to the server.
type GatewayConfig struct {
	Gateway GatewaySettings `yaml:"gateway"`
	Uplink  UplinkSettings  `yaml:"uplink"`
	Buffer  BufferConfig    `yaml:"buffer"`
	Logging LoggingConfig   `yaml:"logging"`
}

// GatewaySettings identifies the gateway
type GatewaySettings struct {
	ID       string `yaml:"id"`
	Location string `yaml:"location"`
}

// UplinkSettings contains connection settings for the server
type UplinkSettings struct {
	URL                  string        `yaml:"url"`
	AuthToken            string        `yaml:"auth_token"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
}

// BufferConfig contains settings for the outbound reading buffer
type BufferConfig struct {
	Size          int           `yaml:"size"`
	DropOldest    bool          `yaml:"drop_oldest"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LoadGatewayConfig loads gateway configuration from a YAML file
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config GatewayConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (c *GatewayConfig) ApplyDefaults() {
	if c.Uplink.ConnectTimeout == 0 {
		c.Uplink.ConnectTimeout = 10 * time.Second
	}
	if c.Uplink.ReconnectInterval == 0 {
		c.Uplink.ReconnectInterval = 1 * time.Second
	}
	if c.Uplink.MaxReconnectInterval == 0 {
		c.Uplink.MaxReconnectInterval = 5 * time.Minute
	}
	if c.Uplink.PingInterval == 0 {
		c.Uplink.PingInterval = 30 * time.Second
	}
	if c.Uplink.PongTimeout == 0 {
		c.Uplink.PongTimeout = 90 * time.Second
	}
	if c.Buffer.Size == 0 {
		c.Buffer.Size = 1000
		c.Buffer.DropOldest = true
	}
	if c.Buffer.BatchSize == 0 {
		c.Buffer.BatchSize = 50
	}
	if c.Buffer.FlushInterval == 0 {
		c.Buffer.FlushInterval = time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *GatewayConfig) OverrideFromEnv() {
	if v := os.Getenv("GATEWAY_ID"); v != "" {
		c.Gateway.ID = v
	}
	if v := os.Getenv("GATEWAY_LOCATION"); v != "" {
		c.Gateway.Location = v
	}
	if v := os.Getenv("SERVER_URL"); v != "" {
		c.Uplink.URL = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		c.Uplink.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (c *GatewayConfig) Validate() error {
	if c.Gateway.ID == "" {
		return fmt.Errorf("gateway ID is required")
	}
	if c.Uplink.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	if !strings.HasPrefix(c.Uplink.URL, "ws://") && !strings.HasPrefix(c.Uplink.URL, "wss://") {
		return fmt.Errorf("server URL must start with ws:// or wss://")
	}
	if c.Uplink.AuthToken == "" {
		return fmt.Errorf("server auth token is required")
	}
	if c.Uplink.ReconnectInterval < time.Second {
		return fmt.Errorf("reconnect interval must be at least 1 second")
	}
	if c.Uplink.PongTimeout <= c.Uplink.PingInterval {
		return fmt.Errorf("pong timeout must exceed the ping interval")
	}
	if c.Buffer.Size < 10 || c.Buffer.Size > 100000 {
		return fmt.Errorf("buffer size must be between 10 and 100000")
	}
	if c.Buffer.BatchSize < 1 || c.Buffer.BatchSize > c.Buffer.Size {
		return fmt.Errorf("batch size must be between 1 and the buffer size")
	}
	return nil
}

// String returns a safe string representation (hides auth token)
func (c *GatewayConfig) String() string {
	return fmt.Sprintf("GatewayConfig{Gateway: %+v, Uplink: [URL=%s, Token=%s], Buffer: %+v, Logging: %+v}",
		c.Gateway,
		c.Uplink.URL,
		maskToken(c.Uplink.AuthToken),
		c.Buffer,
		c.Logging,
	)
}
