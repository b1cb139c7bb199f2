// Package config loads runtime configuration from environment variables and
// an optional .env file, adapted from adred-codev-ws_poc's ws/config.go.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds settings shared by every server in the fabric. Agent- and
// Zone-specific fields live alongside the common bus/logging/metrics ones so
// a single .env file can drive either binary.
type Config struct {
	// Bus
	NATSUrl             string        `env:"PASTRY_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSMaxReconnects   int           `env:"PASTRY_NATS_MAX_RECONNECTS" envDefault:"10"`
	NATSReconnectWait   time.Duration `env:"PASTRY_NATS_RECONNECT_WAIT" envDefault:"1s"`
	NATSReconnectJitter time.Duration `env:"PASTRY_NATS_RECONNECT_JITTER" envDefault:"200ms"`

	// Agent
	AgentAddr         string        `env:"PASTRY_AGENT_ADDR" envDefault:":8888"`
	MaxPacketSize     int           `env:"PASTRY_MAX_PACKET_SIZE" envDefault:"16384"`
	MaxConnections    int           `env:"PASTRY_MAX_CONNECTIONS" envDefault:"10000"`
	SendQueueSize     int           `env:"PASTRY_SEND_QUEUE_SIZE" envDefault:"256"`
	InboundRatePerSec float64       `env:"PASTRY_INBOUND_RATE_PER_SEC" envDefault:"200"`
	InboundBurst      int           `env:"PASTRY_INBOUND_BURST" envDefault:"400"`
	ReadTimeout       time.Duration `env:"PASTRY_READ_TIMEOUT" envDefault:"0s"`

	// JWT authentication
	JWTSecret     string        `env:"PASTRY_JWT_SECRET" envDefault:"change-me-in-production"`
	JWTExpiration time.Duration `env:"PASTRY_JWT_EXPIRATION" envDefault:"1h"`

	// Zone
	ZoneID string `env:"PASTRY_ZONE_ID" envDefault:""`

	// Metrics
	MetricsEnabled     bool          `env:"PASTRY_METRICS_ENABLED" envDefault:"true"`
	MetricsListenAddr  string        `env:"PASTRY_METRICS_ADDR" envDefault:":9095"`
	MetricsEndpoint    string        `env:"PASTRY_METRICS_ENDPOINT" envDefault:"/metrics"`
	SystemMetricsEvery time.Duration `env:"PASTRY_SYSTEM_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"PASTRY_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PASTRY_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration with the priority env vars > .env file > defaults,
// matching ws/config.go's LoadConfig.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; fine if absent

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that would be nonsensical to start with.
func (c *Config) Validate() error {
	if c.MaxConnections < 1 {
		return fmt.Errorf("PASTRY_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.MaxPacketSize < 1 {
		return fmt.Errorf("PASTRY_MAX_PACKET_SIZE must be > 0, got %d", c.MaxPacketSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("PASTRY_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("PASTRY_LOG_FORMAT must be one of json, console (got %q)", c.LogFormat)
	}
	return nil
}

// LogFields emits the loaded configuration through structured logging,
// mirroring ws/config.go's LogConfig.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("nats_url", c.NATSUrl).
		Str("agent_addr", c.AgentAddr).
		Int("max_packet_size", c.MaxPacketSize).
		Int("max_connections", c.MaxConnections).
		Str("zone_id", c.ZoneID).
		Bool("metrics_enabled", c.MetricsEnabled).
		Str("metrics_addr", c.MetricsListenAddr).
		Str("log_level", c.LogLevel).
		Msg("configuration loaded")
}
