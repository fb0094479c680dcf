package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the gateway
type Config struct {
	GatewayID   string     `toml:"gateway_id"`
	HTTPPort    int        `toml:"http_port"`
	RedisURL    string     `toml:"redis_url"`
	NATSURL     string     `toml:"nats_url"`
	QueueSize   int        `toml:"queue_size"`
	ReadTimeout int        `toml:"read_timeout"` // seconds
	Receivers   []Receiver `toml:"receivers"`
}

// Receiver is one GNSS receiver endpoint to connect to at startup
type Receiver struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	Transport string `toml:"transport"` // "tcp" or "udp"
}

// Load builds the configuration from defaults, an optional TOML file and
// environment variable overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := &Config{
		GatewayID:   "node-01",
		HTTPPort:    8081,
		RedisURL:    "localhost:6379",
		NATSURL:     "nats://localhost:4222",
		QueueSize:   256,
		ReadTimeout: 300,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	cfg.GatewayID = getEnv("GATEWAY_ID", cfg.GatewayID)
	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", cfg.HTTPPort)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.QueueSize = getEnvAsInt("QUEUE_SIZE", cfg.QueueSize)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.GatewayID == "" {
		return fmt.Errorf("gateway_id is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	for i, r := range c.Receivers {
		if r.Host == "" {
			return fmt.Errorf("receiver[%d]: host is required", i)
		}
		if r.Port <= 0 || r.Port > 65535 {
			return fmt.Errorf("receiver[%d]: invalid port %d", i, r.Port)
		}
		if r.Transport != "tcp" && r.Transport != "udp" {
			return fmt.Errorf("receiver[%d]: transport must be tcp or udp, got %q", i, r.Transport)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
