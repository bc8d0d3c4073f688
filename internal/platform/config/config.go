// Package config provides environment-based configuration.
//
// Loads from a .env file when present (godotenv), maps variables onto the
// Config struct via go-simpler/env tags, then validates cross-field
// constraints such as the heartbeat timing relation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Broker backends selectable via BROKER_KIND.
const (
	BrokerRedis = "redis"
	BrokerNATS  = "nats"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	RedisURL   string `env:"REDIS_URL" default:"redis://localhost:6379"`
	BrokerKind string `env:"BROKER_KIND" default:"redis"`
	NATSServer string `env:"NATS_SERVER"`

	JWTSecret string `env:"JWT_SECRET"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`

	PingInterval  time.Duration `env:"PING_INTERVAL" default:"30s"`
	PongTimeout   time.Duration `env:"PONG_TIMEOUT" default:"90s"`
	ConnectionTTL time.Duration `env:"CONNECTION_TTL" default:"5m"`

	ReconnectBaseDelay time.Duration `env:"RECONNECT_BASE_DELAY" default:"1s"`
	ReconnectMaxDelay  time.Duration `env:"RECONNECT_MAX_DELAY" default:"30s"`

	MaxConnections      int64   `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectionsPerSec   float64 `env:"CONNECTIONS_PER_SEC" default:"20"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"20"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch cfg.BrokerKind {
	case BrokerRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis broker")
		}
	case BrokerNATS:
		if cfg.NATSServer == "" {
			return errors.New("NATS_SERVER is required for the nats broker")
		}
	default:
		return fmt.Errorf("BROKER_KIND must be %q or %q, got %q", BrokerRedis, BrokerNATS, cfg.BrokerKind)
	}

	if cfg.PingInterval <= 0 {
		return errors.New("PING_INTERVAL must be positive")
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		return fmt.Errorf("PONG_TIMEOUT (%v) must be greater than PING_INTERVAL (%v)", cfg.PongTimeout, cfg.PingInterval)
	}
	if cfg.ConnectionTTL <= 0 {
		return errors.New("CONNECTION_TTL must be positive")
	}

	if cfg.ReconnectBaseDelay <= 0 {
		return errors.New("RECONNECT_BASE_DELAY must be positive")
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY (%v) must not be below RECONNECT_BASE_DELAY (%v)", cfg.ReconnectMaxDelay, cfg.ReconnectBaseDelay)
	}

	return nil
}
