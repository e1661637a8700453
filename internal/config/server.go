package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`
	PostgresDSN  string `env:"POSTGRES_DSN"`

	AdminAPIKey        string            `env:"ADMIN_API_KEY"`
	CallerAPIKeys      map[string]string `env:"CALLER_API_KEYS" envSeparator:"," envKeyValSeparator:":"`
	CORSAllowedOrigins []string          `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	IdempotencyBackend       string        `env:"IDEMPOTENCY_BACKEND" envDefault:"store"`
	IdempotencyTTL           time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	IdempotencyLease         time.Duration `env:"IDEMPOTENCY_LEASE" envDefault:"30s"`
	IdempotencySweepInterval time.Duration `env:"IDEMPOTENCY_SWEEP_INTERVAL" envDefault:"1m"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	EventsBackend      string   `env:"EVENTS_BACKEND" envDefault:"log"`
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic         string   `env:"KAFKA_TOPIC" envDefault:"settlement_events"`
	RedisEventsChannel string   `env:"REDIS_EVENTS_CHANNEL" envDefault:"settlement_events"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c ServerConfig) validate() error {
	switch c.StoreBackend {
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when STORE_BACKEND=postgres")
		}
		// A durable store never runs with open money endpoints.
		if c.AdminAPIKey == "" || len(c.CallerAPIKeys) == 0 {
			return errors.New("ADMIN_API_KEY and CALLER_API_KEYS are required when STORE_BACKEND=postgres")
		}
	case "memory":
	default:
		return errors.New("STORE_BACKEND must be postgres or memory")
	}
	switch c.IdempotencyBackend {
	case "store":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when IDEMPOTENCY_BACKEND=redis")
		}
	default:
		return errors.New("IDEMPOTENCY_BACKEND must be store or redis")
	}
	switch c.EventsBackend {
	case "log":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when EVENTS_BACKEND=kafka")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when EVENTS_BACKEND=redis")
		}
	default:
		return errors.New("EVENTS_BACKEND must be log, kafka or redis")
	}
	if c.IdempotencyTTL <= c.IdempotencyLease {
		return errors.New("IDEMPOTENCY_TTL must exceed IDEMPOTENCY_LEASE")
	}
	return nil
}
