package main

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds the relay binary configuration.
// Priority: environment variables > .env file > defaults.
type Config struct {
	Addr string `env:"RELAY_ADDR" envDefault:":8080"`

	// Empty RedisAddr selects the in-memory store (single-instance only).
	RedisAddr     string `env:"REDIS_ADDR" envDefault:""`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix     string `env:"RELAY_KEY_PREFIX" envDefault:"toolrelay:"`

	SessionTTL     time.Duration `env:"RELAY_SESSION_TTL" envDefault:"1h"`
	QueueTTL       time.Duration `env:"RELAY_QUEUE_TTL" envDefault:"1h"`
	StreamDeadline time.Duration `env:"RELAY_STREAM_DEADLINE" envDefault:"10m"`

	SessionRateLimit  int `env:"RELAY_SESSION_RATE_LIMIT" envDefault:"30"`
	RequestRateLimit  int `env:"RELAY_REQUEST_RATE_LIMIT" envDefault:"60"`
	ResponseRateLimit int `env:"RELAY_RESPONSE_RATE_LIMIT" envDefault:"60"`

	// Comma-separated registrable domains; empty keeps CORS permissive.
	AllowedOriginDomains []string `env:"RELAY_ALLOWED_ORIGIN_DOMAINS" envSeparator:","`

	MetricsEnabled bool `env:"RELAY_METRICS_ENABLED" envDefault:"true"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// loadConfig reads configuration from a .env file and environment variables.
func loadConfig(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, using environment variables only")
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
