package config

import (
	"fmt"
	"slices"
)

// Base holds settings every service reads.
type Base struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// IsDevelopment reports whether the service runs in the development environment.
func (b Base) IsDevelopment() bool {
	return b.Environment == "development"
}

// Validate checks the log level.
func (b Base) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, b.LogLevel) {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", b.LogLevel)
	}
	return nil
}

// Postgres holds the shared PostgreSQL server settings. The database name is
// service specific.
type Postgres struct {
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPass     string `env:"POSTGRES_PASSWORD" envDefault:"storefront_secret"`
	PostgresSSL      string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	PostgresMaxConns int32  `env:"POSTGRES_MAX_CONNS" envDefault:"20"`
}

// Redis holds Redis connection settings.
type Redis struct {
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`
}

// OTEL holds OpenTelemetry exporter settings.
type OTEL struct {
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Validate checks the sample rate bounds.
func (o OTEL) Validate() error {
	if o.OTELSampleRate < 0 || o.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %v", o.OTELSampleRate)
	}
	return nil
}
