package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
	"github.com/utafrali/storefront/pkg/database"
)

// Persistence backends.
const (
	BackendPostgres = "postgres"
	BackendREST     = "rest"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds all configuration for the storefront service.
type Config struct {
	pkgconfig.Base
	pkgconfig.Postgres
	pkgconfig.Redis
	pkgconfig.OTEL

	// HTTP server
	HTTPPort int `env:"STOREFRONT_HTTP_PORT" envDefault:"8010"`

	// Persistence service: postgres (direct) or rest (hosted BaaS).
	Backend    string `env:"STOREFRONT_BACKEND" envDefault:"postgres"`
	PostgresDB string `env:"STOREFRONT_DB_NAME" envDefault:"storefront_db"`

	// Queries slower than this are logged. Zero disables slow query logging.
	SlowQueryThresholdMs int `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// BaaS
	BaaSURL     string `env:"BAAS_URL" envDefault:""`
	BaaSAnonKey string `env:"BAAS_ANON_KEY" envDefault:""`

	// Price cache TTL in seconds. Zero disables the cache.
	PriceCacheTTL int `env:"PRICE_CACHE_TTL_SECONDS" envDefault:"300"`

	// Kafka. Empty disables event publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Identity
	JWTSecret string `env:"JWT_SECRET" envDefault:"your-secret-key-change-in-production"`

	// Sessions idle longer than this are evicted.
	SessionIdleTTL int `env:"SESSION_IDLE_TTL_MINUTES" envDefault:"120"`

	// Order placement rate limit, per client IP.
	OrderRateLimitRPS   float64 `env:"ORDER_RATE_LIMIT_RPS" envDefault:"2"`
	OrderRateLimitBurst int     `env:"ORDER_RATE_LIMIT_BURST" envDefault:"4"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if err := c.Base.Validate(); err != nil {
		return err
	}
	if err := c.OTEL.Validate(); err != nil {
		return err
	}

	switch c.Backend {
	case BackendPostgres:
	case BackendREST:
		if c.BaaSURL == "" {
			return errors.New("BAAS_URL is required when STOREFRONT_BACKEND=rest")
		}
		if u, err := url.Parse(c.BaaSURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid BAAS_URL: %q", c.BaaSURL)
		}
		if c.BaaSAnonKey == "" {
			return errors.New("BAAS_ANON_KEY is required when STOREFRONT_BACKEND=rest")
		}
	default:
		return fmt.Errorf("STOREFRONT_BACKEND must be %q or %q, got %q", BackendPostgres, BackendREST, c.Backend)
	}

	if !c.IsDevelopment() && c.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("JWT_SECRET must be changed from default value in %s environment", c.Environment)
	}
	if c.SlowQueryThresholdMs < 0 {
		return fmt.Errorf("SLOW_QUERY_THRESHOLD_MS must not be negative, got %d", c.SlowQueryThresholdMs)
	}
	if c.PriceCacheTTL < 0 {
		return fmt.Errorf("PRICE_CACHE_TTL_SECONDS must not be negative, got %d", c.PriceCacheTTL)
	}
	if c.SessionIdleTTL < 1 {
		return fmt.Errorf("SESSION_IDLE_TTL_MINUTES must be positive, got %d", c.SessionIdleTTL)
	}
	if c.OrderRateLimitRPS <= 0 || c.OrderRateLimitBurst < 1 {
		return fmt.Errorf("invalid order rate limit: %v rps, burst %d", c.OrderRateLimitRPS, c.OrderRateLimitBurst)
	}
	return nil
}

// PostgresConfig returns the connection pool settings.
func (c *Config) PostgresConfig() database.PostgresConfig {
	pc := database.DefaultPostgresConfig()
	pc.Host = c.PostgresHost
	pc.Port = c.PostgresPort
	pc.User = c.PostgresUser
	pc.Password = c.PostgresPass
	pc.DBName = c.PostgresDB
	pc.SSLMode = c.PostgresSSL
	pc.MaxConns = c.PostgresMaxConns
	return pc
}

// PriceCacheDuration returns the price cache TTL.
func (c *Config) PriceCacheDuration() time.Duration {
	return time.Duration(c.PriceCacheTTL) * time.Second
}

// SlowQueryThreshold returns the slow query logging threshold.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}

// SessionIdleDuration returns the session idle TTL.
func (c *Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleTTL) * time.Minute
}

// KafkaEnabled reports whether at least one broker is configured.
func (c *Config) KafkaEnabled() bool {
	for _, b := range c.KafkaBrokers {
		if b != "" {
			return true
		}
	}
	return false
}
