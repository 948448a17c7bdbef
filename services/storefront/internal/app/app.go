package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/tracing"
	"github.com/utafrali/storefront/services/storefront/internal/config"
	"github.com/utafrali/storefront/services/storefront/internal/event"
	handler "github.com/utafrali/storefront/services/storefront/internal/handler/http"
	"github.com/utafrali/storefront/services/storefront/internal/identity"
	"github.com/utafrali/storefront/services/storefront/internal/repository"
	"github.com/utafrali/storefront/services/storefront/internal/repository/postgres"
	redisrepo "github.com/utafrali/storefront/services/storefront/internal/repository/redis"
	"github.com/utafrali/storefront/services/storefront/internal/repository/rest"
	"github.com/utafrali/storefront/services/storefront/internal/service"
	"github.com/utafrali/storefront/services/storefront/migrations"
)

const (
	serviceName           = "storefront"
	sessionSweepInterval  = time.Minute
	rateLimitVisitorTTL   = 10 * time.Minute
	baasRequestTimeout    = 10 * time.Second
	httpShutdownTimeout   = 10 * time.Second
	tracerShutdownTimeout = 3 * time.Second
)

// App wires together all dependencies and runs the storefront service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	registry       *service.Registry
	limiter        *middleware.RateLimiter
	health         *health.Handler
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
// Resources opened before a failure are released before returning.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{
		cfg:    cfg,
		logger: logger,
		health: health.NewHandler(),
	}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	backend, err := a.initBackend(ctx)
	if err != nil {
		return nil, err
	}

	prices, err := a.initPriceSource(ctx, backend)
	if err != nil {
		return nil, err
	}

	publisher := a.initPublisher(ctx)

	// Build the dependency graph.
	verifier := identity.NewVerifier(cfg.JWTSecret)
	a.registry = service.NewRegistry(service.Deps{
		Carts:     backend,
		Placer:    backend,
		Targets:   backend,
		Prices:    prices,
		Publisher: publisher,
		Logger:    logger,
	}, verifier, cfg.SessionIdleDuration())
	a.limiter = middleware.NewRateLimiter(cfg.OrderRateLimitRPS, cfg.OrderRateLimitBurst, rateLimitVisitorTTL, logger)

	// HTTP router.
	router := handler.NewRouter(handler.Deps{
		Registry:     a.registry,
		Catalog:      prices,
		Orders:       backend,
		Verifier:     verifier,
		OrderLimiter: a.limiter,
		Health:       a.health,
		Logger:       logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initBackend connects the configured persistence service and registers its
// readiness check.
func (a *App) initBackend(ctx context.Context) (repository.Backend, error) {
	cfg := a.cfg

	switch cfg.Backend {
	case config.BackendREST:
		rb := rest.NewBackend(rest.Config{
			BaseURL: cfg.BaaSURL,
			APIKey:  cfg.BaaSAnonKey,
			Timeout: baasRequestTimeout,
		}, a.logger)
		a.health.Register("baas", rb.Ping)
		a.logger.Info("using BaaS persistence", slog.String("url", cfg.BaaSURL))
		return rb, nil

	default:
		pgCfg := cfg.PostgresConfig()
		pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)
		database.RegisterPoolMetrics(pool, serviceName)

		// Run database migrations.
		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrations completed")

		// Configure slow query logging.
		if threshold := cfg.SlowQueryThreshold(); threshold > 0 {
			database.SetSlowQueryLogging(threshold, a.logger)
		}

		a.health.Register("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
		return postgres.NewBackend(pool), nil
	}
}

// initPriceSource fronts the backend's catalog prices with the Redis cache
// when a TTL is configured.
func (a *App) initPriceSource(ctx context.Context, backend repository.Backend) (repository.PriceSource, error) {
	ttl := a.cfg.PriceCacheDuration()
	if ttl <= 0 {
		return backend, nil
	}

	rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPass,
		DB:       a.cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.rdb = rdb
	a.logger.Info("connected to Redis", slog.String("addr", a.cfg.RedisAddr), slog.Duration("price_ttl", ttl))

	a.health.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	return redisrepo.NewPriceCache(rdb, backend, ttl, a.logger), nil
}

// initPublisher returns the Kafka-backed event publisher, or a no-op one when
// no brokers are configured. Kafka is never a readiness dependency.
func (a *App) initPublisher(ctx context.Context) event.Publisher {
	if !a.cfg.KafkaEnabled() {
		a.logger.Info("kafka disabled, cart events will not be published")
		return event.Discard{}
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	if err := pingKafkaWithRetry(ctx, producer, a.logger); err != nil {
		a.logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		a.logger.Info("kafka producer initialized", slog.Any("brokers", a.cfg.KafkaBrokers))
	}
	a.producer = producer
	return event.NewProducer(producer, a.logger)
}

// Run starts the HTTP server and background jobs, then blocks until the
// context is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	// Evict idle sessions and forget quiet rate limit visitors.
	go func() { _ = a.registry.Run(bgCtx, sessionSweepInterval) }()
	go func() { _ = a.limiter.Run(bgCtx) }()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		stopBackground()
		a.closeResources()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order: readiness is flipped to
// draining, in-flight HTTP requests finish, pending spans are flushed, then
// the producer and data stores are closed.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	a.health.SetDraining(true)

	httpCtx, httpCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete", slog.Int("open_sessions", a.registry.Len()))
	return errors.Join(errs...)
}

// closeResources releases everything NewApp opened. Fields left nil by a
// disabled component are skipped.
func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.rdb = nil
	}

	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}

	return errors.Join(errs...)
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s with ±25% jitter between them).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
