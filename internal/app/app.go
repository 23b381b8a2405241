package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront-cart/internal/auth"
	"github.com/utafrali/storefront-cart/internal/config"
	"github.com/utafrali/storefront-cart/internal/event"
	handler "github.com/utafrali/storefront-cart/internal/handler/http"
	"github.com/utafrali/storefront-cart/internal/lock"
	"github.com/utafrali/storefront-cart/internal/repository"
	pgrepo "github.com/utafrali/storefront-cart/internal/repository/postgres"
	redisrepo "github.com/utafrali/storefront-cart/internal/repository/redis"
	"github.com/utafrali/storefront-cart/internal/service"
	"github.com/utafrali/storefront-cart/pkg/database"
	"github.com/utafrali/storefront-cart/pkg/health"
	pkgkafka "github.com/utafrali/storefront-cart/pkg/kafka"
	"github.com/utafrali/storefront-cart/pkg/middleware"
	"github.com/utafrali/storefront-cart/pkg/tracing"
)

const serviceName = "cart-service"

// accessTokenTTL only bounds tokens minted by JWTManager.GenerateAccessToken;
// verification honours whatever exp the issuer set.
const accessTokenTTL = 15 * time.Minute

// App wires together all dependencies and runs the cart service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
	stopBackground context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	// Release whatever was opened if a later step fails.
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	// Tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSample,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), logger)
	healthHandler := health.NewHandler()

	// Redis client, when the store or the lock needs one.
	if cfg.UsesRedis() {
		a.rdb, err = database.NewRedisClient(ctx, cfg.Redis(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		rdb := a.rdb
		healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// Cart store.
	var repo repository.CartRepository
	switch cfg.Store {
	case config.StorePostgres:
		repo, err = a.openPostgres(ctx, healthHandler)
		if err != nil {
			return nil, err
		}
	case config.StoreRedis:
		repo = redisrepo.NewCartRepository(a.rdb, cfg.CartTTLDuration())
	default:
		return nil, fmt.Errorf("unsupported cart store %q", cfg.Store)
	}
	logger.Info("cart store ready", slog.String("store", cfg.Store))

	// Per-cart lock.
	var locker lock.Locker
	switch cfg.Lock {
	case config.LockRedis:
		lockCfg := lock.DefaultRedisConfig()
		lockCfg.TTL = cfg.LockTTL()
		locker = lock.NewRedis(a.rdb, lockCfg, logger)
	default:
		locker = lock.NewLocal()
	}

	// Domain events.
	var events service.EventPublisher = event.Noop{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(a.producer, logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Info("kafka disabled, cart events are not published")
	}

	cartService := service.NewCartService(repo, locker, events, logger)
	resolver := auth.NewResolver(auth.NewJWTManager(cfg.JWTSecret, accessTokenTTL))

	// HTTP router. The background context outlives NewApp's setup timeout and
	// is cancelled on Shutdown.
	bgCtx, stop := context.WithCancel(context.Background())
	a.stopBackground = stop

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	cors.Environment = cfg.Environment

	router := handler.NewRouter(bgCtx, cartService, resolver.PrincipalResolver(), healthHandler, handler.RouterConfig{
		CORS:           cors,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
	}, logger)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

// openPostgres connects the pool, applies migrations and exports pool stats.
func (a *App) openPostgres(ctx context.Context, healthHandler *health.Handler) (repository.CartRepository, error) {
	pgCfg := a.cfg.Postgres()
	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool

	if a.cfg.MigrateOnStartup {
		if err := database.RunMigrations(ctx, pool, pgrepo.Migrations(), a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, "cart"); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	healthHandler.RegisterCritical("postgres", pool.Ping)
	return pgrepo.NewCartRepository(pool), nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.closeResources()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.closeResources()

	a.logger.Info("application shutdown complete")
	return nil
}

// closeResources releases clients in reverse order of creation. Fields left
// nil by a partial NewApp are skipped.
func (a *App) closeResources() {
	if a.stopBackground != nil {
		a.stopBackground()
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}

	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}
}
