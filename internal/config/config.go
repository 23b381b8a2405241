package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/storefront-cart/pkg/config"
	"github.com/utafrali/storefront-cart/pkg/database"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Lock backends.
const (
	LockRedis = "redis"
	LockLocal = "local"
)

// Config holds all configuration for the cart service. It is built once in
// main and passed down by pointer; nothing mutates it afterwards.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CART_HTTP_PORT" envDefault:"8003"`

	// Cart store backend: postgres or redis.
	Store string `env:"CART_STORE" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPass     string `env:"POSTGRES_PASSWORD" envDefault:"storefront"`
	PostgresDB       string `env:"CART_DB_NAME" envDefault:"storefront_cart"`
	PostgresSSL      string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns       int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns       int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	SlowQueryMillis  int    `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`
	MigrateOnStartup bool   `env:"CART_MIGRATE" envDefault:"true"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Cart TTL in hours (default: 7 days). Only the redis store expires carts.
	CartTTL int `env:"CART_TTL_HOURS" envDefault:"168"`

	// Per-cart mutation lock
	Lock      string `env:"CART_LOCK" envDefault:"local"`
	LockTTLMs int    `env:"CART_LOCK_TTL_MS" envDefault:"5000"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Auth
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`

	// Rate limiting of mutating routes, per caller.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing
	OTELEnabled  bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSample   float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Debug
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
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
	if c.Store != StorePostgres && c.Store != StoreRedis {
		return fmt.Errorf("CART_STORE must be %q or %q, got %q", StorePostgres, StoreRedis, c.Store)
	}
	if c.Lock != LockRedis && c.Lock != LockLocal {
		return fmt.Errorf("CART_LOCK must be %q or %q, got %q", LockRedis, LockLocal, c.Lock)
	}
	if c.CartTTL < 1 {
		return fmt.Errorf("CART_TTL_HOURS must be positive, got %d", c.CartTTL)
	}
	if c.LockTTLMs < 1 {
		return fmt.Errorf("CART_LOCK_TTL_MS must be positive, got %d", c.LockTTLMs)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.OTELSample < 0 || c.OTELSample > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %v", c.OTELSample)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.Environment == "production" && c.JWTSecret == "dev-secret-change-me" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// CartTTLDuration returns CartTTL as a duration.
func (c *Config) CartTTLDuration() time.Duration {
	return time.Duration(c.CartTTL) * time.Hour
}

// LockTTL returns how long a per-cart lock is held before it lapses.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMs) * time.Millisecond
}

// SlowQueryThreshold returns the slow query logging threshold; zero disables it.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryMillis) * time.Millisecond
}

// Postgres returns the pool settings for the cart database.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPass
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSL
	pg.MaxConns = c.DBMaxConns
	pg.MinConns = c.DBMinConns
	return pg
}

// Redis returns the client settings for the shared redis instance.
func (c *Config) Redis() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Addr = c.RedisAddr
	rc.Password = c.RedisPass
	rc.DB = c.RedisDB
	return rc
}

// UsesRedis reports whether any component needs a redis client.
func (c *Config) UsesRedis() bool {
	return c.Store == StoreRedis || c.Lock == LockRedis
}
