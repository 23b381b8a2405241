package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8003, cfg.HTTPPort)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, LockLocal, cfg.Lock)
	assert.Equal(t, 168, cfg.CartTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.CartTTLDuration())
	assert.Equal(t, 5*time.Second, cfg.LockTTL())
	assert.False(t, cfg.KafkaEnabled)
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_InvalidHTTPPort(t *testing.T) {
	t.Setenv("CART_HTTP_PORT", "0")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestLoad_UnknownStore(t *testing.T) {
	t.Setenv("CART_STORE", "mongo")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CART_STORE")
}

func TestLoad_UnknownLock(t *testing.T) {
	t.Setenv("CART_LOCK", "zookeeper")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CART_LOCK")
}

func TestLoad_InvalidOTELSampleRate(t *testing.T) {
	t.Setenv("OTEL_SAMPLE_RATE", "2.0")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTEL_SAMPLE_RATE must be between 0.0 and 1.0")
}

func TestLoad_NonPositiveCartTTL(t *testing.T) {
	t.Setenv("CART_TTL_HOURS", "0")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CART_TTL_HOURS")
}

func TestLoad_ProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	t.Setenv("JWT_SECRET", "a-real-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
}

func TestLoad_RedisStoreAndLock(t *testing.T) {
	t.Setenv("CART_STORE", "redis")
	t.Setenv("CART_LOCK", "redis")
	t.Setenv("REDIS_ADDR", "redis.prod:6380")
	t.Setenv("CART_TTL_HOURS", "24")

	cfg, err := Load()

	require.NoError(t, err)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, 24*time.Hour, cfg.CartTTLDuration())
	assert.Equal(t, "redis.prod:6380", cfg.Redis().Addr)
}

func TestLoad_KafkaBrokersList(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestConfig_Postgres(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("CART_DB_NAME", "carts")
	t.Setenv("DB_MAX_CONNS", "40")

	cfg, err := Load()
	require.NoError(t, err)

	pg := cfg.Postgres()
	assert.Equal(t, "db.internal", pg.Host)
	assert.Equal(t, "carts", pg.DBName)
	assert.Equal(t, int32(40), pg.MaxConns)
	assert.Equal(t, time.Hour, pg.MaxConnLifetime)
}
