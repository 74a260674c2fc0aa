package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 2, cfg.Database.PoolMin)
	assert.Equal(t, 10, cfg.Database.PoolMax)

	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, 27017, cfg.Mongo.Port)
	assert.Equal(t, "route_events", cfg.Mongo.AuditCollection)

	assert.Equal(t, "route-events", cfg.Kafka.Topic)
	assert.Equal(t, "all", cfg.Kafka.Acks)
	assert.True(t, cfg.Kafka.Idempotent)
	assert.Equal(t, "traffic-manager", cfg.Kafka.ConsumerGroupPrefix)
	assert.Equal(t, "earliest", cfg.Kafka.ConsumerAutoOffsetReset)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, 60*time.Second, cfg.App.PositiveCacheTTL)
	assert.Equal(t, 10*time.Second, cfg.App.NegativeCacheTTL)
	assert.False(t, cfg.App.RateLimitEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "pg.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "k1:9092, k2:9092")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pg.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers())
	assert.Equal(t, "production", cfg.App.Environment)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		env   string
		value string
	}{
		{"bad db port", "DB_PORT", "70000"},
		{"bad api port", "API_PORT", "0"},
		{"unknown environment", "ENVIRONMENT", "qa"},
		{"unknown log level", "LOG_LEVEL", "TRACE"},
		{"bad redis port", "REDIS_PORT", "-1"},
		{"bad mongo port", "MONGODB_PORT", "99999"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.env, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestConnectionStrings(t *testing.T) {
	db := DatabaseConfig{
		Host: "pg", Port: 5432, Name: "routes", User: "svc",
		Password: "secret", ConnectionTimeout: 30 * time.Second,
	}
	assert.Equal(t,
		"host=pg port=5432 dbname=routes user=svc password=secret sslmode=disable connect_timeout=30",
		db.DSN())

	assert.Equal(t, "redis:6379", RedisConfig{Host: "redis", Port: 6379}.Addr())

	withAuth := MongoConfig{Host: "mongo", Port: 27017, Name: "audit_db", User: "u", Password: "p"}
	assert.Equal(t, "mongodb://u:p@mongo:27017/audit_db?authSource=admin", withAuth.URI())

	noAuth := MongoConfig{Host: "mongo", Port: 27017, Name: "audit_db"}
	assert.Equal(t, "mongodb://mongo:27017/audit_db", noAuth.URI())
}
