// Package config loads and validates the traffic-manager configuration
// from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig configures the PostgreSQL connection pool.
type DatabaseConfig struct {
	Host              string
	Port              int
	Name              string
	User              string
	Password          string
	PoolMin           int
	PoolMax           int
	ConnectionTimeout time.Duration
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable connect_timeout=%d",
		c.Host, c.Port, c.Name, c.User, c.Password, int(c.ConnectionTimeout.Seconds()),
	)
}

// RedisConfig configures the cache client.
type RedisConfig struct {
	Host          string
	Port          int
	DB            int
	SocketTimeout time.Duration
	PoolMax       int
}

// Addr renders host:port for go-redis.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MongoConfig configures the audit document store.
type MongoConfig struct {
	Host                   string
	Port                   int
	Name                   string
	User                   string
	Password               string
	AuditCollection        string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
}

// URI renders the MongoDB connection URI.
func (c MongoConfig) URI() string {
	if c.User != "" && c.Password != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d/%s?authSource=admin",
			c.User, c.Password, c.Host, c.Port, c.Name)
	}
	return fmt.Sprintf("mongodb://%s:%d/%s", c.Host, c.Port, c.Name)
}

// KafkaConfig configures the event producer and consumer groups.
type KafkaConfig struct {
	BootstrapServers        string
	Topic                   string
	Acks                    string
	Retries                 int
	Idempotent              bool
	RequestTimeout          time.Duration
	ConsumerGroupPrefix     string
	ConsumerAutoOffsetReset string
	ConsumerAutoCommit      bool
	ConsumerPollTimeout     time.Duration
}

// Brokers splits the bootstrap server list.
func (c KafkaConfig) Brokers() []string {
	parts := strings.Split(c.BootstrapServers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// AppConfig holds process-level options.
type AppConfig struct {
	Environment      string
	LogLevel         string
	APIHost          string
	APIPort          int
	Debug            bool
	PositiveCacheTTL time.Duration
	NegativeCacheTTL time.Duration
	RateLimitEnabled bool
	RateLimitPerSec  int
	RateLimitBurst   int
}

// ListenAddress renders host:port for the HTTP server.
func (c AppConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// Config is the complete application configuration.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Mongo    MongoConfig
	Kafka    KafkaConfig
	App      AppConfig
}

// Load reads the configuration from the environment, applying defaults,
// and validates it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              v.GetString("DB_HOST"),
			Port:              v.GetInt("DB_PORT"),
			Name:              v.GetString("DB_NAME"),
			User:              v.GetString("DB_USER"),
			Password:          v.GetString("DB_PASSWORD"),
			PoolMin:           v.GetInt("DB_POOL_MIN"),
			PoolMax:           v.GetInt("DB_POOL_MAX"),
			ConnectionTimeout: time.Duration(v.GetInt("DB_CONNECTION_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:          v.GetString("REDIS_HOST"),
			Port:          v.GetInt("REDIS_PORT"),
			DB:            v.GetInt("REDIS_DB"),
			SocketTimeout: time.Duration(v.GetInt("REDIS_SOCKET_TIMEOUT")) * time.Second,
			PoolMax:       v.GetInt("REDIS_POOL_MAX"),
		},
		Mongo: MongoConfig{
			Host:                   v.GetString("MONGODB_HOST"),
			Port:                   v.GetInt("MONGODB_PORT"),
			Name:                   v.GetString("MONGODB_DB"),
			User:                   v.GetString("MONGODB_USER"),
			Password:               v.GetString("MONGODB_PASSWORD"),
			AuditCollection:        v.GetString("MONGODB_AUDIT_COLLECTION"),
			ConnectTimeout:         time.Duration(v.GetInt("MONGODB_CONNECT_TIMEOUT_MS")) * time.Millisecond,
			ServerSelectionTimeout: time.Duration(v.GetInt("MONGODB_SERVER_SELECTION_TIMEOUT_MS")) * time.Millisecond,
		},
		Kafka: KafkaConfig{
			BootstrapServers:        v.GetString("KAFKA_BOOTSTRAP_SERVERS"),
			Topic:                   v.GetString("KAFKA_ROUTE_EVENTS_TOPIC"),
			Acks:                    v.GetString("KAFKA_ACKS"),
			Retries:                 v.GetInt("KAFKA_RETRIES"),
			Idempotent:              v.GetBool("KAFKA_IDEMPOTENT"),
			RequestTimeout:          time.Duration(v.GetInt("KAFKA_REQUEST_TIMEOUT_MS")) * time.Millisecond,
			ConsumerGroupPrefix:     v.GetString("KAFKA_CONSUMER_GROUP_PREFIX"),
			ConsumerAutoOffsetReset: v.GetString("KAFKA_CONSUMER_AUTO_OFFSET_RESET"),
			ConsumerAutoCommit:      v.GetBool("KAFKA_CONSUMER_AUTO_COMMIT"),
			ConsumerPollTimeout:     time.Duration(v.GetInt("KAFKA_CONSUMER_POLL_TIMEOUT_MS")) * time.Millisecond,
		},
		App: AppConfig{
			Environment:      v.GetString("ENVIRONMENT"),
			LogLevel:         v.GetString("LOG_LEVEL"),
			APIHost:          v.GetString("API_HOST"),
			APIPort:          v.GetInt("API_PORT"),
			Debug:            v.GetBool("DEBUG"),
			PositiveCacheTTL: time.Duration(v.GetInt("CACHE_POSITIVE_TTL")) * time.Second,
			NegativeCacheTTL: time.Duration(v.GetInt("CACHE_NEGATIVE_TTL")) * time.Second,
			RateLimitEnabled: v.GetBool("RATE_LIMIT_ENABLED"),
			RateLimitPerSec:  v.GetInt("RATE_LIMIT_PER_SEC"),
			RateLimitBurst:   v.GetInt("RATE_LIMIT_BURST"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "app_db")
	v.SetDefault("DB_USER", "app_user")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("DB_CONNECTION_TIMEOUT", 30)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_SOCKET_TIMEOUT", 5)
	v.SetDefault("REDIS_POOL_MAX", 50)

	v.SetDefault("MONGODB_HOST", "localhost")
	v.SetDefault("MONGODB_PORT", 27017)
	v.SetDefault("MONGODB_DB", "audit_db")
	v.SetDefault("MONGODB_USER", "")
	v.SetDefault("MONGODB_PASSWORD", "")
	v.SetDefault("MONGODB_AUDIT_COLLECTION", "route_events")
	v.SetDefault("MONGODB_CONNECT_TIMEOUT_MS", 5000)
	v.SetDefault("MONGODB_SERVER_SELECTION_TIMEOUT_MS", 5000)

	v.SetDefault("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")
	v.SetDefault("KAFKA_ROUTE_EVENTS_TOPIC", "route-events")
	v.SetDefault("KAFKA_ACKS", "all")
	v.SetDefault("KAFKA_RETRIES", 3)
	v.SetDefault("KAFKA_IDEMPOTENT", true)
	v.SetDefault("KAFKA_REQUEST_TIMEOUT_MS", 10000)
	v.SetDefault("KAFKA_CONSUMER_GROUP_PREFIX", "traffic-manager")
	v.SetDefault("KAFKA_CONSUMER_AUTO_OFFSET_RESET", "earliest")
	v.SetDefault("KAFKA_CONSUMER_AUTO_COMMIT", true)
	v.SetDefault("KAFKA_CONSUMER_POLL_TIMEOUT_MS", 1000)

	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("API_HOST", "0.0.0.0")
	v.SetDefault("API_PORT", 8000)
	v.SetDefault("DEBUG", false)
	v.SetDefault("CACHE_POSITIVE_TTL", 60)
	v.SetDefault("CACHE_NEGATIVE_TTL", 10)

	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_PER_SEC", 100)
	v.SetDefault("RATE_LIMIT_BURST", 150)
}

var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
}

var validLogLevels = map[string]bool{
	"DEBUG":    true,
	"INFO":     true,
	"WARNING":  true,
	"ERROR":    true,
	"CRITICAL": true,
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// Validate rejects out-of-range ports, empty required fields, and unknown
// ENVIRONMENT/LOG_LEVEL values.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if !validPort(c.Database.Port) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.PoolMin < 0 || c.Database.PoolMax < 1 || c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("invalid database pool bounds: min=%d max=%d", c.Database.PoolMin, c.Database.PoolMax)
	}
	if !validPort(c.Redis.Port) {
		return fmt.Errorf("REDIS_PORT must be between 1 and 65535, got %d", c.Redis.Port)
	}
	if !validPort(c.Mongo.Port) {
		return fmt.Errorf("MONGODB_PORT must be between 1 and 65535, got %d", c.Mongo.Port)
	}
	if c.Mongo.Name == "" {
		return fmt.Errorf("MONGODB_DB is required")
	}
	if c.Kafka.BootstrapServers == "" {
		return fmt.Errorf("KAFKA_BOOTSTRAP_SERVERS is required")
	}
	if !validPort(c.App.APIPort) {
		return fmt.Errorf("API_PORT must be between 1 and 65535, got %d", c.App.APIPort)
	}
	if !validEnvironments[c.App.Environment] {
		return fmt.Errorf("ENVIRONMENT must be development, staging, or production, got %q", c.App.Environment)
	}
	if !validLogLevels[strings.ToUpper(c.App.LogLevel)] {
		return fmt.Errorf("LOG_LEVEL must be DEBUG, INFO, WARNING, ERROR, or CRITICAL, got %q", c.App.LogLevel)
	}
	return nil
}
