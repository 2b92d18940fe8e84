package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable through CONSENT_STORE.
const (
	StoreCookie   = "cookie"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// ConsentRetention is how long a consent record suppresses the banner.
var ConsentRetention = 365 * 24 * time.Hour

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string
	Environment       string
	LogLevel          string
	Store             string
	Retention         time.Duration
	CookieSecure      bool
	CookieFallback    bool
	ReceiptSigningKey string
	PseudonymKey      string
	PurgeInterval     time.Duration
	RequestTimeout    time.Duration

	Redis    RedisConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
}

// RedisConfig configures the shared Redis client used by the redis store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig configures the Postgres pool used by the postgres store.
type DatabaseConfig struct {
	URL             string
	Table           string
	Migrate         bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KafkaConfig configures the consent event relay. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers    []string
	Topic      string
	Acks       string
	Partitions int32
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CONSENT_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	if retention := os.Getenv("CONSENT_RETENTION"); retention != "" {
		if duration, err := time.ParseDuration(retention); err == nil {
			ConsentRetention = duration
		}
	}

	receiptKey := os.Getenv("RECEIPT_SIGNING_KEY")
	if receiptKey == "" {
		// Use a default for development - should be overridden in production
		receiptKey = "dev-receipt-key-change-in-production"
	}
	pseudonymKey := os.Getenv("PSEUDONYM_KEY")
	if pseudonymKey == "" {
		pseudonymKey = "dev-pseudonym-key-change-in-production"
	}

	return Server{
		Addr:              addr,
		Environment:       envOr("CONSENT_ENV", "development"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		Store:             strings.ToLower(envOr("CONSENT_STORE", StoreCookie)),
		Retention:         ConsentRetention,
		CookieSecure:      os.Getenv("COOKIE_SECURE") == "true",
		CookieFallback:    os.Getenv("CONSENT_COOKIE_FALLBACK") == "true",
		ReceiptSigningKey: receiptKey,
		PseudonymKey:      pseudonymKey,
		PurgeInterval:     durationOr("CONSENT_PURGE_INTERVAL", time.Hour),
		RequestTimeout:    durationOr("CONSENT_REQUEST_TIMEOUT", 10*time.Second),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: intOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationOr("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Table:           envOr("CONSENT_TABLE", "consent_records"),
			Migrate:         os.Getenv("DATABASE_MIGRATE") != "false",
			MaxOpenConns:    intOr("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    intOr("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: durationOr("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:      envOr("KAFKA_TOPIC", "consent.changed"),
			Acks:       envOr("KAFKA_ACKS", "all"),
			Partitions: int32(intOr("KAFKA_PARTITIONS", 3)),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
