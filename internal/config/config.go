package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"festtix/internal/database"
	"festtix/internal/messaging"
)

// Backends
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration

	Backend  string
	Database database.Config
	Realtime RealtimeConfig

	NATS          messaging.Config
	Valkey        ValkeyConfig
	Elasticsearch ElasticsearchConfig

	Booking BookingConfig
}

// RealtimeConfig bounds the change listener's reconnect backoff
type RealtimeConfig struct {
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

// ValkeyConfig - an empty Addr disables the catalog cache
type ValkeyConfig struct {
	Addr     string
	Password string
	TTL      time.Duration
}

// BookingConfig tunes the booking workflow
type BookingConfig struct {
	// ServerGuard routes inserts through book_ticket so capacity is enforced
	// in the same transaction as the insert
	ServerGuard      bool
	CounterRetries   int
	CounterRetryBase time.Duration
	CounterQueueSize int
}

// Load reads the configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 5)) * time.Second,

		Backend: strings.ToLower(getEnv("BACKEND", BackendPostgres)),

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "festtix"),
			Password:           getEnv("DB_PASSWORD", "festtix"),
			DBName:             getEnv("DB_NAME", "festtix"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		Realtime: RealtimeConfig{
			MinReconnect: time.Duration(getEnvInt("REALTIME_MIN_RECONNECT_MS", 500)) * time.Millisecond,
			MaxReconnect: time.Duration(getEnvInt("REALTIME_MAX_RECONNECT_SEC", 60)) * time.Second,
		},

		NATS: messaging.Config{
			URL:       getEnv("NATS_URL", ""),
			ClusterID: getEnv("NATS_CLUSTER_ID", "festtix"),
			ClientID:  getEnv("NATS_CLIENT_ID", "festtix-api"),
		},

		Valkey: ValkeyConfig{
			Addr:     getEnv("VALKEY_ADDR", ""),
			Password: getEnv("VALKEY_PASSWORD", ""),
			TTL:      time.Duration(getEnvInt("CATALOG_CACHE_TTL_SEC", 30)) * time.Second,
		},

		Elasticsearch: LoadElasticsearchConfig(),

		Booking: BookingConfig{
			ServerGuard:      getEnvBool("BOOKING_SERVER_GUARD", false),
			CounterRetries:   getEnvInt("COUNTER_MAX_RETRIES", 3),
			CounterRetryBase: time.Duration(getEnvInt("COUNTER_RETRY_BASE_MS", 200)) * time.Millisecond,
			CounterQueueSize: getEnvInt("COUNTER_QUEUE_SIZE", 256),
		},
	}
}

// getEnv returns the variable or the default when unset
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer variable or the default when unset or invalid
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
