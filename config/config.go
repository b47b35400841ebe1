package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Aggregation AggregationConfig
	Archive     ArchiveConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	ShutdownTimeoutSec int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds the relational store connection settings.
type DatabaseConfig struct {
	URL          string // if set, used as-is
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	PoolSize     int
	PoolOverflow int
}

// RedisConfig holds Redis connection settings used by the liveview pub/sub bridge.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AggregationConfig holds the Aggregator and Snapshotter cadence and the
// stale-session horizon applied on recovery.
type AggregationConfig struct {
	IntervalSeconds            int
	SessionSyncIntervalSeconds int
	StaleSessionHorizonSeconds int // 0 = disabled (operator's choice, spec.md §4.4)
	DeltaBufferSize            int
	StoreRetryAttempts         int
	StoreRetryBaseSeconds      int
}

// ArchiveConfig holds optional S3 snapshot-mirror settings. Disabled when Bucket is empty.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	shutdownTimeout, _ := strconv.Atoi(getEnv("SHUTDOWN_TIMEOUT_SEC", "10"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			ShutdownTimeoutSec: shutdownTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			DBName:       getEnv("DB_NAME", "stream_stats"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			PoolSize:     getEnvInt("DB_POOL_SIZE", 10),
			PoolOverflow: getEnvInt("DB_POOL_OVERFLOW", 20),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Aggregation: AggregationConfig{
			IntervalSeconds:            getEnvInt("AGGREGATION_INTERVAL_SECONDS", 60),
			SessionSyncIntervalSeconds: getEnvInt("SESSION_SYNC_INTERVAL_SECONDS", 30),
			StaleSessionHorizonSeconds: getEnvInt("STALE_SESSION_HORIZON_SECONDS", 0),
			DeltaBufferSize:            getEnvInt("DELTA_BUFFER_SIZE", 100000),
			StoreRetryAttempts:         getEnvInt("STORE_RETRY_ATTEMPTS", 3),
			StoreRetryBaseSeconds:      getEnvInt("STORE_RETRY_BASE_SECONDS", 1),
		},
		Archive: ArchiveConfig{
			Bucket:          getEnv("S3_SNAPSHOT_BUCKET", ""),
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
	}

	if os.Getenv("DATABASE_URL") == "" && os.Getenv("DB_HOST") == "" {
		return nil, fmt.Errorf("database configuration is incomplete: set DATABASE_URL or DB_HOST")
	}

	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
