// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the metering service.
type Config struct {
	HTTPPort  string
	JWTSecret []byte
	Database  DatabaseConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Provider  ProviderConfig
	Queue     QueueConfig
	Quality   QualityConfig
	Archive   ArchiveConfig
	Notify    NotifyConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	PricingCacheSize int
	PricingCacheTTL  time.Duration
	FilterCacheSize  int
	FilterCacheTTL   time.Duration
}

// RedisConfig holds Redis connection settings. Redis backs the persist
// retry queue and the record broadcast channel; when no address is set
// both fall back to in-memory implementations.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// ProviderConfig holds provider adapter settings
type ProviderConfig struct {
	RequestTimeout time.Duration
}

// QueueConfig tunes the persist retry worker
type QueueConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// QualityConfig tunes the response quality heuristics
type QualityConfig struct {
	LengthRatio         float64
	FabricatedSpecifics int
	RepetitionCount     int
	DisallowedPatterns  []string
}

// ArchiveConfig holds configuration for the S3 usage archive
type ArchiveConfig struct {
	Enabled       bool
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

// NotifyConfig holds configuration for the record broadcast channel
type NotifyConfig struct {
	Channel string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:  getEnvString("HTTP_PORT", "8080"),
		JWTSecret: []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			PricingCacheSize: getEnvInt("CACHE_PRICING_SIZE", 500),
			PricingCacheTTL:  getEnvDuration("CACHE_PRICING_TTL", 5*time.Minute),
			FilterCacheSize:  getEnvInt("CACHE_FILTER_SIZE", 100),
			FilterCacheTTL:   getEnvDuration("CACHE_FILTER_TTL", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:  getEnvString("REDIS_ADDRESS", ""),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Provider: ProviderConfig{
			RequestTimeout: getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 60*time.Second),
		},
		Queue: QueueConfig{
			BatchSize:    getEnvInt("QUEUE_BATCH_SIZE", 50),
			BatchTimeout: getEnvDuration("QUEUE_BATCH_TIMEOUT", 2*time.Second),
			MaxRetries:   getEnvInt("QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("QUEUE_RETRY_BACKOFF", 1*time.Second),
		},
		Quality: QualityConfig{
			LengthRatio:         getEnvFloat("QUALITY_LENGTH_RATIO", 5),
			FabricatedSpecifics: getEnvInt("QUALITY_FABRICATED_SPECIFICS", 3),
			RepetitionCount:     getEnvInt("QUALITY_REPETITION_COUNT", 3),
		},
		Archive: ArchiveConfig{
			Enabled:       getEnvString("ARCHIVE_ENABLED", "false") == "true",
			FlushSize:     getEnvInt("ARCHIVE_FLUSH_SIZE", 100),
			FlushInterval: getEnvDuration("ARCHIVE_FLUSH_INTERVAL", 30*time.Second),
			S3Bucket:      getEnvString("ARCHIVE_S3_BUCKET", ""),
			S3Region:      getEnvString("ARCHIVE_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("ARCHIVE_S3_PREFIX", "usage/"),
			PodName:       getEnvString("POD_NAME", "billfrog-0"),
		},
		Notify: NotifyConfig{
			Channel: getEnvString("NOTIFY_CHANNEL", "billfrog:records"),
		},
	}

	return cfg, nil
}
