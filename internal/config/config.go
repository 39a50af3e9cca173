package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the relay's runtime configuration, read from environment
// variables. The provider table itself comes from the providers file.
type Config struct {
	ProvidersFile string
	Engine        EngineConfig
	Catalog       CatalogConfig
	Stats         StatsConfig
	Database      DatabaseConfig
}

// EngineConfig holds the routing and health tunables.
type EngineConfig struct {
	FailureThreshold int           // consecutive failures forcing quarantine
	RerankInterval   time.Duration // score staleness bound
}

// CatalogConfig holds model discovery settings.
type CatalogConfig struct {
	TTL             time.Duration
	ProviderTimeout time.Duration
	RefreshTimeout  time.Duration
	MaxInFlight     int
}

// StatsConfig holds the optional performance persistence pipeline settings.
type StatsConfig struct {
	Enabled      bool
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	UseRedis      bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Enabled bool
	S3Bucket  string
	S3Region  string
	S3Prefix  string
	NodeName  string
}

// DatabaseConfig holds Postgres connection settings for the stats pipeline.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	StatsCacheSize  int
	StatsCacheTTL   time.Duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
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

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
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

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ProvidersFile: getEnvString("PROVIDERS_FILE", "providers.yaml"),
		Engine: EngineConfig{
			FailureThreshold: getEnvInt("FAILURE_THRESHOLD", 5),
			RerankInterval:   getEnvDuration("RERANK_INTERVAL", 24*time.Hour),
		},
		Catalog: CatalogConfig{
			TTL:             getEnvDuration("MODEL_CACHE_TTL", 1800*time.Second),
			ProviderTimeout: getEnvDuration("DISCOVERY_PROVIDER_TIMEOUT", 30*time.Second),
			RefreshTimeout:  getEnvDuration("DISCOVERY_REFRESH_TIMEOUT", 2*time.Minute),
			MaxInFlight:     getEnvInt("DISCOVERY_MAX_IN_FLIGHT", 8),
		},
		Stats: StatsConfig{
			Enabled:      getEnvBool("STATS_ENABLED", false),
			BatchSize:    getEnvInt("STATS_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("STATS_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("STATS_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("STATS_RETRY_BACKOFF", time.Second),

			UseRedis:      getEnvString("STATS_BACKEND", "memory") == "redis",
			RedisAddr:     getEnvString("REDIS_ADDRESS", "localhost:6379"),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),

			S3Enabled: getEnvBool("STATS_S3_ENABLED", false),
			S3Bucket:  getEnvString("STATS_S3_BUCKET", ""),
			S3Region:  getEnvString("STATS_S3_REGION", "us-east-1"),
			S3Prefix:  getEnvString("STATS_S3_PREFIX", "stats/"),
			NodeName:  getEnvString("NODE_NAME", "relay-0"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			StatsCacheSize:  getEnvInt("DB_STATS_CACHE_SIZE", 500),
			StatsCacheTTL:   getEnvDuration("DB_STATS_CACHE_TTL", time.Minute),
		},
	}

	if cfg.Stats.Enabled && cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STATS_ENABLED is true")
	}
	if cfg.Stats.Enabled && cfg.Stats.S3Enabled && cfg.Stats.S3Bucket == "" {
		return nil, fmt.Errorf("STATS_S3_BUCKET is required when STATS_S3_ENABLED is true")
	}

	return cfg, nil
}
