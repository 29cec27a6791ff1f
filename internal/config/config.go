package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/muaviaUsmani/bananas/internal/breaker"
	"github.com/muaviaUsmani/bananas/internal/cache"
	"github.com/muaviaUsmani/bananas/internal/logger"
	"github.com/muaviaUsmani/bananas/internal/ratelimit"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/redis/go-redis/v9"
)

// Config holds all configuration for the Bananas application
type Config struct {
	// RedisURL is the connection URL for Redis
	RedisURL string
	// APIPort is the port the API server listens on
	APIPort string
	// WorkerConcurrency is the number of concurrent jobs a worker can process
	WorkerConcurrency int
	// JobTimeout is the maximum time a job can run
	JobTimeout time.Duration
	// MaxRetries is the default maximum number of retry attempts for failed jobs
	MaxRetries int
	// WorkerRoutingKeys are the routing keys this worker handles (comma-separated)
	// Examples: "default", "gpu", "gpu,default"
	// Defaults to ["default"] if not specified
	WorkerRoutingKeys []string
	// CronSchedulerEnabled enables the periodic cron scheduler
	CronSchedulerEnabled bool
	// CronSchedulerInterval is the interval at which the cron scheduler checks for due schedules
	CronSchedulerInterval time.Duration
	// ResultBackendEnabled enables storing job results
	ResultBackendEnabled bool
	// ResultBackendTTLSuccess is the TTL for successful job results
	ResultBackendTTLSuccess time.Duration
	// ResultBackendTTLFailure is the TTL for failed job results
	ResultBackendTTLFailure time.Duration
	// Logging configuration
	Logging *logger.Config

	// BreakerFailureThreshold is the number of consecutive failures that trips a circuit breaker
	BreakerFailureThreshold int
	// BreakerSuccessThreshold is how many calls must succeed while half-open before the breaker closes
	BreakerSuccessThreshold int
	// BreakerOpenTimeout is how long a breaker stays open before probing half-open
	BreakerOpenTimeout time.Duration
	// BreakerCallTimeout bounds an individual guarded call
	BreakerCallTimeout time.Duration

	// RateLimitCapacity is the token bucket burst size
	RateLimitCapacity int
	// RateLimitRefillPerSecond is the steady-state token refill rate
	RateLimitRefillPerSecond float64

	// CacheMaxL1Entries bounds the in-process cache tier by entry count
	CacheMaxL1Entries int
	// CacheMaxL1Bytes bounds the in-process cache tier by total value size
	CacheMaxL1Bytes int64
	// CacheCompressionThresholdBytes is the value size above which cache entries are compressed
	CacheCompressionThresholdBytes int
	// CacheDefaultTTL is used when a cache write doesn't specify its own TTL
	CacheDefaultTTL time.Duration
	// CacheNegativeTTL is how long a confirmed cache miss is remembered
	CacheNegativeTTL time.Duration
	// CacheAvalancheJitter is the fractional TTL jitter applied to cache writes
	CacheAvalancheJitter float64

	// AdaptiveTTLEnabled enables the adaptive TTL controller
	AdaptiveTTLEnabled bool
	// AdaptiveTTLMin is the floor TTL the adaptive controller will assign
	AdaptiveTTLMin time.Duration
	// AdaptiveTTLMax is the ceiling TTL the adaptive controller will assign
	AdaptiveTTLMax time.Duration
	// AdaptiveTTLAdjustInterval is how often the adaptive controller recomputes TTLs
	AdaptiveTTLAdjustInterval time.Duration
	// AdaptiveTTLTargetHitRate is the hit rate the adaptive controller steers toward
	AdaptiveTTLTargetHitRate float64

	// HealthMaxQueueSize is the queue depth above which /health reports degraded/unhealthy
	HealthMaxQueueSize int64
	// HealthMaxProcessingTimeMs is the average job duration cap /health checks against
	HealthMaxProcessingTimeMs int64
	// HealthMaxErrorRate is the error rate percentage cap /health checks against
	HealthMaxErrorRate float64
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:                getEnv("REDIS_URL", "redis://localhost:6379"),
		APIPort:                 getEnv("API_PORT", "8080"),
		WorkerConcurrency:       getEnvAsInt("WORKER_CONCURRENCY", 5),
		JobTimeout:              getEnvAsDuration("JOB_TIMEOUT", 5*time.Minute),
		MaxRetries:              getEnvAsInt("MAX_RETRIES", 3),
		WorkerRoutingKeys:       getEnvAsStringSlice("WORKER_ROUTING_KEYS", []string{"default"}),
		CronSchedulerEnabled:    getEnvAsBool("CRON_SCHEDULER_ENABLED", true),
		CronSchedulerInterval:   getEnvAsDuration("CRON_SCHEDULER_INTERVAL", 1*time.Second),
		ResultBackendEnabled:    getEnvAsBool("RESULT_BACKEND_ENABLED", true),
		ResultBackendTTLSuccess: getEnvAsDuration("RESULT_BACKEND_TTL_SUCCESS", 1*time.Hour),
		ResultBackendTTLFailure: getEnvAsDuration("RESULT_BACKEND_TTL_FAILURE", 24*time.Hour),
		Logging:                 loadLoggingConfig(),

		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerSuccessThreshold: getEnvAsInt("BREAKER_SUCCESS_THRESHOLD", 1),
		BreakerOpenTimeout:      getEnvAsDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		BreakerCallTimeout:      getEnvAsDuration("BREAKER_CALL_TIMEOUT", 5*time.Second),

		RateLimitCapacity:        getEnvAsInt("RATE_LIMIT_CAPACITY", 10),
		RateLimitRefillPerSecond: getEnvAsFloat("RATE_LIMIT_REFILL_PER_SECOND", 10),

		CacheMaxL1Entries:              getEnvAsInt("CACHE_MAX_L1_ENTRIES", 10000),
		CacheMaxL1Bytes:                getEnvAsInt64("CACHE_MAX_L1_BYTES", 64<<20),
		CacheCompressionThresholdBytes: getEnvAsInt("CACHE_COMPRESSION_THRESHOLD_BYTES", 4096),
		CacheDefaultTTL:                getEnvAsDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
		CacheNegativeTTL:               getEnvAsDuration("CACHE_NEGATIVE_TTL", 30*time.Second),
		CacheAvalancheJitter:           getEnvAsFloat("CACHE_AVALANCHE_JITTER", 0.1),

		AdaptiveTTLEnabled:        getEnvAsBool("ADAPTIVE_TTL_ENABLED", true),
		AdaptiveTTLMin:            getEnvAsDuration("ADAPTIVE_TTL_MIN", 30*time.Second),
		AdaptiveTTLMax:            getEnvAsDuration("ADAPTIVE_TTL_MAX", 10*time.Minute),
		AdaptiveTTLAdjustInterval: getEnvAsDuration("ADAPTIVE_TTL_ADJUST_INTERVAL", 30*time.Second),
		AdaptiveTTLTargetHitRate:  getEnvAsFloat("ADAPTIVE_TTL_TARGET_HIT_RATE", 0.8),

		HealthMaxQueueSize:        getEnvAsInt64("HEALTH_MAX_QUEUE_SIZE", 10000),
		HealthMaxProcessingTimeMs: getEnvAsInt64("HEALTH_MAX_PROCESSING_TIME_MS", 60000),
		HealthMaxErrorRate:        getEnvAsFloat("HEALTH_MAX_ERROR_RATE", 25),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every field LoadConfig populates for internal consistency.
// Exported so /health can report configuration problems without re-deriving
// the checks LoadConfig already ran at startup.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL cannot be empty")
	}
	if c.APIPort == "" {
		return fmt.Errorf("API_PORT cannot be empty")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative")
	}
	if len(c.WorkerRoutingKeys) == 0 {
		return fmt.Errorf("WORKER_ROUTING_KEYS must contain at least one routing key")
	}
	if c.AdaptiveTTLEnabled && c.AdaptiveTTLMin > c.AdaptiveTTLMax {
		return fmt.Errorf("ADAPTIVE_TTL_MIN cannot exceed ADAPTIVE_TTL_MAX")
	}

	// Note: routing key format lives in the job package (job.ValidateRoutingKey),
	// which this package does not import; WORKER_ROUTING_KEYS entries are not
	// format-checked here or at worker startup.

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	return nil
}

// GatewayConfig parses RedisURL into a redisgw.Config, keeping the
// gateway's pool tuning defaults intact.
func (c *Config) GatewayConfig() (redisgw.Config, error) {
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return redisgw.Config{}, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	gwCfg := redisgw.DefaultConfig()
	host, port := opts.Addr, 6379
	if idx := strings.LastIndex(opts.Addr, ":"); idx != -1 {
		host = opts.Addr[:idx]
		if p, err := strconv.Atoi(opts.Addr[idx+1:]); err == nil {
			port = p
		}
	}
	gwCfg.Host = host
	gwCfg.Port = port
	gwCfg.Password = opts.Password
	gwCfg.DB = opts.DB
	return gwCfg, nil
}

// BreakerConfig builds a breaker.Config from the loaded circuit breaker tuning.
func (c *Config) BreakerConfig() breaker.Config {
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = uint32(c.BreakerFailureThreshold)
	cfg.MaxRequests = uint32(c.BreakerSuccessThreshold)
	cfg.OpenTimeout = c.BreakerOpenTimeout
	cfg.CallTimeout = c.BreakerCallTimeout
	return cfg
}

// RateLimitConfig builds a ratelimit.Config from the loaded rate limit tuning.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Capacity:        c.RateLimitCapacity,
		RefillPerSecond: c.RateLimitRefillPerSecond,
	}
}

// CacheConfig builds a cache.Config from the loaded cache tuning.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		MaxL1Entries:              c.CacheMaxL1Entries,
		MaxL1Bytes:                c.CacheMaxL1Bytes,
		CompressionThresholdBytes: c.CacheCompressionThresholdBytes,
		DefaultTTL:                c.CacheDefaultTTL,
		NegativeTTL:               c.CacheNegativeTTL,
		AvalancheJitter:           c.CacheAvalancheJitter,
	}
}

// AdaptiveTTLConfig builds a cache.AdaptiveTTLConfig from the loaded tuning.
func (c *Config) AdaptiveTTLConfig() cache.AdaptiveTTLConfig {
	cfg := cache.DefaultAdaptiveTTLConfig()
	cfg.Min = c.AdaptiveTTLMin
	cfg.Max = c.AdaptiveTTLMax
	cfg.AdjustInterval = c.AdaptiveTTLAdjustInterval
	cfg.TargetHitRate = c.AdaptiveTTLTargetHitRate
	return cfg
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 retrieves an environment variable as an int64 or returns a default value
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat retrieves an environment variable as a float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsStringSlice retrieves an environment variable as a comma-separated list
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	// Global settings
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(level)
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(format)
	}

	// Tier 1: Console
	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", true)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", 65536)
	cfg.Console.FlushInterval = getEnvAsDuration("LOG_CONSOLE_FLUSH_INTERVAL", 100*time.Millisecond)

	// Tier 2: File
	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", "/var/log/bananas/bananas.log")
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", 10000)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", 100)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", 100*time.Millisecond)

	// Tier 3: Elasticsearch
	cfg.Elasticsearch.Enabled = getEnvAsBool("LOG_ES_ENABLED", false)
	cfg.Elasticsearch.Mode = getEnv("LOG_ES_MODE", "self-managed")

	// Self-managed mode
	cfg.Elasticsearch.Addresses = getEnvAsStringSlice("LOG_ES_ADDRESSES", []string{"http://localhost:9200"})
	cfg.Elasticsearch.Username = getEnv("LOG_ES_USERNAME", "")
	cfg.Elasticsearch.Password = getEnv("LOG_ES_PASSWORD", "")

	// Cloud mode
	cfg.Elasticsearch.CloudID = getEnv("LOG_ES_CLOUD_ID", "")
	cfg.Elasticsearch.APIKey = getEnv("LOG_ES_API_KEY", "")

	// Common ES settings
	cfg.Elasticsearch.IndexPrefix = getEnv("LOG_ES_INDEX_PREFIX", "bananas-logs")
	cfg.Elasticsearch.BulkSize = getEnvAsInt("LOG_ES_BULK_SIZE", 100)
	cfg.Elasticsearch.FlushInterval = getEnvAsDuration("LOG_ES_FLUSH_INTERVAL", 5*time.Second)
	cfg.Elasticsearch.Workers = getEnvAsInt("LOG_ES_WORKERS", 2)
	cfg.Elasticsearch.MaxRetries = getEnvAsInt("LOG_ES_MAX_RETRIES", 3)
	cfg.Elasticsearch.RetryBackoff = getEnvAsDuration("LOG_ES_RETRY_BACKOFF", 1*time.Second)
	cfg.Elasticsearch.CircuitBreaker = getEnvAsBool("LOG_ES_CIRCUIT_BREAKER", true)
	cfg.Elasticsearch.FailureThreshold = getEnvAsInt("LOG_ES_FAILURE_THRESHOLD", 5)
	cfg.Elasticsearch.ResetTimeout = getEnvAsDuration("LOG_ES_RESET_TIMEOUT", 30*time.Second)

	return cfg
}

