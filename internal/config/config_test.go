package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BreakerFailureThreshold != 5 {
		t.Errorf("expected default breaker failure threshold 5, got %d", cfg.BreakerFailureThreshold)
	}
	if cfg.BreakerSuccessThreshold != 1 {
		t.Errorf("expected default breaker success threshold 1, got %d", cfg.BreakerSuccessThreshold)
	}
	if cfg.RateLimitCapacity != 10 {
		t.Errorf("expected default rate limit capacity 10, got %d", cfg.RateLimitCapacity)
	}
	if cfg.CacheDefaultTTL != 5*time.Minute {
		t.Errorf("expected default cache TTL 5m, got %v", cfg.CacheDefaultTTL)
	}
	if !cfg.AdaptiveTTLEnabled {
		t.Error("expected adaptive TTL enabled by default")
	}
}

func TestConfig_Validate_RejectsInvertedAdaptiveBounds(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.AdaptiveTTLMin = time.Minute
	cfg.AdaptiveTTLMax = time.Second

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error when adaptive TTL min exceeds max")
	}
}

func TestConfig_BreakerConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	bc := cfg.BreakerConfig()
	if bc.FailureThreshold != uint32(cfg.BreakerFailureThreshold) {
		t.Errorf("expected breaker failure threshold %d, got %d", cfg.BreakerFailureThreshold, bc.FailureThreshold)
	}
	if bc.MaxRequests != uint32(cfg.BreakerSuccessThreshold) {
		t.Errorf("expected breaker success threshold %d, got %d", cfg.BreakerSuccessThreshold, bc.MaxRequests)
	}
}

func TestConfig_CacheConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	cc := cfg.CacheConfig()
	if cc.DefaultTTL != cfg.CacheDefaultTTL {
		t.Errorf("expected cache default TTL %v, got %v", cfg.CacheDefaultTTL, cc.DefaultTTL)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"REDIS_URL", "API_PORT", "WORKER_CONCURRENCY", "JOB_TIMEOUT", "MAX_RETRIES",
		"WORKER_ROUTING_KEYS", "CRON_SCHEDULER_ENABLED", "CRON_SCHEDULER_INTERVAL",
		"RESULT_BACKEND_ENABLED", "RESULT_BACKEND_TTL_SUCCESS", "RESULT_BACKEND_TTL_FAILURE",
		"BREAKER_FAILURE_THRESHOLD", "BREAKER_SUCCESS_THRESHOLD", "BREAKER_OPEN_TIMEOUT", "BREAKER_CALL_TIMEOUT",
		"RATE_LIMIT_CAPACITY", "RATE_LIMIT_REFILL_PER_SECOND",
		"CACHE_MAX_L1_ENTRIES", "CACHE_MAX_L1_BYTES", "CACHE_COMPRESSION_THRESHOLD_BYTES",
		"CACHE_DEFAULT_TTL", "CACHE_NEGATIVE_TTL", "CACHE_AVALANCHE_JITTER",
		"ADAPTIVE_TTL_ENABLED", "ADAPTIVE_TTL_MIN", "ADAPTIVE_TTL_MAX",
		"ADAPTIVE_TTL_ADJUST_INTERVAL", "ADAPTIVE_TTL_TARGET_HIT_RATE",
		"HEALTH_MAX_QUEUE_SIZE", "HEALTH_MAX_PROCESSING_TIME_MS", "HEALTH_MAX_ERROR_RATE",
	}
	for _, k := range keys {
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unsetenv %s: %v", k, err)
		}
	}
}
