// Package main provides the Bananas API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"strings"
	"time"

	"github.com/muaviaUsmani/bananas/internal/cache"
	"github.com/muaviaUsmani/bananas/internal/config"
	"github.com/muaviaUsmani/bananas/internal/keycodec"
	"github.com/muaviaUsmani/bananas/internal/logger"
	"github.com/muaviaUsmani/bananas/internal/metrics"
	"github.com/muaviaUsmani/bananas/internal/queue"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/muaviaUsmani/bananas/internal/retry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	apiLog := log.WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal)
	apiLog.Info("API server starting",
		"redis_url", cfg.RedisURL,
		"api_port", cfg.APIPort,
		"job_timeout", cfg.JobTimeout,
		"max_retries", cfg.MaxRetries)

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6060"
	}
	go func() {
		apiLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		pprofServer := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := pprofServer.ListenAndServe(); err != nil {
			apiLog.Error("pprof server failed", "error", err)
		}
	}()

	ctx := context.Background()
	gwCfg, err := cfg.GatewayConfig()
	if err != nil {
		apiLog.Error("Failed to build gateway config", "error", err)
		os.Exit(1)
	}
	gw, err := redisgw.New(ctx, gwCfg)
	if err != nil {
		apiLog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			apiLog.Error("Failed to close Redis client", "error", err)
		}
	}()

	codec := keycodec.New(gwCfg.KeyPrefix)
	manager := queue.NewManager(gw, codec, retry.NewPolicy())

	promRegistry := metrics.NewRegistry()

	jobCache, err := cache.New(gw, codec, cfg.CacheConfig())
	if err != nil {
		apiLog.Error("Failed to build job cache", "error", err)
		os.Exit(1)
	}
	adaptiveTTL := cache.NewAdaptiveTTL(cfg.AdaptiveTTLConfig())
	if cfg.AdaptiveTTLEnabled {
		go adaptiveTTL.Start(ctx)
	}

	mainMux := http.NewServeMux()
	mainMux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, "Bananas API Server")
	})
	mainMux.Handle("/metrics", promRegistry.Handler())
	mainMux.HandleFunc("/health", healthHandler(manager, gw, cfg, apiLog))
	mainMux.HandleFunc("/jobs/", jobHandler(manager, jobCache, adaptiveTTL, promRegistry, apiLog))

	addr := ":" + cfg.APIPort
	apiLog.Info("API server listening", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           mainMux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil {
		apiLog.Error("API server failed", "error", err)
		os.Exit(1)
	}
}

// healthHandler aggregates queue stats, Redis reachability, and config
// validity into the metrics package's Health report. It samples the stats of
// the queue named by the "queue" query parameter ("default" when absent), so
// a deployment with several queues probes each one with its own /health call.
func healthHandler(manager *queue.Manager, gw *redisgw.Gateway, cfg *config.Config, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueName := r.URL.Query().Get("queue")
		if queueName == "" {
			queueName = "default"
		}

		ctx := r.Context()
		stats, statsErr := manager.Stats(ctx, queueName)

		configErr := ""
		if err := cfg.Validate(); err != nil {
			configErr = err.Error()
		}

		input := metrics.HealthCheckInput{
			QueueSize:                 stats.Waiting + stats.Active + stats.Delayed,
			MaxQueueSize:              cfg.HealthMaxQueueSize,
			AvgProcessingTime:         time.Duration(stats.AvgProcessingMs) * time.Millisecond,
			MaxProcessingTime:         time.Duration(cfg.HealthMaxProcessingTimeMs) * time.Millisecond,
			ErrorRate:                 stats.ErrorRate,
			MaxErrorRate:              cfg.HealthMaxErrorRate,
			ConfigValid:               configErr == "",
			ConfigError:               configErr,
			Ping:                      gw.Ping,
		}
		if statsErr != nil {
			log.Warn("health check: failed to read queue stats", "queue", queueName, "error", statsErr)
			input.ConfigValid = false
			input.ConfigError = statsErr.Error()
		}

		health := metrics.HealthCheck(ctx, input)

		status := http.StatusOK
		if health.Status == metrics.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(health)
	}
}

// jobHandler serves GET /jobs/{queue}/{id}, fronting manager.GetJob with the
// two-tier cache. Cache entries are tagged by queue so a completed/failed
// transition can be invalidated queue-wide without tracking every job id
// written under it, and hit/miss outcomes feed the adaptive TTL controller
// so frequently re-read queues earn longer cache lifetimes automatically.
func jobHandler(manager *queue.Manager, jobCache *cache.Cache, adaptiveTTL *cache.AdaptiveTTL, promRegistry *metrics.Registry, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/jobs/")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			http.Error(w, "expected /jobs/{queue}/{id}", http.StatusBadRequest)
			return
		}
		queueName, jobID := parts[0], parts[1]
		cacheKey := queueName + ":" + jobID

		ctx := r.Context()
		loaderCalled := false
		ttl := adaptiveTTL.TTL(queueName)
		payload, err := jobCache.GetOrSet(ctx, cacheKey, []string{queueName}, ttl, func(ctx context.Context) ([]byte, error) {
			loaderCalled = true
			j, err := manager.GetJob(ctx, queueName, jobID)
			if err != nil {
				return nil, err
			}
			return json.Marshal(j)
		})
		if err != nil {
			log.Warn("job lookup failed", "queue", queueName, "job_id", jobID, "error", err)
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		if loaderCalled {
			promRegistry.CacheMissTotal.WithLabelValues("combined").Inc()
			promRegistry.CacheSetsTotal.WithLabelValues("combined").Inc()
			adaptiveTTL.RecordMiss(queueName)
		} else {
			promRegistry.CacheHitsTotal.WithLabelValues("combined").Inc()
			adaptiveTTL.RecordHit(queueName)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}
}
