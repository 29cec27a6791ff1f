// Package main provides the Bananas scheduler service for managing cron-based job scheduling.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muaviaUsmani/bananas/internal/config"
	"github.com/muaviaUsmani/bananas/internal/keycodec"
	"github.com/muaviaUsmani/bananas/internal/logger"
	"github.com/muaviaUsmani/bananas/internal/queue"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/muaviaUsmani/bananas/internal/retry"
	"github.com/muaviaUsmani/bananas/internal/scheduler"
)

// connectWithRetry attempts to connect to Redis with exponential backoff
func connectWithRetry(ctx context.Context, gwCfg redisgw.Config, maxRetries int, log logger.Logger) (*redisgw.Gateway, error) {
	var gw *redisgw.Gateway
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		gw, err = redisgw.New(ctx, gwCfg)
		if err == nil {
			return gw, nil
		}

		// Calculate exponential backoff delay: 2^attempt seconds (max 30 seconds)
		// #nosec G115 - attempt is bounded by maxRetries parameter, overflow not possible
		delay := time.Duration(1<<uint(attempt)) * time.Second
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		log.Warn("Failed to connect to Redis, retrying",
			"attempt", attempt+1,
			"max_attempts", maxRetries,
			"error", err,
			"retry_in", delay)

		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	workerCfg, err := config.LoadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load worker config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
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

	// Set as default logger
	logger.SetDefault(log)

	// Create component-specific logger
	schedulerLog := log.WithComponent(logger.ComponentScheduler).WithSource(logger.LogSourceInternal)

	schedulerLog.Info("Scheduler starting",
		"redis_url", cfg.RedisURL,
		"max_retries", cfg.MaxRetries)

	// Start pprof server on separate port for profiling
	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6062"
	}
	go func() {
		schedulerLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		// Create server with timeouts for security
		server := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			schedulerLog.Error("pprof server failed", "error", err)
		}
	}()

	gwCfg, err := cfg.GatewayConfig()
	if err != nil {
		schedulerLog.Error("Failed to build gateway config", "error", err)
		os.Exit(1)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := connectWithRetry(ctx, gwCfg, 5, schedulerLog)
	if err != nil {
		schedulerLog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := gw.Client.Close(); err != nil {
			schedulerLog.Error("Failed to close Redis client", "error", err)
		}
	}()

	schedulerLog.Info("Successfully connected to Redis")

	codec := keycodec.New(gwCfg.KeyPrefix)
	manager := queue.NewManager(gw, codec, retry.NewPolicy())

	// Register every queue this scheduler promotes delayed jobs for.
	for _, q := range workerCfg.Queues {
		qCfg := queue.DefaultConfig(q)
		qCfg.MaxRetries = cfg.MaxRetries
		if err := manager.RegisterQueue(qCfg); err != nil {
			schedulerLog.Error("Failed to register queue", "queue", q, "error", err)
			os.Exit(1)
		}
	}

	// Initialize cron scheduler if enabled
	var cronScheduler *scheduler.CronScheduler
	if cfg.CronSchedulerEnabled {
		registry := scheduler.NewRegistry()

		// Register example schedules (users should replace this with their own schedules)
		// Example: Daily report at midnight UTC
		// registry.MustRegister(&scheduler.Schedule{
		// 	ID:          "daily-report",
		// 	Cron:        "0 0 * * *",
		// 	Queue:       "default",
		// 	Job:         "generate_report",
		// 	Timezone:    "UTC",
		// 	Enabled:     true,
		// 	Description: "Generate daily report",
		// })

		cronScheduler = scheduler.NewCronScheduler(registry, manager, gw.Client, codec, cfg.CronSchedulerInterval)
		schedulerLog.Info("Cron scheduler initialized",
			"interval", cfg.CronSchedulerInterval,
			"schedules", registry.Count())

		// Start cron scheduler in background
		go cronScheduler.Start(ctx)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start background goroutine to promote delayed jobs whose notBefore has passed
	go func() {
		ticker := time.NewTicker(workerCfg.PromotionInterval)
		defer ticker.Stop()

		schedulerLog.Info("Scheduler ready - monitoring delayed jobs", "queues", workerCfg.Queues)

		for {
			select {
			case <-ticker.C:
				for _, q := range workerCfg.Queues {
					promoted, err := manager.PromoteDelayed(ctx, q)
					if err != nil {
						schedulerLog.Error("Error promoting delayed jobs", "queue", q, "error", err)
						continue
					}
					if len(promoted) > 0 {
						schedulerLog.Info("Promoted delayed jobs", "queue", q, "count", len(promoted))
					}
				}

			case <-ctx.Done():
				schedulerLog.Info("Scheduler stopping")
				return
			}
		}
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	schedulerLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)

	// Cancel context to stop background goroutines
	cancel()

	// Give background tasks time to finish
	time.Sleep(2 * time.Second)

	schedulerLog.Info("Scheduler shut down successfully")
}
