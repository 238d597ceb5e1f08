package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/cache"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/config"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/consumer"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/correlation"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/engine"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/handlers"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/history"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/optimizer"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/publisher"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/simulator"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/sizing"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/worker"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/contracts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	fmt.Println("=== Fortuna Parlay Optimizer v0 ===")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("❌ Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is optional: it backs the shared cache and the stream worker
	var (
		redisClient *redis.Client
		sharedCache contracts.Cache
	)
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			fmt.Printf("❌ Failed to connect to Redis: %v\n", err)
			os.Exit(1)
		}
		sharedCache = cache.NewRedisCache(redisClient)
		fmt.Println("✓ Connected to Redis")
	} else {
		sharedCache = cache.NewMemoryCache()
		fmt.Println("✓ Using in-process cache (REDIS_URL not set)")
	}

	// Residual history is optional; without it correlation falls back to rules
	var historyProvider contracts.HistoryProvider
	if cfg.HistoryDSN != "" {
		store, err := history.NewStore(cfg.HistoryDSN, cfg.HistoryDepth, logger)
		if err != nil {
			fmt.Printf("❌ Failed to connect to history DB: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			fmt.Printf("❌ Failed to migrate history DB: %v\n", err)
			os.Exit(1)
		}
		historyProvider = store
		fmt.Println("✓ Connected to history DB")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	// Initialize components
	sim := simulator.NewSimulator(cfg.Simulator(), logger)
	optimizationEngine := engine.NewEngine(
		cfg.Engine(),
		correlation.NewEngine(cfg.Correlation(), sharedCache, logger),
		optimizer.NewOptimizer(cfg.Optimizer(), sim, sharedCache, logger),
		sizing.NewSizer(cfg.Sizing(), logger),
		historyProvider,
		logger,
	)

	handler := handlers.NewHandler(ctx, optimizationEngine, cfg.RequestTimeout, logger)
	router := handler.Routes(cfg.AllowedOrigins, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Start server
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Optimization responses can take up to the request timeout
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server: %w", err)
		}
	}()

	// Start stream worker
	var streamWorker *worker.Worker
	if cfg.EnableStreamWorker {
		streamWorker = worker.NewWorker(
			consumer.NewStreamConsumer(redisClient, cfg.ConsumerID, cfg.ConsumerGroup),
			optimizationEngine,
			publisher.NewStreamPublisher(redisClient, cfg.StreamMaxLen),
			cfg.RunTimeout,
			logger,
		)
		go func() {
			if err := streamWorker.Run(ctx, cfg.Sports); err != nil {
				errChan <- fmt.Errorf("stream worker: %w", err)
			}
		}()
	}

	// Start metrics reporter
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runs, failures := optimizationEngine.GetMetrics()
				fields := []zap.Field{zap.Int64("runs", runs), zap.Int64("failures", failures)}
				if streamWorker != nil {
					processed, failed := streamWorker.GetMetrics()
					fields = append(fields, zap.Int64("stream_processed", processed), zap.Int64("stream_failed", failed))
				}
				logger.Info("metrics", fields...)
			}
		}
	}()

	fmt.Printf("✓ Parlay Optimizer started on port %d\n", cfg.Port)
	fmt.Printf("  Default Profile: %s\n", cfg.DefaultProfile)
	fmt.Printf("  Default Bankroll: $%.2f\n", cfg.DefaultBankroll)
	fmt.Printf("  Kelly Fraction: %.2f (1/%.0f Kelly)\n", cfg.KellyFraction, 1.0/cfg.KellyFraction)
	fmt.Printf("  Strategy: %s, trials=%d (search=%d)\n", cfg.Strategy, cfg.Trials, cfg.SearchTrials)
	if cfg.EnableStreamWorker {
		fmt.Printf("  Stream worker: group=%s consumer=%s sports=%v\n", cfg.ConsumerGroup, cfg.ConsumerID, cfg.Sports)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		fmt.Printf("\n⚠️  Received signal: %v\n", sig)
	case err := <-errChan:
		fmt.Printf("❌ %v\n", err)
		exitCode = 1
	}

	fmt.Println("🛑 Shutting down gracefully...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("✗ Shutdown error: %v\n", err)
		exitCode = 1
	}

	fmt.Println("✓ Parlay Optimizer stopped")
	if exitCode != 0 {
		logger.Sync()
		os.Exit(exitCode)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
