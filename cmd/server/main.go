package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/Merryfling/shortlink/internal/config"
	"github.com/Merryfling/shortlink/internal/geo"
	"github.com/Merryfling/shortlink/internal/repository/postgres"
	"github.com/Merryfling/shortlink/internal/repository/redis"
	"github.com/Merryfling/shortlink/internal/router"
	"github.com/Merryfling/shortlink/internal/service"
	"github.com/Merryfling/shortlink/internal/stats"
	"github.com/Merryfling/shortlink/internal/utils"
	"github.com/Merryfling/shortlink/pkg/codegen"
)

// counterKey is the shared allocation counter all instances increment.
const counterKey = "shortlink:alloc:counter"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	logger, err := utils.NewStructuredLogger(cfg.Log, "shortlink", "1.0.0")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Short Link Service",
		zap.String("port", cfg.Server.Port),
		zap.Int("code_length", cfg.App.CodeLength),
	)

	// Initialize database connections
	dbConn, err := utils.NewDatabaseConnection(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to databases", zap.Error(err))
	}
	defer dbConn.Close()

	logger.Info("Database connections established")

	// Initialize repositories
	linkRepo := postgres.NewLinkRepository(dbConn.PostgreSQL)
	statsRepo := postgres.NewStatsRepository(dbConn.PostgreSQL)
	cacheRepo := redis.NewCacheRepository(dbConn.Redis)
	lockRepo := redis.NewLockRepository(dbConn.Redis)
	seqRepo := redis.NewSequenceRepository(dbConn.Redis, counterKey)
	hllRepo := redis.NewHLLRepository(dbConn.Redis)
	idemRepo := redis.NewIdempotencyRepository(dbConn.Redis, cfg.Stats.IdempotencyTTL)
	queue := redis.NewStreamQueue(dbConn.Redis, cfg.Stats.Stream, cfg.Stats.Group, cfg.Stats.Consumer)

	// Initialize the short-code allocator
	perm, err := codegen.NewPermutation(cfg.App.PermuteA, cfg.App.PermuteB, cfg.App.CodeLength)
	if err != nil {
		logger.Fatal("Failed to initialize code permutation", zap.Error(err))
	}

	allocator, err := codegen.NewAllocator(perm, seqRepo, cfg.App.SegmentStep, cfg.App.PrefetchRatio)
	if err != nil {
		logger.Fatal("Failed to initialize code allocator", zap.Error(err))
	}

	warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	if err := allocator.Warm(warmCtx); err != nil {
		logger.Fatal("Failed to warm code allocator", zap.Error(err))
	}
	warmCancel()

	// Initialize the geo lookup collaborator
	locator, err := geo.New(cfg.Geo)
	if err != nil {
		logger.Fatal("Failed to initialize geo locator", zap.Error(err))
	}

	// Initialize services
	producer := stats.NewProducer(queue, logger)
	linkService := service.NewLinkService(
		linkRepo,
		cacheRepo,
		lockRepo,
		allocator,
		producer,
		cfg.App,
		logger,
	)

	consumer, err := stats.NewConsumer(
		queue,
		idemRepo,
		hllRepo,
		linkRepo,
		statsRepo,
		lockRepo,
		locator,
		cfg.Stats,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize stats consumer", zap.Error(err))
	}

	recovery := stats.NewRecoveryTask(queue, consumer, cfg.Stats.RecoveryInterval, cfg.Stats.PendingIdle, logger)
	retention := stats.NewRetentionTask(queue, cfg.Stats.RetentionInterval, cfg.Stats.RetentionBuffer, logger)

	// Start background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	workers.Add(1)
	go func() {
		defer workers.Done()
		producer.Run(workerCtx)
	}()

	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := consumer.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Stats consumer stopped", zap.Error(err))
		}
	}()

	workers.Add(1)
	go func() {
		defer workers.Done()
		recovery.Run(workerCtx)
	}()

	workers.Add(1)
	go func() {
		defer workers.Done()
		retention.Run(workerCtx)
	}()

	// Initialize HTTP router and server
	httpRouter := router.New(linkService, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpRouter.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop workers after the HTTP server so in-flight redirects can still
	// enqueue their events.
	stopWorkers()

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Server stopped gracefully")
	case <-ctx.Done():
		logger.Warn("Server shutdown timeout exceeded")
	}
}
