package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fintrackhq/fintrack/internal/archive"
	"github.com/fintrackhq/fintrack/internal/extract"
	"github.com/fintrackhq/fintrack/internal/infra/postgres"
	infraRedis "github.com/fintrackhq/fintrack/internal/infra/redis"
	"github.com/fintrackhq/fintrack/internal/ingest"
	"github.com/fintrackhq/fintrack/internal/parse"
	"github.com/fintrackhq/fintrack/internal/transport/httpapi"
	"github.com/fintrackhq/fintrack/internal/transport/httpapi/handler"
	"github.com/fintrackhq/fintrack/pkg/config"
	"github.com/fintrackhq/fintrack/pkg/logger"
)

func main() {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("Starting FinTrack API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	// Initialize database connection pool
	db, err := postgres.NewPool(ctx, postgres.Config{URL: cfg.DatabaseURL})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	repo := postgres.NewStatementRepository(db.Pool)

	// Redis is optional; without it ingestion relies on the statement
	// primary key alone to suppress concurrent duplicates.
	var locker ingest.Locker
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		locker = infraRedis.NewIngestLock(redisClient, log)
		log.Info("Redis connection established")
	} else {
		log.Warn("REDIS_URL not configured, ingest locking disabled")
	}

	// Initialize the ingestion pipeline
	extractor := extract.NewExtractor(cfg.OCREnabled)
	registry := parse.NewRegistry()
	ingestSvc := ingest.NewService(repo, extractor, registry, ingest.Config{
		Workers: cfg.ExtractWorkers,
		Locker:  locker,
	}, log)
	log.Info("Ingestion service initialized", "workers", cfg.ExtractWorkers, "ocr", cfg.OCREnabled)

	// Initialize the archival worker
	archiveWorker := archive.NewWorker(repo, cfg.ArchiveDir, log)
	log.Info("Archive worker initialized", "dir", cfg.ArchiveDir)

	// Initialize HTTP handlers
	statementHandler := handler.NewStatementHandler(ingestSvc, repo, cfg.UploadDir)
	transactionHandler := handler.NewTransactionHandler(repo)
	archiveHandler := handler.NewArchiveHandler(archiveWorker)
	healthHandler := handler.NewHealthHandler(db)

	// Determine allowed origins for CORS
	allowedOrigins := []string{"http://localhost:5173"}
	if cfg.IsProduction() {
		if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
			allowedOrigins = []string{origins}
		}
	}

	// Create HTTP router
	r := httpapi.NewRouter(httpapi.Config{
		Logger:             log,
		AllowedOrigins:     allowedOrigins,
		StatementHandler:   statementHandler,
		TransactionHandler: transactionHandler,
		ArchiveHandler:     archiveHandler,
		HealthHandler:      healthHandler,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}
