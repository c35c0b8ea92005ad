package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-capture/internal/api"
	"github.com/dvloznov/finance-capture/internal/app"
	"github.com/dvloznov/finance-capture/internal/config"
	"github.com/dvloznov/finance-capture/internal/jobs/inmemory"
	"github.com/dvloznov/finance-capture/internal/logger"
)

func main() {
	cfg := config.Load()

	// Parse command-line flags
	var (
		port    = flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
		backend = flag.String("backend", cfg.DataBackend, "Data backend: memory, sqlite or bigquery (or set DATA_BACKEND env)")
		queue   = flag.String("queue", cfg.JobQueue, "Job queue: memory or amqp (or set JOB_QUEUE env)")
		consume = flag.Bool("consume", true, "Process jobs in this process")
	)
	flag.Parse()

	cfg.Port = *port
	cfg.DataBackend = *backend
	cfg.JobQueue = *queue

	log := logger.New()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if lvlLog, err := logger.NewWithLevel(cfg.LogLevel); err == nil {
		log = lvlLog
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue, err := a.OpenQueue(jobStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open job queue")
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if *consume {
		log.Info().Str("queue", cfg.JobQueue).Int("workers", cfg.JobWorkers).Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, a.Capture.JobHandler()); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job consumer")
		}
	}

	handler, err := api.NewRouter(api.Deps{
		Capture:    a.Capture,
		Repo:       a.Repo,
		JobStore:   jobStore,
		Publisher:  jobQueue,
		MaxRetries: cfg.JobMaxRetries,
		Metrics:    a.Metrics,
		Gatherer:   a.Registry,
		Logger:     log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build router")
	}

	// Extraction of a voice note can take a while; the write timeout
	// leaves room for transcription plus retries.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("backend", cfg.DataBackend).
			Str("provider", a.Extractor.Provider()).
			Str("model", a.Extractor.Model()).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
