package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-capture/internal/app"
	"github.com/dvloznov/finance-capture/internal/config"
	"github.com/dvloznov/finance-capture/internal/jobs/inmemory"
	"github.com/dvloznov/finance-capture/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	var (
		workers     = flag.Int("workers", cfg.JobWorkers, "Concurrent jobs (or set JOB_WORKERS env)")
		metricsAddr = flag.String("metrics-addr", ":9102", "Address of the /metrics listener, empty to disable")
	)
	flag.Parse()
	cfg.JobWorkers = *workers

	log := logger.New()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if lvlLog, err := logger.NewWithLevel(cfg.LogLevel); err == nil {
		log = lvlLog
	}

	if cfg.JobQueue != "amqp" {
		// An in-memory queue only sees jobs published by this process.
		log.Warn().Str("queue", cfg.JobQueue).Msg("Worker is not attached to a shared queue")
	}

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	// Job state lives with the process that runs the job.
	jobStore := inmemory.NewStore()
	jobQueue, err := a.OpenQueue(jobStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open job queue")
	}

	log.Info().Int("workers", cfg.JobWorkers).Str("queue", cfg.JobQueue).Msg("Starting worker service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobQueue.Start(ctx, a.Capture.JobHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux, ReadTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics listener stopped")
			}
		}()
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	log.Info().Msg("Worker service exited")
}
