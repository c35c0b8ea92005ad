// Package app wires configuration into the services shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-capture/internal/capture"
	"github.com/dvloznov/finance-capture/internal/config"
	"github.com/dvloznov/finance-capture/internal/extraction"
	"github.com/dvloznov/finance-capture/internal/infra"
	"github.com/dvloznov/finance-capture/internal/jobs"
	"github.com/dvloznov/finance-capture/internal/jobs/amqpqueue"
	"github.com/dvloznov/finance-capture/internal/jobs/inmemory"
	"github.com/dvloznov/finance-capture/internal/media"
	"github.com/dvloznov/finance-capture/internal/metrics"
	"github.com/dvloznov/finance-capture/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// queueBuffer is the channel size of the in-memory queue.
const queueBuffer = 100

// App holds the long-lived dependencies built from a Config.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Media     *media.Store
	Repo      store.Repository
	Extractor *extraction.Extractor
	Capture   *capture.Service
}

// New builds the media store, the repository, the extractor and the
// capture service. Close releases them.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: reg,
		Metrics:  metrics.New(reg),
		Media:    media.NewStore(),
	}

	repo, err := infra.OpenRepository(ctx, cfg)
	if err != nil {
		a.Media.Close()
		return nil, fmt.Errorf("open repository: %w", err)
	}
	a.Repo = repo

	var baseURL string
	if cfg.LLMProvider != "gemini" {
		baseURL = cfg.OpenAIBaseURL
	}

	extractor, err := extraction.New(ctx, extraction.Config{
		Provider:           cfg.LLMProvider,
		APIKey:             cfg.APIKey(),
		BaseURL:            baseURL,
		Model:              cfg.LLMModel,
		TranscriptionModel: cfg.TranscriptionModel,
	},
		extraction.WithLogger(log.With().Str("component", "extraction").Logger()),
		extraction.WithMetrics(a.Metrics),
		extraction.WithFetcher(a.Media),
		extraction.WithSampling(float32(cfg.LLMTemperature), cfg.LLMMaxTokens),
		extraction.WithRetryPolicy(retryPolicy(cfg)),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create extractor: %w", err)
	}
	a.Extractor = extractor

	a.Capture = capture.NewService(extractor, repo,
		capture.WithDefaultOwner(cfg.DefaultHouseholdID, cfg.DefaultUserID),
		capture.WithLogger(log.With().Str("component", "capture").Logger()),
	)

	return a, nil
}

func retryPolicy(cfg *config.Config) extraction.RetryPolicy {
	p := extraction.DefaultRetryPolicy()
	if cfg.RetryMaxAttempts > 0 {
		p.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialDelay > 0 {
		p.InitialDelay = cfg.RetryInitialDelay
	}
	if cfg.RetryMaxDelay > 0 {
		p.MaxDelay = cfg.RetryMaxDelay
	}
	return p
}

// OpenQueue connects the configured job queue. State transitions are
// recorded in jobStore.
func (a *App) OpenQueue(jobStore jobs.JobStore) (jobs.Queue, error) {
	switch a.Config.JobQueue {
	case "amqp":
		q, err := amqpqueue.Dial(a.Config.AMQPURL, a.Config.AMQPExchange, a.Config.AMQPQueue,
			amqpqueue.WithWorkers(a.Config.JobWorkers),
			amqpqueue.WithStore(jobStore),
			amqpqueue.WithLogger(a.Logger.With().Str("component", "amqp").Logger()),
			amqpqueue.WithMetrics(a.Metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("OpenQueue: %w", err)
		}
		return q, nil
	case "memory", "":
		return inmemory.NewQueue(queueBuffer, jobStore,
			inmemory.WithWorkers(a.Config.JobWorkers),
			inmemory.WithLogger(a.Logger.With().Str("component", "queue").Logger()),
			inmemory.WithMetrics(a.Metrics),
		), nil
	default:
		return nil, fmt.Errorf("OpenQueue: unknown job queue %q", a.Config.JobQueue)
	}
}

// Close releases the repository and the media store.
func (a *App) Close() error {
	var errs []error
	if a.Repo != nil {
		errs = append(errs, a.Repo.Close())
	}
	if a.Media != nil {
		errs = append(errs, a.Media.Close())
	}
	return errors.Join(errs...)
}
