// Package api wires the HTTP handlers, middleware and telemetry endpoints
// into one http.Handler.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/finance-capture/internal/api/handlers"
	"github.com/dvloznov/finance-capture/internal/api/middleware"
	"github.com/dvloznov/finance-capture/internal/jobs"
	"github.com/dvloznov/finance-capture/internal/metrics"
	"github.com/dvloznov/finance-capture/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"github.com/prometheus/exporter-toolkit/web"
	"github.com/rs/zerolog"
)

const (
	AppName = "finance-capture"
	AppDesc = "Turns receipt photos, voice notes and free text into structured financial transactions."
)

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Capture   handlers.CaptureService
	Repo      store.Repository
	JobStore  jobs.JobStore
	Publisher jobs.Publisher

	// MaxRetries is the retry budget of enqueued jobs.
	MaxRetries int

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// NewRouter builds the routed and middleware-wrapped handler.
func NewRouter(d Deps) (http.Handler, error) {
	extractHandler := handlers.NewExtractHandler(d.Capture)
	jobsHandler := handlers.NewJobsHandler(d.JobStore, d.Publisher, d.MaxRetries, d.Logger)
	transactionsHandler := handlers.NewTransactionsHandler(d.Repo, d.Logger)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/extract/{modality}", extractHandler.Extract)
	mux.HandleFunc("GET /api/categories", extractHandler.ListCategories)

	mux.HandleFunc("POST /api/jobs", jobsHandler.Enqueue)
	mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", jobsHandler.GetJob)

	mux.HandleFunc("GET /api/transactions", transactionsHandler.ListTransactions)
	mux.HandleFunc("GET /api/transactions/{id}", transactionsHandler.GetTransaction)
	mux.HandleFunc("GET /api/runs", transactionsHandler.ListRuns)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"version": version.Version,
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	landingPage, err := web.NewLandingPage(web.LandingConfig{
		Name:        AppName,
		Description: AppDesc,
		Version:     version.Print(AppName),
		Links: []web.LandingLinks{
			{Address: "/metrics", Text: "Metrics"},
			{Address: "/health", Text: "Health"},
			{Address: "/api/categories", Text: "Categories"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("NewRouter: landing page: %w", err)
	}
	mux.Handle("GET /{$}", landingPage)

	return middleware.Chain(mux,
		middleware.Recovery(d.Logger),
		middleware.RequestID,
		middleware.Logger(d.Logger),
		middleware.CORS,
		middleware.Metrics(d.Metrics),
	), nil
}
