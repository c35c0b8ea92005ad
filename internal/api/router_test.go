package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/finance-capture/internal/capture"
	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/extraction"
	"github.com/dvloznov/finance-capture/internal/infra/memory"
	"github.com/dvloznov/finance-capture/internal/jobs/inmemory"
	"github.com/dvloznov/finance-capture/internal/metrics"
	"github.com/dvloznov/finance-capture/internal/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCapture struct {
	ExtractFunc func(ctx context.Context, req capture.Request) (*extraction.Response, error)
	CaptureFunc func(ctx context.Context, req capture.Request) (*capture.Result, error)
	requests    []capture.Request
}

func (f *fakeCapture) Extract(ctx context.Context, req capture.Request) (*extraction.Response, error) {
	f.requests = append(f.requests, req)
	return f.ExtractFunc(ctx, req)
}

func (f *fakeCapture) Capture(ctx context.Context, req capture.Request) (*capture.Result, error) {
	f.requests = append(f.requests, req)
	return f.CaptureFunc(ctx, req)
}

func (f *fakeCapture) Categories() []domain.Category { return domain.DefaultCategories() }

var coffee = domain.ExtractionResult{
	Type:       domain.TypeExpense,
	Amount:     5,
	Currency:   "USD",
	Date:       "2024-03-15",
	Merchant:   "Blue Bottle",
	Confidence: 0.9,
	Language:   "en",
}

type testServer struct {
	handler  http.Handler
	capture  *fakeCapture
	repo     *memory.Repository
	jobStore *inmemory.Store
	queue    *inmemory.Queue
	registry *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fc := &fakeCapture{
		ExtractFunc: func(context.Context, capture.Request) (*extraction.Response, error) {
			return &extraction.Response{Result: coffee}, nil
		},
	}
	repo := memory.NewRepository()
	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(10, jobStore)
	t.Cleanup(func() { queue.Close() })
	reg := prometheus.NewRegistry()

	h, err := NewRouter(Deps{
		Capture:   fc,
		Repo:      repo,
		JobStore:  jobStore,
		Publisher: queue,
		Metrics:   metrics.New(reg),
		Gatherer:  reg,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	return &testServer{handler: h, capture: fc, repo: repo, jobStore: jobStore, queue: queue, registry: reg}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestExtract_Text(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/extract/text", `{"input":"coffee 5 dollars","language":"en"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	result := out["result"].(map[string]any)
	assert.Equal(t, "expense", result["type"])
	assert.Equal(t, 5.0, result["amount"])
	assert.NotContains(t, out, "transaction")

	require.Len(t, s.capture.requests, 1)
	assert.Equal(t, capture.Request{Modality: domain.ModalityText, Input: "coffee 5 dollars", Language: "en"}, s.capture.requests[0])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestExtract_Save(t *testing.T) {
	s := newTestServer(t)
	s.capture.CaptureFunc = func(_ context.Context, req capture.Request) (*capture.Result, error) {
		return &capture.Result{
			Extraction: coffee,
			Transaction: &domain.Transaction{
				ID:          "tx-1",
				HouseholdID: req.HouseholdID,
				Amount:      decimal.RequireFromString("5"),
			},
		}, nil
	}

	rec := s.do(t, http.MethodPost, "/api/extract/image", `{"input":"gs://r/a.jpg","save":true,"household_id":"home"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tx := decode(t, rec)["transaction"].(map[string]any)
	assert.Equal(t, "tx-1", tx["id"])
	assert.Equal(t, "home", tx["household_id"])
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		err        error
		wantStatus int
	}{
		{"unknown modality", "/api/extract/video", `{"input":"x"}`, nil, http.StatusNotFound},
		{"bad body", "/api/extract/text", `{`, nil, http.StatusBadRequest},
		{"invalid input", "/api/extract/text", `{"input":""}`, extraction.ErrInvalidInput, http.StatusBadRequest},
		{"schema", "/api/extract/text", `{"input":"x"}`, &schema.ValidationError{Issues: []schema.Issue{{Field: "amount", Message: "is required"}}}, http.StatusUnprocessableEntity},
		{"malformed", "/api/extract/text", `{"input":"x"}`, &extraction.MalformedResponseError{Content: "hi", Err: errors.New("bad json")}, http.StatusBadGateway},
		{"upstream", "/api/extract/audio", `{"input":"https://x/a.m4a"}`, &extraction.ExtractionFailedError{Modality: domain.ModalityAudio, Err: extraction.ErrEmptyTranscription}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.capture.ExtractFunc = func(context.Context, capture.Request) (*extraction.Response, error) {
				return &extraction.Response{}, tt.err
			}

			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Contains(t, decode(t, rec), "error")
		})
	}
}

func TestExtract_SchemaIssues(t *testing.T) {
	s := newTestServer(t)
	s.capture.ExtractFunc = func(context.Context, capture.Request) (*extraction.Response, error) {
		return &extraction.Response{}, &schema.ValidationError{Issues: []schema.Issue{
			{Field: "amount", Message: "is required"},
			{Field: "type", Message: "must be one of expense, income, investment"},
		}}
	}

	rec := s.do(t, http.MethodPost, "/api/extract/text", `{"input":"x"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	issues := decode(t, rec)["issues"].([]any)
	require.Len(t, issues, 2)
	assert.Equal(t, "amount", issues[0].(map[string]any)["field"])
}

func TestExtract_PanicRecovered(t *testing.T) {
	s := newTestServer(t)
	s.capture.ExtractFunc = func(context.Context, capture.Request) (*extraction.Response, error) {
		panic("boom")
	}

	rec := s.do(t, http.MethodPost, "/api/extract/text", `{"input":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestJobs(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/jobs", `{"modality":"audio","input":"gs://n/a.m4a","language":"pt-BR"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	out := decode(t, rec)
	jobID := out["job_id"].(string)
	assert.Equal(t, "pending", out["status"])

	rec = s.do(t, http.MethodGet, "/api/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode(t, rec)
	assert.Equal(t, "audio", job["modality"])
	assert.Equal(t, "pt-BR", job["language"])

	rec = s.do(t, http.MethodGet, "/api/jobs?modality=audio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["count"])

	rec = s.do(t, http.MethodGet, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/jobs", `{"modality":"fax","input":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/jobs", `{"modality":"text"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs_QueueClosed(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.queue.Close())

	rec := s.do(t, http.MethodPost, "/api/jobs", `{"modality":"text","input":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTransactions(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for i, household := range []string{"home", "home", "office"} {
		require.NoError(t, s.repo.InsertTransaction(ctx, &domain.Transaction{
			ID:          []string{"a", "b", "c"}[i],
			HouseholdID: household,
			Type:        domain.TypeExpense,
			Amount:      decimal.NewFromInt(int64(i + 1)),
			Date:        time.Date(2024, 3, 10+i, 0, 0, 0, 0, time.UTC),
		}))
	}

	rec := s.do(t, http.MethodGet, "/api/transactions?household_id=home", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, 2.0, out["count"])
	first := out["transactions"].([]any)[0].(map[string]any)
	assert.Equal(t, "b", first["id"])

	rec = s.do(t, http.MethodGet, "/api/transactions?from=2024-03-11&to=2024-03-11", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["count"])

	rec = s.do(t, http.MethodGet, "/api/transactions/c", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "office", decode(t, rec)["household_id"])

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/transactions/zzz", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/transactions?type=gift", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/transactions?from=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/transactions?limit=ten", "").Code)
}

func TestRuns(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.repo.InsertExtractionRun(context.Background(), &domain.ExtractionRun{
		ID:     "run-1",
		Status: domain.RunFailed,
	}))

	rec := s.do(t, http.MethodGet, "/api/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["count"])
}

func TestCategories(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(len(domain.DefaultCategories())), decode(t, rec)["count"])
}

func TestTelemetryEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), AppName)

	rec = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `finance_capture_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusMethodNotAllowed, s.do(t, http.MethodGet, "/api/extract/text", "").Code)
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
