package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/extraction"
	"github.com/dvloznov/finance-capture/internal/infra/memory"
	"github.com/dvloznov/finance-capture/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	ExtractFunc func(ctx context.Context, req extraction.Request) (*extraction.Response, error)
	requests    []extraction.Request
}

func (f *fakeExtractor) Extract(ctx context.Context, req extraction.Request) (*extraction.Response, error) {
	f.requests = append(f.requests, req)
	return f.ExtractFunc(ctx, req)
}

// failingRepo rejects transaction inserts and records runs.
type failingRepo struct {
	*memory.Repository
}

func (failingRepo) InsertTransaction(context.Context, *domain.Transaction) error {
	return errors.New("disk full")
}

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func amazonResponse() *extraction.Response {
	return &extraction.Response{
		Result: domain.ExtractionResult{
			Type:       domain.TypeExpense,
			Amount:     51.99,
			Currency:   "usd",
			Date:       "2024-03-15",
			Merchant:   "Amazon",
			Method:     "card",
			Category:   "🛒 shopping",
			Confidence: 0.9,
			Language:   "en",
			RawText:    "Spent 51.99 at Amazon",
		},
		Modality:    domain.ModalityText,
		Language:    "en",
		RawResponse: `{"type":"expense"}`,
		Provider:    "openai",
		Model:       "gpt-4o",
	}
}

func TestCapture_StoresTransactionAndRun(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	fx := &fakeExtractor{ExtractFunc: func(context.Context, extraction.Request) (*extraction.Response, error) {
		return amazonResponse(), nil
	}}
	svc := NewService(fx, repo, WithClock(func() time.Time { return fixedNow }), WithDefaultOwner("home", "ana"))

	res, err := svc.Capture(ctx, Request{Modality: domain.ModalityText, Input: "Spent 51.99 at Amazon", Language: "en"})
	require.NoError(t, err)

	require.Len(t, fx.requests, 1)
	assert.Equal(t, extraction.Request{Modality: domain.ModalityText, Input: "Spent 51.99 at Amazon", Language: "en"}, fx.requests[0])

	tx := res.Transaction
	assert.Equal(t, "home", tx.HouseholdID)
	assert.Equal(t, "ana", tx.UserID)
	assert.Equal(t, "shopping", tx.CategoryID)
	assert.Equal(t, "USD", tx.Currency)
	assert.True(t, decimal.RequireFromString("51.99").Equal(tx.Amount))
	assert.Equal(t, fixedNow, tx.CreatedAt)
	assert.Equal(t, "Spent 51.99 at Amazon", tx.Notes)

	stored, err := repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, stored.ID)

	runs, err := repo.ListExtractionRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunSucceeded, runs[0].Status)
	assert.Equal(t, tx.ID, runs[0].TransactionID)
	assert.Equal(t, "openai", runs[0].Provider)
	assert.Equal(t, "gpt-4o", runs[0].Model)
	assert.Equal(t, `{"type":"expense"}`, runs[0].RawResponse)
	assert.Empty(t, runs[0].SourceRef)
}

func TestCapture_ExtractionFailureRecordsRun(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	cause := &extraction.ExtractionFailedError{Modality: domain.ModalityImage, Err: errors.New(strings.Repeat("x", 3000))}
	fx := &fakeExtractor{ExtractFunc: func(context.Context, extraction.Request) (*extraction.Response, error) {
		return &extraction.Response{Modality: domain.ModalityImage, Provider: "gemini", Model: "gemini-2.5-flash"}, cause
	}}
	svc := NewService(fx, repo)

	res, err := svc.Capture(ctx, Request{Modality: domain.ModalityImage, Input: "gs://receipts/a.jpg", JobID: "job-1"})
	assert.Nil(t, res)
	assert.Same(t, cause, err, "extraction errors are returned unchanged")

	runs, err := repo.ListExtractionRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, "job-1", run.JobID)
	assert.Equal(t, "gs://receipts/a.jpg", run.SourceRef)
	assert.Equal(t, "gemini", run.Provider)
	assert.Len(t, run.ErrorMessage, maxErrorLen)
	assert.True(t, strings.HasPrefix(run.ErrorMessage, "Failed to extract data from image"))

	list, err := repo.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCapture_InvalidInputIsNotWrapped(t *testing.T) {
	repo := memory.NewRepository()
	fx := &fakeExtractor{ExtractFunc: func(context.Context, extraction.Request) (*extraction.Response, error) {
		return &extraction.Response{}, extraction.ErrInvalidInput
	}}

	_, err := NewService(fx, repo).Capture(context.Background(), Request{Modality: domain.ModalityText})
	assert.True(t, errors.Is(err, extraction.ErrInvalidInput))
}

func TestCapture_StoreFailure(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewRepository()
	fx := &fakeExtractor{ExtractFunc: func(context.Context, extraction.Request) (*extraction.Response, error) {
		return amazonResponse(), nil
	}}

	_, err := NewService(fx, failingRepo{mem}).Capture(ctx, Request{Modality: domain.ModalityText, Input: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storing transaction")

	runs, _ := mem.ListExtractionRuns(ctx, 10)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunFailed, runs[0].Status)
	assert.Equal(t, "disk full", runs[0].ErrorMessage)
}

func TestCapture_BadDate(t *testing.T) {
	fx := &fakeExtractor{ExtractFunc: func(context.Context, extraction.Request) (*extraction.Response, error) {
		resp := amazonResponse()
		resp.Result.Date = "yesterday"
		return resp, nil
	}}

	_, err := NewService(fx, memory.NewRepository()).Capture(context.Background(), Request{Modality: domain.ModalityText, Input: "x"})
	assert.ErrorContains(t, err, "building transaction")
}

func TestCapture_FailedRunSurvivesCancellation(t *testing.T) {
	repo := memory.NewRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fx := &fakeExtractor{ExtractFunc: func(ctx context.Context, _ extraction.Request) (*extraction.Response, error) {
		return &extraction.Response{}, ctx.Err()
	}}

	_, err := NewService(fx, repo).Capture(ctx, Request{Modality: domain.ModalityAudio, Input: "https://x/a.m4a"})
	assert.True(t, errors.Is(err, context.Canceled))

	runs, _ := repo.ListExtractionRuns(context.Background(), 10)
	assert.Len(t, runs, 1)
}

func TestResolveCategory(t *testing.T) {
	cats := []domain.Category{
		{ID: "refunds", Name: "Refunds", Type: domain.TypeIncome},
		{ID: "shopping", Name: "Shopping", Type: domain.TypeExpense},
		{ID: "shopping-income", Name: "Shopping", Type: domain.TypeIncome},
		{ID: domain.UncategorizedID, Name: "Uncategorized"},
	}

	tests := []struct {
		name   string
		input  string
		txType domain.TransactionType
		want   string
	}{
		{"exact", "Shopping", domain.TypeExpense, "shopping"},
		{"case and spacing", "  shopping  ", domain.TypeExpense, "shopping"},
		{"emoji", "🛒 Shopping", domain.TypeExpense, "shopping"},
		{"type preferred", "Shopping", domain.TypeIncome, "shopping-income"},
		{"other type fallback", "Refunds", domain.TypeExpense, "refunds"},
		{"by id", "refunds", domain.TypeIncome, "refunds"},
		{"unknown", "Pets", domain.TypeExpense, domain.UncategorizedID},
		{"empty", "", domain.TypeExpense, domain.UncategorizedID},
		{"emoji only", "🍔", domain.TypeExpense, domain.UncategorizedID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCategory(cats, tt.input, tt.txType))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abc", 2))
	// "é" is two bytes; never split it.
	assert.Equal(t, "a", truncate("aé", 2))
}

func TestCategoriesReturnsCopy(t *testing.T) {
	svc := NewService(nil, nil)
	cats := svc.Categories()
	cats[0].Name = "changed"
	assert.NotEqual(t, "changed", svc.Categories()[0].Name)
}
