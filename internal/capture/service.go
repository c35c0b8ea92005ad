// Package capture turns extraction results into stored transactions and
// keeps an audit trail of every extraction attempt.
package capture

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/extraction"
	"github.com/dvloznov/finance-capture/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxErrorLen bounds the error message stored on a run.
const maxErrorLen = 2000

// Extractor is the part of *extraction.Extractor the service needs.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (*extraction.Response, error)
}

// Request is one capture: an input of a given modality on behalf of a
// household member. JobID is set when the capture runs inside a job.
type Request struct {
	Modality    domain.Modality
	Input       string
	Language    string
	HouseholdID string
	UserID      string
	JobID       string
}

// Result is what a successful capture produced.
type Result struct {
	Extraction  domain.ExtractionResult
	Transaction *domain.Transaction
	Run         *domain.ExtractionRun
}

type Service struct {
	extractor   Extractor
	repo        store.Repository
	categories  []domain.Category
	householdID string
	userID      string
	clock       func() time.Time
	logger      zerolog.Logger
}

type Option func(*Service)

// WithCategories replaces the default taxonomy.
func WithCategories(categories []domain.Category) Option {
	return func(s *Service) { s.categories = categories }
}

// WithDefaultOwner sets the household and user used when a request leaves them empty.
func WithDefaultOwner(householdID, userID string) Option {
	return func(s *Service) {
		s.householdID = householdID
		s.userID = userID
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// NewService creates a capture service over extractor and repo.
func NewService(extractor Extractor, repo store.Repository, opts ...Option) *Service {
	s := &Service{
		extractor:   extractor,
		repo:        repo,
		categories:  domain.DefaultCategories(),
		householdID: "default",
		userID:      "default",
		clock:       time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Categories returns the taxonomy used for category resolution.
func (s *Service) Categories() []domain.Category {
	out := make([]domain.Category, len(s.categories))
	copy(out, s.categories)
	return out
}

// Extract runs the extraction without persisting anything.
func (s *Service) Extract(ctx context.Context, req Request) (*extraction.Response, error) {
	return s.extractor.Extract(ctx, extraction.Request{
		Modality: req.Modality,
		Input:    req.Input,
		Language: req.Language,
	})
}

// Capture extracts req, stores the resulting transaction and records the
// attempt as an ExtractionRun. Extraction errors are returned unchanged
// after a FAILED run has been recorded.
func (s *Service) Capture(ctx context.Context, req Request) (*Result, error) {
	if req.HouseholdID == "" {
		req.HouseholdID = s.householdID
	}
	if req.UserID == "" {
		req.UserID = s.userID
	}

	log := s.logger.With().
		Str("modality", string(req.Modality)).
		Str("household_id", req.HouseholdID).
		Str("job_id", req.JobID).
		Logger()

	run := &domain.ExtractionRun{
		ID:        uuid.NewString(),
		JobID:     req.JobID,
		Modality:  req.Modality,
		SourceRef: sourceRef(req),
		Language:  req.Language,
		StartedAt: s.clock().UTC(),
	}

	resp, err := s.Extract(ctx, req)
	if resp != nil {
		run.Provider = resp.Provider
		run.Model = resp.Model
		run.RawResponse = resp.RawResponse
		if resp.Language != "" {
			run.Language = resp.Language
		}
	}
	if err != nil {
		s.recordFailure(ctx, log, run, err)
		return nil, err
	}

	tx, err := domain.NewTransaction(resp.Result, req.HouseholdID, req.UserID, req.Modality, run.SourceRef)
	if err != nil {
		s.recordFailure(ctx, log, run, err)
		return nil, fmt.Errorf("Capture: building transaction: %w", err)
	}
	tx.CategoryID = ResolveCategory(s.categories, tx.CategoryName, tx.Type)
	tx.CreatedAt = s.clock().UTC()

	if err := s.repo.InsertTransaction(ctx, tx); err != nil {
		s.recordFailure(ctx, log, run, err)
		return nil, fmt.Errorf("Capture: storing transaction: %w", err)
	}

	run.Status = domain.RunSucceeded
	run.TransactionID = tx.ID
	run.FinishedAt = s.clock().UTC()
	if err := s.repo.InsertExtractionRun(ctx, run); err != nil {
		// The transaction is already stored; losing the audit row is not fatal.
		log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to store extraction run")
	}

	log.Info().
		Str("transaction_id", tx.ID).
		Str("category_id", tx.CategoryID).
		Str("amount", tx.Amount.String()).
		Str("currency", tx.Currency).
		Msg("Transaction captured")

	return &Result{Extraction: resp.Result, Transaction: tx, Run: run}, nil
}

func (s *Service) recordFailure(ctx context.Context, log zerolog.Logger, run *domain.ExtractionRun, cause error) {
	run.Status = domain.RunFailed
	run.ErrorMessage = truncate(cause.Error(), maxErrorLen)
	run.FinishedAt = s.clock().UTC()

	log.Warn().Err(cause).Str("run_id", run.ID).Msg("Capture failed")

	// The caller's context may already be cancelled; the audit row should still land.
	if err := s.repo.InsertExtractionRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to store extraction run")
	}
}

// sourceRef is the URL of an image or audio input. Text has none.
func sourceRef(req Request) string {
	if req.Modality == domain.ModalityText {
		return ""
	}
	return req.Input
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
