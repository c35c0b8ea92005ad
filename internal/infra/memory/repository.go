package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/store"
)

// Repository is an in-memory store.Repository. It is safe for concurrent use.
// Data is lost on restart.
type Repository struct {
	mu           sync.RWMutex
	transactions map[string]*domain.Transaction
	runs         []*domain.ExtractionRun
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		transactions: make(map[string]*domain.Transaction),
	}
}

// InsertTransaction stores a copy of tx.
func (r *Repository) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("InsertTransaction: transaction ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transactions[tx.ID]; exists {
		return fmt.Errorf("InsertTransaction: duplicate transaction ID %s", tx.ID)
	}
	txCopy := *tx
	r.transactions[tx.ID] = &txCopy
	return nil
}

// GetTransaction returns a copy of the stored transaction.
func (r *Repository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, exists := r.transactions[id]
	if !exists {
		return nil, fmt.Errorf("GetTransaction %s: %w", id, store.ErrNotFound)
	}
	txCopy := *tx
	return &txCopy, nil
}

// ListTransactions returns matching transactions, newest date first.
func (r *Repository) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Transaction, 0)
	for _, tx := range r.transactions {
		if !filter.Match(tx) {
			continue
		}
		txCopy := *tx
		result = append(result, &txCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit := filter.EffectiveLimit(); limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// InsertExtractionRun appends a copy of run.
func (r *Repository) InsertExtractionRun(ctx context.Context, run *domain.ExtractionRun) error {
	if run.ID == "" {
		return fmt.Errorf("InsertExtractionRun: run ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	runCopy := *run
	r.runs = append(r.runs, &runCopy)
	return nil
}

// ListExtractionRuns returns the most recent runs first.
func (r *Repository) ListExtractionRuns(ctx context.Context, limit int) ([]*domain.ExtractionRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit = store.ClampLimit(limit)
	result := make([]*domain.ExtractionRun, 0, min(limit, len(r.runs)))
	for i := len(r.runs) - 1; i >= 0 && len(result) < limit; i-- {
		runCopy := *r.runs[i]
		result = append(result, &runCopy)
	}
	return result, nil
}

// Close is a no-op.
func (r *Repository) Close() error { return nil }

var _ store.Repository = (*Repository)(nil)
