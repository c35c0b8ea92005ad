// Package store defines the persistence contract for captured transactions
// and extraction runs. Backends live under internal/infra.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-capture/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

const (
	// DefaultListLimit applies when a filter leaves Limit unset.
	DefaultListLimit = 100
	// MaxListLimit caps any single listing.
	MaxListLimit = 1000
)

// TransactionFilter narrows ListTransactions. Zero fields match everything;
// From and To bound the transaction date inclusively.
type TransactionFilter struct {
	HouseholdID string
	From        time.Time
	To          time.Time
	Type        domain.TransactionType
	Limit       int
}

// EffectiveLimit clamps Limit to (0, MaxListLimit].
func (f TransactionFilter) EffectiveLimit() int {
	return clampLimit(f.Limit)
}

// Match reports whether tx passes the filter.
func (f TransactionFilter) Match(tx *domain.Transaction) bool {
	if f.HouseholdID != "" && tx.HouseholdID != f.HouseholdID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Date.After(f.To) {
		return false
	}
	return true
}

// ClampLimit applies DefaultListLimit and MaxListLimit to n.
func ClampLimit(n int) int { return clampLimit(n) }

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	if n > MaxListLimit {
		return MaxListLimit
	}
	return n
}

// Repository persists transactions and extraction runs. Listings return the
// newest records first.
type Repository interface {
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*domain.Transaction, error)

	InsertExtractionRun(ctx context.Context, run *domain.ExtractionRun) error
	ListExtractionRuns(ctx context.Context, limit int) ([]*domain.ExtractionRun, error)

	Close() error
}
