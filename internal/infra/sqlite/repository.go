// Package sqlite is the SQLite store.Repository backend. The schema is
// managed by embedded golang-migrate migrations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/store"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const transactionColumns = `id, household_id, user_id, type, amount, currency, date,
	merchant, payee, method, category_name, category_id, notes,
	source, source_ref, confidence, language, created_at`

const runColumns = `id, job_id, modality, source_ref, language, provider, model,
	status, error_message, raw_response, transaction_id, started_at, finished_at`

// Repository stores transactions and extraction runs in SQLite.
type Repository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// migrates it to the latest schema.
func NewSQLiteRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already migrated database.
func NewWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InsertTransaction stores tx.
func (r *Repository) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.HouseholdID, tx.UserID, string(tx.Type), tx.Amount.String(), tx.Currency,
		formatTime(tx.Date),
		tx.Merchant, tx.Payee, tx.Method, tx.CategoryName, tx.CategoryID, tx.Notes,
		string(tx.Source), tx.SourceRef, tx.Confidence, tx.Language,
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

// GetTransaction loads one transaction by ID.
func (r *Repository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get transaction %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

// ListTransactions returns matching transactions, newest date first.
func (r *Repository) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]*domain.Transaction, error) {
	where, args := transactionWhere(filter)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where +
		` ORDER BY date DESC, created_at DESC LIMIT ?`
	args = append(args, filter.EffectiveLimit())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return result, nil
}

// InsertExtractionRun stores run.
func (r *Repository) InsertExtractionRun(ctx context.Context, run *domain.ExtractionRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO extraction_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, string(run.Modality), run.SourceRef, run.Language,
		run.Provider, run.Model, string(run.Status), run.ErrorMessage, run.RawResponse,
		run.TransactionID, formatTime(run.StartedAt), formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert extraction run %s: %w", run.ID, err)
	}
	return nil
}

// ListExtractionRuns returns the most recently started runs first.
func (r *Repository) ListExtractionRuns(ctx context.Context, limit int) ([]*domain.ExtractionRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM extraction_runs ORDER BY started_at DESC LIMIT ?`,
		store.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list extraction runs: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.ExtractionRun, 0)
	for rows.Next() {
		var (
			run                   domain.ExtractionRun
			modality, status      string
			startedAt, finishedAt string
		)
		if err := rows.Scan(&run.ID, &run.JobID, &modality, &run.SourceRef, &run.Language,
			&run.Provider, &run.Model, &status, &run.ErrorMessage, &run.RawResponse,
			&run.TransactionID, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("list extraction runs: %w", err)
		}
		run.Modality = domain.Modality(modality)
		run.Status = domain.RunStatus(status)
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("list extraction runs: started_at: %w", err)
		}
		if run.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, fmt.Errorf("list extraction runs: finished_at: %w", err)
		}
		result = append(result, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list extraction runs: %w", err)
	}
	return result, nil
}

func transactionWhere(f store.TransactionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.HouseholdID != "" {
		conds = append(conds, "household_id = ?")
		args = append(args, f.HouseholdID)
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if !f.From.IsZero() {
		conds = append(conds, "date >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "date <= ?")
		args = append(args, formatTime(f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var (
		tx                  domain.Transaction
		typ, amount, source string
		date, createdAt     string
	)
	if err := s.Scan(&tx.ID, &tx.HouseholdID, &tx.UserID, &typ, &amount, &tx.Currency, &date,
		&tx.Merchant, &tx.Payee, &tx.Method, &tx.CategoryName, &tx.CategoryID, &tx.Notes,
		&source, &tx.SourceRef, &tx.Confidence, &tx.Language, &createdAt); err != nil {
		return nil, err
	}

	var err error
	tx.Type = domain.TransactionType(typ)
	tx.Source = domain.Modality(source)
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("amount %q: %w", amount, err)
	}
	if tx.Date, err = parseTime(date); err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	return &tx, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

var _ store.Repository = (*Repository)(nil)
