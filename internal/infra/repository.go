// Package infra selects and opens the configured persistence backend.
package infra

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-capture/internal/config"
	"github.com/dvloznov/finance-capture/internal/infra/bigquery"
	"github.com/dvloznov/finance-capture/internal/infra/memory"
	"github.com/dvloznov/finance-capture/internal/infra/sqlite"
	"github.com/dvloznov/finance-capture/internal/store"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
)

// OpenRepository opens the backend named by cfg.DataBackend. The caller owns
// the returned repository and must Close it.
func OpenRepository(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	switch cfg.DataBackend {
	case BackendMemory, "":
		return memory.NewRepository(), nil
	case BackendSQLite:
		repo, err := sqlite.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("OpenRepository: %w", err)
		}
		return repo, nil
	case BackendBigQuery:
		repo, err := bigquery.NewRepository(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("OpenRepository: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("OpenRepository: unknown data backend %q", cfg.DataBackend)
	}
}
