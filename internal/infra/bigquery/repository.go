// Package bigquery is the BigQuery store.Repository backend. Transactions
// are streamed in; extraction runs go through DML so they can be listed
// right away.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-capture/internal/store"
	"google.golang.org/api/googleapi"
)

// Repository holds a shared BigQuery client for one dataset.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRepository creates a client for projectID and binds it to datasetID.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewWithClient(client, projectID, datasetID), nil
}

// NewWithClient wraps an existing client. Close closes it.
func NewWithClient(client *bigquery.Client, projectID, datasetID string) *Repository {
	return &Repository{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
	}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureTables creates the dataset and both tables when they are missing.
// Existing tables are left untouched.
func (r *Repository) EnsureTables(ctx context.Context) error {
	dataset := r.client.DatasetInProject(r.projectID, r.datasetID)
	if err := dataset.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("EnsureTables: creating dataset %s: %w", r.datasetID, err)
	}

	tables := []struct {
		name      string
		row       any
		partition string
	}{
		{transactionsTable, TransactionRow{}, "transaction_date"},
		{extractionRunsTable, ExtractionRunRow{}, ""},
	}
	for _, t := range tables {
		schema, err := bigquery.InferSchema(t.row)
		if err != nil {
			return fmt.Errorf("EnsureTables: inferring %s schema: %w", t.name, err)
		}
		meta := &bigquery.TableMetadata{Schema: schema}
		if t.partition != "" {
			meta.TimePartitioning = &bigquery.TimePartitioning{Field: t.partition}
		}
		if err := dataset.Table(t.name).Create(ctx, meta); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("EnsureTables: creating %s: %w", t.name, err)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}

var _ store.Repository = (*Repository)(nil)
