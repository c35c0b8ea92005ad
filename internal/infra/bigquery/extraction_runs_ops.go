package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/store"
	"google.golang.org/api/iterator"
)

const extractionRunsTable = "extraction_runs"

// InsertExtractionRun writes run with a DML INSERT so it is immediately
// visible to ListExtractionRuns.
func (r *Repository) InsertExtractionRun(ctx context.Context, run *domain.ExtractionRun) error {
	row := newExtractionRunRow(run)

	q := r.client.Query(fmt.Sprintf(`
		INSERT %s.%s (
			extraction_run_id,
			job_id,
			modality,
			source_ref,
			language,
			provider,
			model,
			status,
			error_message,
			raw_response,
			transaction_id,
			started_ts,
			finished_ts
		)
		VALUES (
			@extraction_run_id,
			@job_id,
			@modality,
			@source_ref,
			@language,
			@provider,
			@model,
			@status,
			@error_message,
			@raw_response,
			@transaction_id,
			@started_ts,
			@finished_ts
		)
	`, r.datasetID, extractionRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "extraction_run_id", Value: row.ExtractionRunID},
		{Name: "job_id", Value: row.JobID},
		{Name: "modality", Value: row.Modality},
		{Name: "source_ref", Value: row.SourceRef},
		{Name: "language", Value: row.Language},
		{Name: "provider", Value: row.Provider},
		{Name: "model", Value: row.Model},
		{Name: "status", Value: row.Status},
		{Name: "error_message", Value: row.ErrorMessage},
		{Name: "raw_response", Value: row.RawResponse},
		{Name: "transaction_id", Value: row.TransactionID},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "finished_ts", Value: row.FinishedTS},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("InsertExtractionRun: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("InsertExtractionRun: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("InsertExtractionRun: job error: %w", err)
	}
	return nil
}

// ListExtractionRuns returns the most recently started runs first.
func (r *Repository) ListExtractionRuns(ctx context.Context, limit int) ([]*domain.ExtractionRun, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s.%s
		ORDER BY started_ts DESC
		LIMIT @limit
	`, r.datasetID, extractionRunsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: store.ClampLimit(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListExtractionRuns: query read: %w", err)
	}

	result := make([]*domain.ExtractionRun, 0)
	for {
		var row ExtractionRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListExtractionRuns: iter next: %w", err)
		}
		result = append(result, row.ExtractionRun())
	}
	return result, nil
}
