package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-capture/internal/domain"
)

type ExtractionRunRow struct {
	ExtractionRunID string              `bigquery:"extraction_run_id"` // REQUIRED
	JobID           bigquery.NullString `bigquery:"job_id"`

	Modality  string              `bigquery:"modality"` // REQUIRED
	SourceRef bigquery.NullString `bigquery:"source_ref"`
	Language  bigquery.NullString `bigquery:"language"`

	Provider bigquery.NullString `bigquery:"provider"`
	Model    bigquery.NullString `bigquery:"model"`

	Status        string              `bigquery:"status"` // REQUIRED: SUCCEEDED | FAILED
	ErrorMessage  bigquery.NullString `bigquery:"error_message"`
	RawResponse   bigquery.NullString `bigquery:"raw_response"`
	TransactionID bigquery.NullString `bigquery:"transaction_id"`

	StartedTS  time.Time `bigquery:"started_ts"`  // REQUIRED
	FinishedTS time.Time `bigquery:"finished_ts"` // REQUIRED
}

func newExtractionRunRow(run *domain.ExtractionRun) *ExtractionRunRow {
	return &ExtractionRunRow{
		ExtractionRunID: run.ID,
		JobID:           nullString(run.JobID),
		Modality:        string(run.Modality),
		SourceRef:       nullString(run.SourceRef),
		Language:        nullString(run.Language),
		Provider:        nullString(run.Provider),
		Model:           nullString(run.Model),
		Status:          string(run.Status),
		ErrorMessage:    nullString(run.ErrorMessage),
		RawResponse:     nullString(run.RawResponse),
		TransactionID:   nullString(run.TransactionID),
		StartedTS:       run.StartedAt.UTC(),
		FinishedTS:      run.FinishedAt.UTC(),
	}
}

// ExtractionRun converts the row back into the domain record.
func (r *ExtractionRunRow) ExtractionRun() *domain.ExtractionRun {
	return &domain.ExtractionRun{
		ID:            r.ExtractionRunID,
		JobID:         r.JobID.StringVal,
		Modality:      domain.Modality(r.Modality),
		SourceRef:     r.SourceRef.StringVal,
		Language:      r.Language.StringVal,
		Provider:      r.Provider.StringVal,
		Model:         r.Model.StringVal,
		Status:        domain.RunStatus(r.Status),
		ErrorMessage:  r.ErrorMessage.StringVal,
		RawResponse:   r.RawResponse.StringVal,
		TransactionID: r.TransactionID.StringVal,
		StartedAt:     r.StartedTS.UTC(),
		FinishedAt:    r.FinishedTS.UTC(),
	}
}
