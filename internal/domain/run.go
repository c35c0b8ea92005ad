package domain

import "time"

// RunStatus is the outcome of one extraction attempt.
type RunStatus string

const (
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// ExtractionRun records a single extraction call and what came of it,
// whether or not a transaction was produced.
type ExtractionRun struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id,omitempty"`
	Modality      Modality  `json:"modality"`
	SourceRef     string    `json:"source_ref"`
	Language      string    `json:"language"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Status        RunStatus `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	RawResponse   string    `json:"raw_response,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}
