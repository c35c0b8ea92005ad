// Package jobs defines asynchronous extraction jobs and the queue and store
// contracts that carry them.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-capture/internal/domain"
)

// DefaultMaxRetries applies when a published job leaves MaxRetries unset.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned by JobStore lookups for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueClosed is returned when publishing to or starting a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ExtractJob asks a worker to capture one input into a transaction.
type ExtractJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Modality    domain.Modality `json:"modality"`
	Input       string          `json:"input"`
	Language    string          `json:"language,omitempty"`
	HouseholdID string          `json:"household_id,omitempty"`
	UserID      string          `json:"user_id,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`

	// TransactionID is set once the job has stored a transaction.
	TransactionID string `json:"transaction_id,omitempty"`
}

// Publisher enqueues jobs. Implementations: inmemory.Queue, amqpqueue.Queue.
type Publisher interface {
	// PublishExtract publishes an extraction job, filling in its ID,
	// status, creation time and retry budget when unset.
	PublishExtract(ctx context.Context, job *ExtractJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// Queue is a broker that both publishes and consumes jobs.
type Queue interface {
	Publisher
	Consumer
}

// JobHandler processes a job. A returned error is retried unless it is
// wrapped with Permanent. The handler may set job.TransactionID.
type JobHandler func(ctx context.Context, job *ExtractJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ExtractJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ExtractJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ExtractJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	HouseholdID string
	Modality    domain.Modality
	Status      JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Prepare fills the defaults a freshly published job needs.
func Prepare(job *ExtractJob, newID func() string, now time.Time) {
	if job.JobID == "" {
		job.JobID = newID()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = DefaultMaxRetries
	}
}

// Finish records the handler's outcome on job and reports whether the job
// should be retried. RetryCount is incremented for a retry.
func Finish(job *ExtractJob, err error, now time.Time) (retry bool) {
	job.CompletedAt = &now
	if err == nil {
		job.Status = JobStatusCompleted
		job.Error = ""
		return false
	}

	job.Error = err.Error()
	if IsPermanent(err) || job.RetryCount >= job.MaxRetries {
		job.Status = JobStatusFailed
		return false
	}
	job.RetryCount++
	job.Status = JobStatusRetrying
	return true
}

// Backoff is the linear delay before retry n (1-based).
func Backoff(unit time.Duration, retry int) time.Duration {
	return time.Duration(retry) * unit
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
