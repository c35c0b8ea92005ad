package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-capture/internal/jobs"
	"github.com/dvloznov/finance-capture/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWorkers is the number of concurrent workers Start launches.
const DefaultWorkers = 2

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Suitable for single-instance deployments and tests; use amqpqueue to
// spread work over several processes.
type Queue struct {
	jobChan   chan *jobs.ExtractJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers     int
	backoffUnit time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Queue)

// WithWorkers sets how many jobs run concurrently.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBackoffUnit sets the linear retry delay unit (default one second).
func WithBackoffUnit(d time.Duration) Option {
	return func(q *Queue) { q.backoffUnit = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishExtract blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	q := &Queue{
		jobChan:     make(chan *jobs.ExtractJob, bufferSize),
		closeChan:   make(chan struct{}),
		store:       store,
		workers:     DefaultWorkers,
		backoffUnit: time.Second,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishExtract enqueues a copy of job for asynchronous processing. The
// caller's job gets its ID and defaults filled in.
func (q *Queue) PublishExtract(ctx context.Context, job *jobs.ExtractJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	jobs.Prepare(job, uuid.NewString, time.Now().UTC())

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	jobCopy := *job
	select {
	case q.jobChan <- &jobCopy:
		q.metrics.IncJob(string(jobs.JobStatusPending))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

// Start launches the workers. The handler is called concurrently, at most
// once per worker.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return jobs.ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	q.logger.Info().Int("workers", q.workers).Msg("Job queue started")
	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job and schedules a retry when the handler
// failed with a retryable error.
func (q *Queue) processJob(ctx context.Context, job *jobs.ExtractJob, handler jobs.JobHandler) {
	log := q.logger.With().
		Str("job_id", job.JobID).
		Str("modality", string(job.Modality)).
		Int("retry_count", job.RetryCount).
		Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	q.save(ctx, job)

	err := handler(ctx, job)

	retry := jobs.Finish(job, err, time.Now().UTC())
	q.metrics.IncJob(string(job.Status))
	q.save(ctx, job)

	switch job.Status {
	case jobs.JobStatusCompleted:
		log.Info().Str("transaction_id", job.TransactionID).Msg("Job completed")
	case jobs.JobStatusFailed:
		log.Error().Err(err).Msg("Job failed")
	}

	if !retry {
		return
	}

	backoff := jobs.Backoff(q.backoffUnit, job.RetryCount)
	log.Warn().Err(err).Dur("backoff", backoff).Msg("Job failed, retrying")

	time.AfterFunc(backoff, func() {
		job.Status = jobs.JobStatusPending
		job.StartedAt = nil
		job.CompletedAt = nil
		// The worker context may be gone by now; the retry belongs to the queue.
		if err := q.PublishExtract(context.Background(), job); err != nil {
			job.Status = jobs.JobStatusFailed
			job.Error = fmt.Sprintf("retry not enqueued: %v", err)
			q.save(context.Background(), job)
			log.Error().Err(err).Msg("Could not enqueue retry")
		}
	})
}

func (q *Queue) save(ctx context.Context, job *jobs.ExtractJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		q.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to save job")
	}
}

// Stop stops the queue and waits for in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue without a deadline.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Queue = (*Queue)(nil)
