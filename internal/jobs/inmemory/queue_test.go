package inmemory

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/jobs"
	"github.com/dvloznov/finance-capture/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, s *Store, id string, status jobs.JobStatus) *jobs.ExtractJob {
	t.Helper()
	var got *jobs.ExtractJob
	require.Eventually(t, func() bool {
		j, err := s.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestQueue_ProcessesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := NewQueue(10, store, WithWorkers(2), WithMetrics(m))
	defer q.Close()

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.ExtractJob) error {
		job.TransactionID = "tx-" + job.JobID
		return nil
	}))

	job := &jobs.ExtractJob{Modality: domain.ModalityText, Input: "coffee 5"}
	require.NoError(t, q.PublishExtract(ctx, job))
	require.NotEmpty(t, job.JobID)
	assert.Equal(t, jobs.JobStatusPending, job.Status)
	assert.Equal(t, jobs.DefaultMaxRetries, job.MaxRetries)

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, "tx-"+job.JobID, got.TransactionID)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	expected := `
# HELP finance_capture_jobs_total Extraction jobs entering each status.
# TYPE finance_capture_jobs_total counter
finance_capture_jobs_total{status="completed"} 1
finance_capture_jobs_total{status="pending"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "finance_capture_jobs_total"))
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithBackoffUnit(time.Millisecond))
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.ExtractJob) error {
		if calls.Add(1) < 3 {
			return errors.New("upstream 503")
		}
		return nil
	}))

	job := &jobs.ExtractJob{Modality: domain.ModalityImage, Input: "gs://b/r.jpg"}
	require.NoError(t, q.PublishExtract(ctx, job))

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, got.RetryCount)
	assert.Empty(t, got.Error)
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithBackoffUnit(time.Millisecond))
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.ExtractJob) error {
		calls.Add(1)
		return errors.New("still down")
	}))

	job := &jobs.ExtractJob{Modality: domain.ModalityText, Input: "x", MaxRetries: 2}
	require.NoError(t, q.PublishExtract(ctx, job))

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "still down", got.Error)
}

func TestQueue_PermanentErrorsAreNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithBackoffUnit(time.Millisecond))
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.ExtractJob) error {
		calls.Add(1)
		return jobs.Permanent(errors.New("invalid input"))
	}))

	job := &jobs.ExtractJob{Modality: domain.ModalityText, Input: " "}
	require.NoError(t, q.PublishExtract(ctx, job))

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 0, got.RetryCount)

	// Give a wrongly scheduled retry time to show up.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_Stop(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(1, NewStore())

	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.ExtractJob) error { return nil }))
	require.NoError(t, q.Stop(ctx))
	require.NoError(t, q.Stop(ctx), "stopping twice is fine")

	err := q.PublishExtract(ctx, &jobs.ExtractJob{Input: "x"})
	assert.True(t, errors.Is(err, jobs.ErrQueueClosed))
	assert.True(t, errors.Is(q.Start(ctx, nil), jobs.ErrQueueClosed))
}

func TestQueue_PublishHonoursContext(t *testing.T) {
	q := NewQueue(0, nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.PublishExtract(ctx, &jobs.ExtractJob{Input: "x"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
