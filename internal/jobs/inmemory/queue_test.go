package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/portfolio-tracker/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.ProcessUploadJob {
	t.Helper()
	var job *jobs.ProcessUploadJob
	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestQueue_ProcessesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var seen atomic.Value
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		seen.Store(job.(*jobs.ProcessUploadJob).BatchID)
		return nil
	}))

	job := &jobs.ProcessUploadJob{UserID: "u1", SourceURI: "gs://b/o.json"}
	require.NoError(t, q.PublishProcessUpload(ctx, job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, job.JobID, job.BatchID)
	assert.Equal(t, jobs.DefaultMaxRetries, job.MaxRetries)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, job.JobID, seen.Load())
}

func TestQueue_RetriesThenFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewStore()
	q := NewQueue(10, 1, store).WithBackoff(func(int) time.Duration { return time.Millisecond })
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, jobs.Job) error {
		calls.Add(1)
		return errors.New("bigquery unavailable")
	}))

	job := &jobs.ProcessUploadJob{JobID: "j1", UserID: "u1", MaxRetries: 2}
	require.NoError(t, q.PublishProcessUpload(ctx, job))

	failed := waitForStatus(t, store, "j1", jobs.JobStatusFailed)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, "bigquery unavailable", failed.Error)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_PermanentErrorIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewStore()
	q := NewQueue(10, 1, store).WithBackoff(func(int) time.Duration { return time.Millisecond })
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, jobs.Job) error {
		calls.Add(1)
		return jobs.Permanent(errors.New("unreadable"))
	}))
	require.NoError(t, q.PublishProcessUpload(ctx, &jobs.ProcessUploadJob{JobID: "j1"}))

	failed := waitForStatus(t, store, "j1", jobs.JobStatusFailed)
	assert.Equal(t, 0, failed.RetryCount)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, 1, nil)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.Error(t, q.PublishProcessUpload(context.Background(), &jobs.ProcessUploadJob{}))
	assert.Error(t, q.Start(context.Background(), func(context.Context, jobs.Job) error { return nil }))
}
