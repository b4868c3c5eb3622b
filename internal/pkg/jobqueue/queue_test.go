package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, job *Job) error

func (f handlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, &Processors{}, tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.False(t, queue.running)
		})
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_stats", JobStatsKey)
	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func TestQueueRunsEnqueuedJobs(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)

	var mu sync.Mutex
	var seen []string
	q := NewQueue(client, handlerFunc(func(_ context.Context, job *Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.Payload["settlement_id"].(string))
		return nil
	}), 2)

	ctx := context.Background()
	job, err := q.EnqueueJob(ctx, JobTypeSettlementStatement, SettlementStatementJobPayload{SettlementID: "set-1"}.ToMap())
	require.NoError(t, err)

	q.Start()
	defer q.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, err := q.GetJob(ctx, job.ID)
		return err != nil
	}, 2*time.Second, 20*time.Millisecond, "completed jobs are removed")

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestQueueProcessJobFailures(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	q := NewQueue(client, handlerFunc(func(_ context.Context, job *Job) error {
		job.MaxRetries = 0
		return errors.New("bad payload")
	}), 1)

	job, err := q.EnqueueJob(ctx, JobTypeRefundSync, RefundSyncJobPayload{RefundID: "r1"}.ToMap())
	require.NoError(t, err)

	q.ProcessJob(ctx, job)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, "bad payload", stored.ErrorMsg)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusFailed])
}

func TestQueueRecoverStuck(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()
	q := NewQueue(client, &Processors{}, 1)

	job, err := q.EnqueueJob(ctx, JobTypeWebhookReplay, WebhookReplayJobPayload{}.ToMap())
	require.NoError(t, err)

	dequeued, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	dequeued.MarkAsProcessing()
	stale := time.Now().Add(-time.Hour)
	dequeued.ProcessedAt = &stale
	q.updateJob(ctx, dequeued)

	n, err := q.RecoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
	processing, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
}
