package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

type fakeRunner struct {
	mu       sync.Mutex
	started  int
	stopped  int
	enqueued []*Job
}

func (f *fakeRunner) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeRunner) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeRunner) EnqueueJob(_ context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &Job{ID: "job", Type: jobType, Payload: payload}
	f.enqueued = append(f.enqueued, job)
	return job, nil
}

func (f *fakeRunner) count(jobType JobType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.enqueued {
		if j.Type == jobType {
			n++
		}
	}
	return n
}

func TestManagerStartStop(t *testing.T) {
	runner := &fakeRunner{}
	m := NewManager(runner, config.JobsConfig{}, 0)

	assert.False(t, m.IsRunning())
	m.Stop()
	assert.Equal(t, 0, runner.stopped)

	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())
	assert.Equal(t, 1, runner.started)

	m.Stop()
	assert.False(t, m.IsRunning())
	assert.Equal(t, 1, runner.stopped)

	// restart after stop
	m.Start()
	m.Stop()
	assert.Equal(t, 2, runner.started)
}

func TestManagerEnqueuesPeriodicJobs(t *testing.T) {
	runner := &fakeRunner{}
	m := NewManager(runner, config.JobsConfig{
		WebhookReplayEvery:  10 * time.Millisecond,
		RefundSyncEvery:     10 * time.Millisecond,
		ReplayBatchSize:     25,
		SettlementScheduled: true,
	}, 10*time.Millisecond)

	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return runner.count(JobTypeWebhookReplay) > 0 &&
			runner.count(JobTypeRefundSync) > 0 &&
			runner.count(JobTypeSettlementGenerate) > 0
	}, 2*time.Second, 5*time.Millisecond)

	runner.mu.Lock()
	var replay *Job
	for _, j := range runner.enqueued {
		if j.Type == JobTypeWebhookReplay {
			replay = j
			break
		}
	}
	runner.mu.Unlock()

	payload, err := PayloadFromMap[WebhookReplayJobPayload](replay.Payload)
	require.NoError(t, err)
	assert.Equal(t, 25, payload.Limit)
}

func TestManagerSettlementWindow(t *testing.T) {
	m := NewManager(&fakeRunner{}, config.JobsConfig{SettlementLookback: 48 * time.Hour}, time.Hour)
	m.now = func() time.Time { return time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC) }

	start, end := m.SettlementWindow()
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), start)

	m.cfg.SettlementLookback = 0
	start, _ = m.SettlementWindow()
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), start)
}

func TestManagerEnqueueStatement(t *testing.T) {
	runner := &fakeRunner{}
	m := NewManager(runner, config.JobsConfig{}, 0)

	job, err := m.EnqueueStatement(context.Background(), "set-1")
	require.NoError(t, err)
	assert.Equal(t, JobTypeSettlementStatement, job.Type)
	assert.Equal(t, "set-1", job.Payload["settlement_id"])
}
