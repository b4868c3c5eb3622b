package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

// Runner is the part of Queue the manager drives.
type Runner interface {
	Start()
	Stop()
	EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error)
}

// Manager runs the job queue together with the periodic producers: webhook
// replay, refund sync and scheduled settlement generation.
type Manager struct {
	queue            Runner
	cfg              config.JobsConfig
	settlementEvery  time.Duration
	replayTicker     *time.Ticker
	refundTicker     *time.Ticker
	settlementTicker *time.Ticker
	now              func() time.Time
	stopCh           chan struct{}
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

func NewManager(queue Runner, cfg config.JobsConfig, settlementEvery time.Duration) *Manager {
	return &Manager{
		queue:           queue,
		cfg:             cfg,
		settlementEvery: settlementEvery,
		now:             func() time.Time { return time.Now().UTC() },
		stopCh:          make(chan struct{}),
	}
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.cfg.WebhookReplayEvery > 0 {
		m.replayTicker = time.NewTicker(m.cfg.WebhookReplayEvery)
		m.wg.Add(1)
		go m.tickWorker("webhook replay", m.replayTicker, m.stopCh, m.enqueueWebhookReplay)
	}

	if m.cfg.RefundSyncEvery > 0 {
		m.refundTicker = time.NewTicker(m.cfg.RefundSyncEvery)
		m.wg.Add(1)
		go m.tickWorker("refund sync", m.refundTicker, m.stopCh, m.enqueueRefundSync)
	}

	if m.cfg.SettlementScheduled && m.settlementEvery > 0 {
		m.settlementTicker = time.NewTicker(m.settlementEvery)
		m.wg.Add(1)
		go m.tickWorker("settlement", m.settlementTicker, m.stopCh, m.enqueueSettlementRun)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	for _, t := range []*time.Ticker{m.replayTicker, m.refundTicker, m.settlementTicker} {
		if t != nil {
			t.Stop()
		}
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) tickWorker(name string, ticker *time.Ticker, stopCh <-chan struct{}, tick func(ctx context.Context) error) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started %s worker", name)

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue Manager] %s worker stopping", name)
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := tick(ctx); err != nil {
				log.Errorf("[JobQueue Manager] Error enqueuing %s job: %v", name, err)
			}
			cancel()
		}
	}
}

func (m *Manager) enqueueWebhookReplay(ctx context.Context) error {
	_, err := m.queue.EnqueueJob(ctx, JobTypeWebhookReplay, WebhookReplayJobPayload{
		OlderThanSeconds: int(m.cfg.WebhookReplayEvery / time.Second),
		Limit:            m.cfg.ReplayBatchSize,
	}.ToMap())
	return err
}

func (m *Manager) enqueueRefundSync(ctx context.Context) error {
	_, err := m.queue.EnqueueJob(ctx, JobTypeRefundSync, RefundSyncJobPayload{
		OlderThanSeconds: int(m.cfg.RefundSyncEvery / time.Second),
		Limit:            m.cfg.ReplayBatchSize,
	}.ToMap())
	return err
}

func (m *Manager) enqueueSettlementRun(ctx context.Context) error {
	start, end := m.SettlementWindow()
	_, err := m.EnqueueSettlementRun(ctx, start, end)
	return err
}

// SettlementWindow returns the scheduled period: the lookback ending at the
// start of the current UTC day.
func (m *Manager) SettlementWindow() (time.Time, time.Time) {
	end := m.now().Truncate(24 * time.Hour)
	lookback := m.cfg.SettlementLookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return end.Add(-lookback), end
}

// EnqueueSettlementRun schedules settlement of every eligible vendor.
func (m *Manager) EnqueueSettlementRun(ctx context.Context, start, end time.Time) (*Job, error) {
	return m.queue.EnqueueJob(ctx, JobTypeSettlementGenerate, SettlementGenerateJobPayload{
		PeriodStart: start,
		PeriodEnd:   end,
	}.ToMap())
}

// EnqueueStatement schedules archival of a settlement statement.
func (m *Manager) EnqueueStatement(ctx context.Context, settlementID string) (*Job, error) {
	return m.queue.EnqueueJob(ctx, JobTypeSettlementStatement, SettlementStatementJobPayload{SettlementID: settlementID}.ToMap())
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
