package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/settlement"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

const (
	defaultBatchLimit = 50
	defaultOlderThan  = time.Minute
)

type SettlementRunner interface {
	Generate(ctx context.Context, in settlement.GenerateInput) (*models.Settlement, error)
	GenerateAll(ctx context.Context, start, end time.Time) ([]*models.Settlement, error)
	ArchiveStatement(ctx context.Context, id string) (string, error)
}

type WebhookReplayer interface {
	Replay(ctx context.Context, id uint) (*webhook.Result, error)
	ReplayPending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type RefundSyncer interface {
	SyncRefund(ctx context.Context, refundID string) (*models.Refund, error)
	SyncPendingRefunds(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Processors routes jobs to the services that own them. Job types whose
// service is nil fail without retry.
type Processors struct {
	Settlements SettlementRunner
	Webhooks    WebhookReplayer
	Refunds     RefundSyncer
}

func (p *Processors) Handle(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobTypeSettlementGenerate:
		return p.processSettlementGenerateJob(ctx, job)
	case JobTypeSettlementStatement:
		return p.processSettlementStatementJob(ctx, job)
	case JobTypeWebhookReplay:
		return p.processWebhookReplayJob(ctx, job)
	case JobTypeRefundSync:
		return p.processRefundSyncJob(ctx, job)
	default:
		job.MaxRetries = 0
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processors) processSettlementGenerateJob(ctx context.Context, job *Job) error {
	if p.Settlements == nil {
		return p.unavailable(job)
	}
	payload, err := PayloadFromMap[SettlementGenerateJobPayload](job.Payload)
	if err != nil {
		return p.permanent(job, err)
	}

	if payload.VendorID == "" {
		created, err := p.Settlements.GenerateAll(ctx, payload.PeriodStart, payload.PeriodEnd)
		if err != nil {
			return err
		}
		log.Infof("[JobQueue] Settlement run %s - %s created %d settlements",
			payload.PeriodStart.Format(time.RFC3339), payload.PeriodEnd.Format(time.RFC3339), len(created))
		return nil
	}

	_, err = p.Settlements.Generate(ctx, settlement.GenerateInput{
		VendorID:    payload.VendorID,
		Currency:    payload.Currency,
		PeriodStart: payload.PeriodStart,
		PeriodEnd:   payload.PeriodEnd,
	})
	if apperror.KindOf(err) == apperror.KindNoPaymentsFound {
		log.Infof("[JobQueue] Nothing to settle for vendor %s", payload.VendorID)
		return nil
	}
	return p.classify(job, err)
}

func (p *Processors) processSettlementStatementJob(ctx context.Context, job *Job) error {
	if p.Settlements == nil {
		return p.unavailable(job)
	}
	payload, err := PayloadFromMap[SettlementStatementJobPayload](job.Payload)
	if err != nil || payload.SettlementID == "" {
		return p.permanent(job, fmt.Errorf("invalid statement payload: %v", err))
	}
	key, err := p.Settlements.ArchiveStatement(ctx, payload.SettlementID)
	if err != nil {
		return p.classify(job, err)
	}
	log.Infof("[JobQueue] Archived statement for settlement %s at %s", payload.SettlementID, key)
	return nil
}

func (p *Processors) processWebhookReplayJob(ctx context.Context, job *Job) error {
	if p.Webhooks == nil {
		return p.unavailable(job)
	}
	payload, err := PayloadFromMap[WebhookReplayJobPayload](job.Payload)
	if err != nil {
		return p.permanent(job, err)
	}

	if payload.EventID != 0 {
		res, err := p.Webhooks.Replay(ctx, payload.EventID)
		if err != nil {
			return p.classify(job, err)
		}
		if !res.Processed {
			return fmt.Errorf("webhook event %d still unprocessed: %s", payload.EventID, res.ProcessingError)
		}
		return nil
	}

	n, err := p.Webhooks.ReplayPending(ctx, seconds(payload.OlderThanSeconds), limit(payload.Limit))
	if err != nil {
		return err
	}
	if n > 0 {
		log.Infof("[JobQueue] Replayed %d pending webhook events", n)
	}
	return nil
}

func (p *Processors) processRefundSyncJob(ctx context.Context, job *Job) error {
	if p.Refunds == nil {
		return p.unavailable(job)
	}
	payload, err := PayloadFromMap[RefundSyncJobPayload](job.Payload)
	if err != nil {
		return p.permanent(job, err)
	}

	if payload.RefundID != "" {
		_, err := p.Refunds.SyncRefund(ctx, payload.RefundID)
		return p.classify(job, err)
	}

	n, err := p.Refunds.SyncPendingRefunds(ctx, seconds(payload.OlderThanSeconds), limit(payload.Limit))
	if err != nil {
		return err
	}
	if n > 0 {
		log.Infof("[JobQueue] Synced %d refunds with the gateway", n)
	}
	return nil
}

// classify disables retries for errors that will not change on a second try.
func (p *Processors) classify(job *Job, err error) error {
	if err == nil {
		return nil
	}
	if !apperror.IsRetryable(err) {
		return p.permanent(job, err)
	}
	return err
}

func (p *Processors) permanent(job *Job, err error) error {
	job.MaxRetries = 0
	return err
}

func (p *Processors) unavailable(job *Job) error {
	return p.permanent(job, fmt.Errorf("no processor configured for %s", job.Type))
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return defaultOlderThan
	}
	return time.Duration(n) * time.Second
}

func limit(n int) int {
	if n <= 0 {
		return defaultBatchLimit
	}
	return n
}
