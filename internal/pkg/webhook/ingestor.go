// Package webhook turns authenticated gateway callbacks into payment and
// refund transitions exactly once, however often the gateway delivers them.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/locker"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/ManuelReschke/PayFox/internal/pkg/signature"
)

// PaymentApplier is the part of the lifecycle manager webhooks drive.
type PaymentApplier interface {
	FinalizeCaptured(ctx context.Context, gatewayOrderRef, gatewayPaymentRef string) (*models.Payment, error)
	MarkFailedByOrderRef(ctx context.Context, gatewayOrderRef, code, message string) (*models.Payment, error)
	ApplyGatewayRefund(ctx context.Context, upd payment.GatewayRefundUpdate) (*models.Refund, error)
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Gateway   string
	Body      []byte
	Signature string
	// EventID is the gateway's delivery id header, if sent.
	EventID string
}

// Result tells the caller what happened to a delivery. Every non-error
// result must be acknowledged to the gateway.
type Result struct {
	EventID         uint   `json:"event_id"`
	EventType       string `json:"event_type"`
	Duplicate       bool   `json:"duplicate"`
	Processed       bool   `json:"processed"`
	ProcessingError string `json:"processing_error,omitempty"`
}

type Ingestor struct {
	repos    *repository.Repositories
	payments PaymentApplier
	verifier *signature.Verifier
	locks    locker.Locker
	counter  counter.Counter
	now      func() time.Time
}

func NewIngestor(repos *repository.Repositories, payments PaymentApplier, verifier *signature.Verifier, locks locker.Locker, c counter.Counter) *Ingestor {
	if locks == nil {
		locks = locker.NewKeyedMutex()
	}
	if c == nil {
		c = counter.NewMemory()
	}
	return &Ingestor{
		repos:    repos,
		payments: payments,
		verifier: verifier,
		locks:    locks,
		counter:  c,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest verifies, stores and applies one delivery.
func (i *Ingestor) Ingest(ctx context.Context, d Delivery) (*Result, error) {
	i.count(ctx, counter.FieldReceived)

	if !i.verifier.Verify(d.Body, d.Signature) {
		i.count(ctx, counter.FieldInvalidSignature)
		i.storeUnverified(ctx, d)
		return nil, apperror.InvalidSignature("webhook signature verification failed")
	}

	ev, parseErr := Parse(d.Body)
	eventType, key := i.identify(d, ev, parseErr)

	unlock, err := i.locks.Lock(ctx, locker.Key("webhook", d.Gateway+":"+eventType+":"+key))
	if err != nil {
		return nil, apperror.Persistence("could not lock webhook event", err)
	}
	defer unlock()

	created, stored, err := i.repos.Webhook.CreateIfNotExists(ctx, &models.WebhookEvent{
		Gateway:    d.Gateway,
		EventType:  eventType,
		EventKey:   key,
		RawPayload: string(d.Body),
		Signature:  d.Signature,
		Verified:   true,
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to persist %s event %s: %v", eventType, key, err)
		return nil, apperror.Persistence("failed to persist webhook event", err)
	}

	if !created && stored.Processed {
		i.count(ctx, counter.FieldDuplicate)
		log.Infof("[Webhook] Duplicate %s event %s ignored", eventType, key)
		return &Result{EventID: stored.ID, EventType: eventType, Duplicate: true, Processed: true, ProcessingError: stored.ProcessingError}, nil
	}

	if parseErr != nil {
		i.count(ctx, counter.FieldMalformed)
		log.Warnf("[Webhook] Event %d is malformed: %v", stored.ID, parseErr)
		if err := i.repos.Webhook.MarkProcessed(ctx, stored.ID, "", parseErr.Error()); err != nil {
			return nil, apperror.Persistence("failed to mark webhook event", err)
		}
		return &Result{EventID: stored.ID, EventType: eventType, Processed: true, ProcessingError: parseErr.Error()}, nil
	}

	res := i.process(ctx, stored, ev)
	res.Duplicate = !created
	return res, nil
}

// Replay re-drives a stored, verified event that has not been processed.
// Replaying a processed event is a no-op.
func (i *Ingestor) Replay(ctx context.Context, id uint) (*Result, error) {
	stored, err := i.repos.Webhook.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperror.NotFound("webhook event", err)
		}
		return nil, apperror.Persistence("failed to load webhook event", err)
	}
	if !stored.Verified {
		return nil, apperror.Validation(apperror.CodeInvalidInput, "unverified events cannot be replayed")
	}

	unlock, err := i.locks.Lock(ctx, locker.Key("webhook", stored.Gateway+":"+stored.EventType+":"+stored.EventKey))
	if err != nil {
		return nil, apperror.Persistence("could not lock webhook event", err)
	}
	defer unlock()

	// re-read under the lock, a concurrent delivery may have finished it
	if stored, err = i.repos.Webhook.GetByID(ctx, id); err != nil {
		return nil, apperror.Persistence("failed to load webhook event", err)
	}
	if stored.Processed {
		return &Result{EventID: stored.ID, EventType: stored.EventType, Duplicate: true, Processed: true, ProcessingError: stored.ProcessingError}, nil
	}

	ev, err := Parse([]byte(stored.RawPayload))
	if err != nil {
		if merr := i.repos.Webhook.MarkProcessed(ctx, stored.ID, "", err.Error()); merr != nil {
			return nil, apperror.Persistence("failed to mark webhook event", merr)
		}
		return &Result{EventID: stored.ID, EventType: stored.EventType, Processed: true, ProcessingError: err.Error()}, nil
	}

	i.count(ctx, counter.FieldReplayed)
	return i.process(ctx, stored, ev), nil
}

// ReplayPending replays up to limit open events last touched before olderThan
// and returns how many reached processed.
func (i *Ingestor) ReplayPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	events, err := i.repos.Webhook.ListUnprocessed(ctx, i.now().Add(-olderThan), limit)
	if err != nil {
		return 0, apperror.Persistence("failed to list webhook events", err)
	}

	done := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		res, err := i.Replay(ctx, ev.ID)
		if err != nil {
			log.Warnf("[Webhook] Replay of event %d failed: %v", ev.ID, err)
			continue
		}
		if res.Processed {
			done++
		}
	}
	if len(events) > 0 {
		log.Infof("[Webhook] Replayed %d/%d pending events", done, len(events))
	}
	return done, nil
}

// Stats returns the webhook outcome counters.
func (i *Ingestor) Stats(ctx context.Context) (map[string]int64, error) {
	return i.counter.Snapshot(ctx)
}

// process dispatches ev and records the outcome on the stored event.
// Transient failures leave it open for replay.
func (i *Ingestor) process(ctx context.Context, stored *models.WebhookEvent, ev Event) *Result {
	res := &Result{EventID: stored.ID, EventType: stored.EventType}

	linked, err := i.dispatch(ctx, ev)
	if err == nil {
		if merr := i.repos.Webhook.MarkProcessed(ctx, stored.ID, linked, ""); merr != nil {
			// the transition is durable and idempotent, a replay will close the event
			log.Errorf("[Webhook] Failed to mark event %d processed: %v", stored.ID, merr)
			return res
		}
		i.count(ctx, counter.FieldProcessed)
		res.Processed = true
		return res
	}

	res.ProcessingError = err.Error()
	i.count(ctx, counter.FieldFailed)
	if apperror.IsRetryable(err) {
		log.Warnf("[Webhook] Event %d (%s) failed, will retry: %v", stored.ID, stored.EventType, err)
		if rerr := i.repos.Webhook.RecordFailure(ctx, stored.ID, linked, err.Error()); rerr != nil {
			log.Errorf("[Webhook] Failed to record failure for event %d: %v", stored.ID, rerr)
		}
		return res
	}

	log.Warnf("[Webhook] Event %d (%s) rejected: %v", stored.ID, stored.EventType, err)
	if merr := i.repos.Webhook.MarkProcessed(ctx, stored.ID, linked, err.Error()); merr != nil {
		log.Errorf("[Webhook] Failed to mark event %d processed: %v", stored.ID, merr)
		return res
	}
	res.Processed = true
	return res
}

// dispatch applies ev and returns the id of the affected payment.
func (i *Ingestor) dispatch(ctx context.Context, ev Event) (string, error) {
	switch e := ev.(type) {
	case PaymentCaptured:
		p, err := i.payments.FinalizeCaptured(ctx, e.OrderRef, e.PaymentRef)
		return paymentID(p), err
	case PaymentFailed:
		msg := e.Description
		if msg == "" {
			msg = "payment failed at gateway"
		}
		p, err := i.payments.MarkFailedByOrderRef(ctx, e.OrderRef, e.Code, msg)
		return paymentID(p), err
	case RefundCreated:
		return i.applyRefund(ctx, e.RefundEvent, models.RefundStatusProcessing, "")
	case RefundProcessed:
		return i.applyRefund(ctx, e.RefundEvent, models.RefundStatusCompleted, "")
	case RefundFailed:
		return i.applyRefund(ctx, e.RefundEvent, models.RefundStatusFailed, "refund failed at gateway")
	case Unknown:
		log.Infof("[Webhook] Ignoring unhandled event type %s", e.Name)
		return "", nil
	default:
		return "", errors.New("unsupported event")
	}
}

func (i *Ingestor) applyRefund(ctx context.Context, e RefundEvent, status models.RefundStatus, errMsg string) (string, error) {
	r, err := i.payments.ApplyGatewayRefund(ctx, payment.GatewayRefundUpdate{
		RefundID:   e.RefundID,
		RefundRef:  e.RefundRef,
		PaymentRef: e.PaymentRef,
		Amount:     e.Amount,
		Status:     status,
		Error:      errMsg,
	})
	if r != nil {
		return r.PaymentID, err
	}
	return "", err
}

// identify returns the dedupe type and key for a delivery. The gateway's
// delivery id wins over the entity id.
func (i *Ingestor) identify(d Delivery, ev Event, parseErr error) (string, string) {
	if parseErr != nil {
		key := d.EventID
		if key == "" {
			sum := sha256.Sum256(d.Body)
			key = "malformed:" + hex.EncodeToString(sum[:])
		}
		return EventName(d.Body), key
	}
	key := d.EventID
	if key == "" {
		key = ev.EntityID()
	}
	if key == "" {
		sum := sha256.Sum256(d.Body)
		key = "body:" + hex.EncodeToString(sum[:])
	}
	return ev.Type(), key
}

// storeUnverified keeps a forged or corrupted delivery for inspection. It is
// never processed or replayed.
func (i *Ingestor) storeUnverified(ctx context.Context, d Delivery) {
	err := i.repos.Webhook.Create(ctx, &models.WebhookEvent{
		Gateway:    d.Gateway,
		EventType:  EventName(d.Body),
		EventKey:   "unverified:" + uuid.NewString(),
		RawPayload: string(d.Body),
		Signature:  d.Signature,
		Verified:   false,
		Processed:  false,
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to store unverified delivery: %v", err)
		return
	}
	log.Warnf("[Webhook] Rejected %s delivery with invalid signature", d.Gateway)
}

func (i *Ingestor) count(ctx context.Context, field string) {
	if err := i.counter.Incr(ctx, field); err != nil {
		log.Warnf("[Webhook] Failed to count %s: %v", field, err)
	}
}

func paymentID(p *models.Payment) string {
	if p == nil {
		return ""
	}
	return p.ID
}
