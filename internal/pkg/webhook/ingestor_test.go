package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/ManuelReschke/PayFox/internal/pkg/signature"
)

const webhookSecret = "whsec_test"

type fakeApplier struct {
	mu       sync.Mutex
	captured int
	failed   int
	refunds  []payment.GatewayRefundUpdate
	err      error
}

func (f *fakeApplier) FinalizeCaptured(ctx context.Context, orderRef, paymentRef string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured++
	if f.err != nil {
		return nil, f.err
	}
	return &models.Payment{ID: "payment-" + orderRef, Status: models.PaymentStatusSuccess}, nil
}

func (f *fakeApplier) MarkFailedByOrderRef(ctx context.Context, orderRef, code, message string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
	if f.err != nil {
		return nil, f.err
	}
	return &models.Payment{ID: "payment-" + orderRef, Status: models.PaymentStatusFailed}, nil
}

func (f *fakeApplier) ApplyGatewayRefund(ctx context.Context, upd payment.GatewayRefundUpdate) (*models.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, upd)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Refund{ID: "refund-1", PaymentID: "payment-1", Status: upd.Status}, nil
}

func (f *fakeApplier) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeApplier) capturedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captured
}

type ingestEnv struct {
	db       *gorm.DB
	ing      *Ingestor
	repos    *repository.Repositories
	applier  *fakeApplier
	verifier *signature.Verifier
	counter  *counter.Memory
}

func newIngestEnv(t *testing.T) *ingestEnv {
	t.Helper()
	db := dbtest.NewTestDB(t)
	repos := repository.NewRepositories(db)
	env := &ingestEnv{
		db:       db,
		repos:    repos,
		applier:  &fakeApplier{},
		verifier: signature.NewVerifier(webhookSecret, ""),
		counter:  counter.NewMemory(),
	}
	env.ing = NewIngestor(repos, env.applier, env.verifier, nil, env.counter)
	return env
}

func (e *ingestEnv) delivery(body, eventID string) Delivery {
	return Delivery{Gateway: "razorpay", Body: []byte(body), Signature: e.verifier.SignHex([]byte(body)), EventID: eventID}
}

func TestIngestRejectsInvalidSignature(t *testing.T) {
	env := newIngestEnv(t)
	d := env.delivery(capturedBody, "evt_1")
	d.Signature = "deadbeef"

	_, err := env.ing.Ingest(context.Background(), d)
	assert.ErrorIs(t, err, apperror.ErrInvalidSignature)
	assert.Equal(t, 0, env.applier.capturedCalls())
	assert.Equal(t, int64(1), env.counter.Get(counter.FieldInvalidSignature))

	var events []models.WebhookEvent
	require.NoError(t, env.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.False(t, events[0].Verified)
	assert.False(t, events[0].Processed)
	assert.Contains(t, events[0].EventKey, "unverified:")
	assert.Equal(t, "deadbeef", events[0].Signature)
}

func TestIngestAppliesOnceAndAcksDuplicates(t *testing.T) {
	env := newIngestEnv(t)

	res, err := env.ing.Ingest(context.Background(), env.delivery(capturedBody, "evt_1"))
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.False(t, res.Duplicate)
	assert.Equal(t, TypePaymentCaptured, res.EventType)

	dup, err := env.ing.Ingest(context.Background(), env.delivery(capturedBody, "evt_1"))
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, res.EventID, dup.EventID)
	assert.Equal(t, 1, env.applier.capturedCalls())

	stored, err := env.repos.Webhook.GetByID(context.Background(), res.EventID)
	require.NoError(t, err)
	assert.True(t, stored.Verified)
	assert.True(t, stored.Processed)
	assert.Equal(t, "payment-order_1", stored.LinkedPaymentID)
	assert.Equal(t, capturedBody, stored.RawPayload)
}

func TestIngestFallsBackToEntityKey(t *testing.T) {
	env := newIngestEnv(t)

	first, err := env.ing.Ingest(context.Background(), env.delivery(capturedBody, ""))
	require.NoError(t, err)
	second, err := env.ing.Ingest(context.Background(), env.delivery(capturedBody, ""))
	require.NoError(t, err)

	assert.Equal(t, first.EventID, second.EventID)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, env.applier.capturedCalls())
}

func TestIngestConcurrentDuplicatesApplyOnce(t *testing.T) {
	env := newIngestEnv(t)

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ing.Ingest(context.Background(), env.delivery(capturedBody, "evt_1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.applier.capturedCalls())
	assert.Equal(t, int64(7), env.counter.Get(counter.FieldDuplicate))
}

func TestRetryableFailureIsReplayed(t *testing.T) {
	env := newIngestEnv(t)
	env.applier.setErr(apperror.Persistence("db gone", nil))

	res, err := env.ing.Ingest(context.Background(), env.delivery(capturedBody, "evt_1"))
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.NotEmpty(t, res.ProcessingError)

	env.applier.setErr(nil)
	env.ing.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	n, err := env.ing.ReplayPending(context.Background(), time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, env.applier.capturedCalls())

	// replaying again is a no-op
	again, err := env.ing.Replay(context.Background(), res.EventID)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 2, env.applier.capturedCalls())

	stored, err := env.repos.Webhook.GetByID(context.Background(), res.EventID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Empty(t, stored.ProcessingError)
	assert.Equal(t, 2, stored.Attempts)
}

func TestRedeliveryOfFailedEventReprocesses(t *testing.T) {
	env := newIngestEnv(t)
	env.applier.setErr(apperror.Gateway("timeout", nil))

	_, err := env.ing.Ingest(context.Background(), env.delivery(capturedBody, "evt_1"))
	require.NoError(t, err)

	env.applier.setErr(nil)
	res, err := env.ing.Ingest(context.Background(), env.delivery(capturedBody, "evt_1"))
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 2, env.applier.capturedCalls())
}

func TestNonRetryableFailureIsRecordedAndClosed(t *testing.T) {
	env := newIngestEnv(t)
	env.applier.setErr(apperror.InvalidTransition("failed", "success"))

	res, err := env.ing.Ingest(context.Background(), env.delivery(capturedBody, "evt_1"))
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.Contains(t, res.ProcessingError, "not allowed")

	n, err := env.ing.ReplayPending(context.Background(), -time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, env.applier.capturedCalls())
}

func TestUnknownAndMalformedEventsAreAcknowledged(t *testing.T) {
	env := newIngestEnv(t)

	res, err := env.ing.Ingest(context.Background(), env.delivery(`{"event":"order.paid","payload":{}}`, "evt_9"))
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.Empty(t, res.ProcessingError)

	res, err = env.ing.Ingest(context.Background(), env.delivery(`{"event":"payment.captured"`, ""))
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.NotEmpty(t, res.ProcessingError)
	assert.Equal(t, 0, env.applier.capturedCalls())
}

func TestRefundEventsAreDispatched(t *testing.T) {
	env := newIngestEnv(t)
	body := `{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_1","amount":500,"notes":{"refund_id":"local-1"}}}}}`

	res, err := env.ing.Ingest(context.Background(), env.delivery(body, ""))
	require.NoError(t, err)
	assert.True(t, res.Processed)

	require.Len(t, env.applier.refunds, 1)
	upd := env.applier.refunds[0]
	assert.Equal(t, "rfnd_1", upd.RefundRef)
	assert.Equal(t, "local-1", upd.RefundID)
	assert.Equal(t, models.RefundStatusCompleted, upd.Status)
}

func TestReplayRejectsUnverifiedEvents(t *testing.T) {
	env := newIngestEnv(t)
	ev := &models.WebhookEvent{Gateway: "razorpay", EventType: "payment.captured", EventKey: "unverified:1", RawPayload: capturedBody}
	require.NoError(t, env.repos.Webhook.Create(context.Background(), ev))

	_, err := env.ing.Replay(context.Background(), ev.ID)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = env.ing.Replay(context.Background(), 9999)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
