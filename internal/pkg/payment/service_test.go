package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
)

func TestCreatePaymentOnline(t *testing.T) {
	env := newTestEnv(t)

	p := env.createOnline(t, "order-1", 10000)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, "INR", p.Currency)
	assert.NotEmpty(t, p.GatewayOrderRef)
	assert.Equal(t, 1, env.gw.OrderCalls)

	again := env.createOnline(t, "order-1", 10000)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, 1, env.gw.OrderCalls)
}

func TestCreatePaymentRejectsInvalidOrder(t *testing.T) {
	env := newTestEnv(t)
	env.orders.invalid["order-x"] = true

	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID: "order-x", BuyerID: "b", VendorID: "v", Amount: 100, Currency: "INR", Method: models.PaymentMethodOnline,
	})
	assert.ErrorIs(t, err, &apperror.Error{Kind: apperror.KindValidation, Code: apperror.CodeInvalidOrder})
}

func TestCreatePaymentValidatesInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID: "order-1", BuyerID: "b", VendorID: "v", Amount: 0, Currency: "INR", Method: models.PaymentMethodOnline,
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID: "order-1", BuyerID: "b", VendorID: "v", Amount: 10, Currency: "INR", Method: "cheque",
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestCreatePaymentGatewayFailureKeepsPendingPayment(t *testing.T) {
	env := newTestEnv(t)
	env.gw.FailNext = 2

	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID: "order-1", BuyerID: "b", VendorID: "v", Amount: 500, Currency: "INR", Method: models.PaymentMethodOnline,
	})
	require.ErrorIs(t, err, apperror.ErrGateway)

	stored, err := env.repos.Payment.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.Status)
	assert.Equal(t, models.PaymentErrorGateway, stored.ErrorCode)

	retried := env.createOnline(t, "order-1", 500)
	assert.Equal(t, stored.ID, retried.ID)
	assert.NotEmpty(t, retried.GatewayOrderRef)
	assert.Empty(t, retried.ErrorCode)
}

func TestCreatePaymentRejectsPaidOrder(t *testing.T) {
	env := newTestEnv(t)
	env.paid(t, "order-1", 1000)

	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID: "order-1", BuyerID: "b", VendorID: "vendor-1", Amount: 1000, Currency: "INR", Method: models.PaymentMethodOnline,
	})
	assert.ErrorIs(t, err, &apperror.Error{Kind: apperror.KindValidation, Code: apperror.CodeInvalidOrder})
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.createOnline(t, "order-1", 10000)
	in := env.confirmInput(p, "pay_1")

	first, err := env.svc.ConfirmPayment(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, first.Status)
	require.NotNil(t, first.CompletedAt)
	assert.Equal(t, "pay_1", first.PaymentRef())

	second, err := env.svc.ConfirmPayment(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, second.Status)
	assert.True(t, first.CompletedAt.Equal(*second.CompletedAt))
	assert.Equal(t, 1, env.orders.paidCount())
}

func TestConfirmPaymentConcurrentDeliveriesApplyOnce(t *testing.T) {
	env := newTestEnv(t)
	p := env.createOnline(t, "order-1", 10000)
	in := env.confirmInput(p, "pay_1")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.ConfirmPayment(context.Background(), in)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, env.orders.paidCount())

	stored, err := env.repos.Payment.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}

func TestConfirmPaymentInvalidSignatureFailsPayment(t *testing.T) {
	env := newTestEnv(t)
	p := env.createOnline(t, "order-1", 10000)
	in := env.confirmInput(p, "pay_1")
	in.Signature = "deadbeef"

	_, err := env.svc.ConfirmPayment(context.Background(), in)
	assert.ErrorIs(t, err, apperror.ErrInvalidSignature)

	stored, err := env.repos.Payment.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.Status)
	assert.Equal(t, models.PaymentErrorInvalidSignature, stored.ErrorCode)
	assert.NotNil(t, stored.FailedAt)
	assert.Equal(t, 0, env.orders.paidCount())

	_, err = env.svc.ConfirmPayment(context.Background(), env.confirmInput(p, "pay_1"))
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
	assert.Equal(t, 0, env.orders.paidCount())
}

func TestConfirmPaymentInvalidSignatureAfterSuccessChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	p := env.paid(t, "order-1", 10000)

	in := env.confirmInput(p, "pay_order-1")
	in.Signature = "00ff"
	_, err := env.svc.ConfirmPayment(context.Background(), in)
	assert.ErrorIs(t, err, apperror.ErrInvalidSignature)

	stored, err := env.repos.Payment.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, stored.Status)
}

func TestConfirmPaymentUnknownPayment(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.ConfirmPayment(context.Background(), ConfirmPaymentInput{
		PaymentID: "missing", GatewayOrderRef: "o", GatewayPaymentRef: "p", Signature: env.verifier.SignHex([]byte("o|p")),
	})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestOrderCallbackFailureDoesNotUndoSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.orders.paidErr = errors.New("order service down")

	p := env.paid(t, "order-1", 700)
	assert.Equal(t, models.PaymentStatusSuccess, p.Status)
	assert.Equal(t, 1, env.orders.paidCount())
}

func TestFinalizeCapturedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.createOnline(t, "order-1", 10000)

	got, err := env.svc.FinalizeCaptured(context.Background(), p.GatewayOrderRef, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, got.Status)

	_, err = env.svc.FinalizeCaptured(context.Background(), p.GatewayOrderRef, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 1, env.orders.paidCount())

	_, err = env.svc.FinalizeCaptured(context.Background(), "order_unknown", "pay_2")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestMarkFailedByOrderRef(t *testing.T) {
	env := newTestEnv(t)
	p := env.createOnline(t, "order-1", 10000)

	failed, err := env.svc.MarkFailedByOrderRef(context.Background(), p.GatewayOrderRef, "BAD_REQUEST_ERROR", "card declined")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, failed.Status)
	assert.Equal(t, "card declined", failed.ErrorMessage)

	_, err = env.svc.MarkFailed(context.Background(), p.ID, "X", "again")
	require.NoError(t, err)

	_, err = env.svc.FinalizeCaptured(context.Background(), p.GatewayOrderRef, "pay_1")
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
}

func TestCapturePayment(t *testing.T) {
	env := newTestEnv(t)

	cod := env.paidCOD(t, "order-cod", 2500)
	assert.Equal(t, models.PaymentStatusSuccess, cod.Status)
	assert.Equal(t, 0, env.gw.CaptureCalls)

	online := env.createOnline(t, "order-2", 1000)
	_, err := env.svc.CapturePayment(context.Background(), online.ID, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	captured, err := env.svc.CapturePayment(context.Background(), online.ID, "pay_2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, captured.Status)
	assert.Equal(t, 1, env.gw.CaptureCalls)

	again, err := env.svc.CapturePayment(context.Background(), online.ID, "pay_2")
	require.NoError(t, err)
	assert.Equal(t, captured.ID, again.ID)
	assert.Equal(t, 1, env.gw.CaptureCalls)
	assert.Equal(t, 2, env.orders.paidCount())
}

func TestCaptureTimeoutLeavesPaymentPending(t *testing.T) {
	env := newTestEnv(t)
	online := env.createOnline(t, "order-1", 1000)

	env.gw.TimeoutNext = 2
	_, err := env.svc.CapturePayment(context.Background(), online.ID, "pay_1")
	require.ErrorIs(t, err, apperror.ErrGateway)
	assert.Equal(t, 2, env.gw.CaptureCalls)

	stored, err := env.repos.Payment.GetByID(context.Background(), online.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.Status)
	assert.Nil(t, stored.CompletedAt)
	assert.Equal(t, 0, env.orders.paidCount())

	captured, err := env.svc.CapturePayment(context.Background(), online.ID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, captured.Status)
}

func TestUpdatePaymentStatusFollowsTransitionTable(t *testing.T) {
	env := newTestEnv(t)
	p := env.createOnline(t, "order-1", 1000)

	_, err := env.svc.UpdatePaymentStatus(context.Background(), p.ID, models.PaymentStatusRefunded, "", "")
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)

	_, err = env.svc.UpdatePaymentStatus(context.Background(), p.ID, "lost", "", "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	failed, err := env.svc.UpdatePaymentStatus(context.Background(), p.ID, models.PaymentStatusFailed, "OPS", "cancelled by operator")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, failed.Status)

	_, err = env.svc.UpdatePaymentStatus(context.Background(), p.ID, models.PaymentStatusPending, "", "")
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
}

func TestGetPaymentByOrder(t *testing.T) {
	env := newTestEnv(t)
	p := env.createOnline(t, "order-1", 1000)

	got, err := env.svc.GetPaymentByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = env.svc.GetPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestGetPaymentDoesNotReplaceLatestAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := NewService(Options{
		Repos:           env.repos,
		Gateway:         env.gw,
		Verifier:        env.verifier,
		Orders:          env.orders,
		Identity:        fakeIdentity{},
		Notifier:        env.notifier,
		Cache:           newMemCache(),
		GatewayAttempts: 2,
		GatewayBackoff:  time.Millisecond,
	})
	t.Cleanup(svc.Wait)

	in := CreatePaymentInput{OrderID: "order-1", BuyerID: "b", VendorID: "v", Amount: 1000, Currency: "INR", Method: models.PaymentMethodOnline}
	first, err := svc.CreatePayment(ctx, in)
	require.NoError(t, err)
	_, err = svc.MarkFailed(ctx, first.ID, "DECLINED", "card declined")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	second, err := svc.CreatePayment(ctx, in)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	_, err = svc.ConfirmPayment(ctx, env.confirmInput(second, "pay_2"))
	require.NoError(t, err)

	latest, err := svc.GetPaymentByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	old, err := svc.GetPayment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, old.Status)

	latest, err = svc.GetPaymentByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, models.PaymentStatusSuccess, latest.Status)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.PaymentStatusPending, models.PaymentStatusSuccess))
	assert.True(t, CanTransition(models.PaymentStatusPartiallyRefunded, models.PaymentStatusPartiallyRefunded))
	assert.False(t, CanTransition(models.PaymentStatusFailed, models.PaymentStatusSuccess))
	assert.False(t, CanTransition(models.PaymentStatusRefunded, models.PaymentStatusPartiallyRefunded))
	assert.False(t, CanTransition(models.PaymentStatusSuccess, models.PaymentStatusPending))
}
