package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
)

func TestWithRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, "create order", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 2, time.Millisecond, "create order", func(ctx context.Context) error {
		calls++
		return errors.New("timeout")
	})
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, apperror.ErrGateway)
}

func TestWithRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 5, time.Millisecond, "create refund", func(ctx context.Context) error {
		calls++
		return apperror.Gateway("rejected", fmt.Errorf("%w: amount too large", ErrPermanent))
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := WithRetry(ctx, 5, time.Second, "capture", func(ctx context.Context) error {
		calls++
		return ctx.Err()
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, apperror.ErrGateway)
}

func TestFakeGateway(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.FailNext = 1

	_, err := f.CreateOrder(ctx, OrderRequest{Amount: 100, Currency: "INR"})
	assert.ErrorIs(t, err, apperror.ErrGateway)

	order, err := f.CreateOrder(ctx, OrderRequest{Amount: 100, Currency: "INR"})
	require.NoError(t, err)
	assert.NotEmpty(t, order.Ref)

	refund, err := f.CreateRefund(ctx, "pay_1", 50, nil)
	require.NoError(t, err)
	assert.Equal(t, RefundStatePending, refund.State)

	f.SetRefundState(refund.Ref, RefundStateProcessed)
	fetched, err := f.FetchRefund(ctx, refund.Ref)
	require.NoError(t, err)
	assert.Equal(t, RefundStateProcessed, fetched.State)

	f.RejectNext = 1
	_, err = f.CreateRefund(ctx, "pay_1", 50, nil)
	assert.ErrorIs(t, err, ErrPermanent)

	f.TimeoutNext = 1
	_, err = f.CreateRefund(ctx, "pay_1", 50, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrPermanent)

	var hooked string
	f.OnRefund = func(r Refund, notes map[string]interface{}) { hooked = notes["refund_id"].(string) }
	_, err = f.CreateRefund(ctx, "pay_1", 50, map[string]interface{}{"refund_id": "r-1"})
	require.NoError(t, err)
	assert.Equal(t, "r-1", hooked)
}

func TestRefundFromBody(t *testing.T) {
	r := refundFromBody(map[string]interface{}{
		"id": "rfnd_1", "payment_id": "pay_1", "amount": float64(2500), "status": "processed",
	})
	assert.Equal(t, "rfnd_1", r.Ref)
	assert.Equal(t, "pay_1", r.PaymentRef)
	assert.EqualValues(t, 2500, r.Amount)
	assert.Equal(t, RefundStateProcessed, r.State)

	assert.Equal(t, RefundStatePending, refundFromBody(map[string]interface{}{"status": "pending", "notes": []interface{}{}}).State)

	noted := refundFromBody(map[string]interface{}{"id": "rfnd_2", "notes": map[string]interface{}{"refund_id": "r-1"}})
	assert.Equal(t, "r-1", noted.RefundID)
}
