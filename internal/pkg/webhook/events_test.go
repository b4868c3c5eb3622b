package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const capturedBody = `{"entity":"event","event":"payment.captured","contains":["payment"],"payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":10000,"currency":"INR","status":"captured"}}}}`

func TestParsePaymentEvents(t *testing.T) {
	ev, err := Parse([]byte(capturedBody))
	require.NoError(t, err)
	captured, ok := ev.(PaymentCaptured)
	require.True(t, ok)
	assert.Equal(t, "order_1", captured.OrderRef)
	assert.Equal(t, "pay_1", captured.EntityID())
	assert.EqualValues(t, 10000, captured.Amount)

	ev, err = Parse([]byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_2","error_code":"BAD_REQUEST_ERROR","error_description":"Payment declined"}}}}`))
	require.NoError(t, err)
	failed, ok := ev.(PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "BAD_REQUEST_ERROR", failed.Code)
	assert.Equal(t, "Payment declined", failed.Description)
}

func TestParseRefundEvents(t *testing.T) {
	ev, err := Parse([]byte(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_1","amount":500,"status":"processed","notes":{"refund_id":"local-1"}}}}}`))
	require.NoError(t, err)
	processed, ok := ev.(RefundProcessed)
	require.True(t, ok)
	assert.Equal(t, "rfnd_1", processed.EntityID())
	assert.Equal(t, "local-1", processed.RefundID)
	assert.Equal(t, TypeRefundProcessed, processed.Type())

	ev, err = Parse([]byte(`{"event":"refund.created","payload":{"refund":{"entity":{"id":"rfnd_2","payment_id":"pay_1","amount":100,"notes":[]}}}}`))
	require.NoError(t, err)
	created, ok := ev.(RefundCreated)
	require.True(t, ok)
	assert.Empty(t, created.RefundID)

	ev, err = Parse([]byte(`{"event":"refund.failed","payload":{"refund":{"entity":{"id":"rfnd_3"}}}}`))
	require.NoError(t, err)
	assert.IsType(t, RefundFailed{}, ev)
}

func TestParseUnknownAndMalformed(t *testing.T) {
	ev, err := Parse([]byte(`{"event":"order.paid","payload":{"payment":{"entity":{"id":"pay_9"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, Unknown{Name: "order.paid", ID: "pay_9"}, ev)

	_, err = Parse([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse([]byte(`{"event":"payment.captured","payload":{}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEventName(t *testing.T) {
	assert.Equal(t, "payment.captured", EventName([]byte(capturedBody)))
	assert.Equal(t, "unknown", EventName([]byte("garbage")))
}
