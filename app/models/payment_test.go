package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayment() *Payment {
	return &Payment{
		OrderID:  "order-1",
		BuyerID:  "buyer-1",
		VendorID: "vendor-1",
		Amount:   10000,
		Currency: "INR",
		Method:   PaymentMethodOnline,
	}
}

func TestPaymentValidate(t *testing.T) {
	require.NoError(t, validPayment().Validate())

	p := validPayment()
	p.Amount = 0
	assert.Error(t, p.Validate())

	p = validPayment()
	p.Method = "cheque"
	assert.Error(t, p.Validate())

	p = validPayment()
	p.Currency = "RUPEE"
	assert.Error(t, p.Validate())

	p = validPayment()
	p.OrderID = ""
	assert.Error(t, p.Validate())
}

func TestPaymentHelpers(t *testing.T) {
	p := validPayment()
	assert.Equal(t, "", p.PaymentRef())
	ref := "pay_123"
	p.GatewayPaymentRef = &ref
	assert.Equal(t, "pay_123", p.PaymentRef())

	p.Status = PaymentStatusPending
	assert.False(t, p.IsRefundable())
	assert.False(t, p.IsTerminal())

	p.Status = PaymentStatusPartiallyRefunded
	assert.True(t, p.IsRefundable())

	p.Status = PaymentStatusRefunded
	assert.True(t, p.IsTerminal())
}

func TestSettlementIsBalanced(t *testing.T) {
	s := &Settlement{TotalAmount: 10000, CommissionAmount: 1000, AdjustmentAmount: 0, SettlementAmount: 9000}
	assert.True(t, s.IsBalanced())

	s.AdjustmentAmount = -50
	assert.False(t, s.IsBalanced())
	s.SettlementAmount = 8950
	assert.True(t, s.IsBalanced())
}

func TestRefundHelpers(t *testing.T) {
	r := &Refund{Status: RefundStatusProcessing}
	assert.False(t, r.IsFinal())
	assert.Equal(t, "", r.RefundRef())

	r.Status = RefundStatusFailed
	assert.True(t, r.IsFinal())
}
