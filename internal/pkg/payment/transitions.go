package payment

import (
	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
)

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusPending:           {models.PaymentStatusSuccess, models.PaymentStatusFailed},
	models.PaymentStatusSuccess:           {models.PaymentStatusRefunded, models.PaymentStatusPartiallyRefunded},
	models.PaymentStatusPartiallyRefunded: {models.PaymentStatusPartiallyRefunded, models.PaymentStatusRefunded},
}

var refundTransitions = map[models.RefundStatus][]models.RefundStatus{
	models.RefundStatusPending:    {models.RefundStatusProcessing, models.RefundStatusCompleted, models.RefundStatusFailed},
	models.RefundStatusProcessing: {models.RefundStatusCompleted, models.RefundStatusFailed},
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to models.PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.PaymentStatus) error {
	if !CanTransition(from, to) {
		return apperror.InvalidTransition(string(from), string(to))
	}
	return nil
}

func canRefundTransition(from, to models.RefundStatus) bool {
	for _, next := range refundTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsValidPaymentStatus reports whether s names a known payment status.
func IsValidPaymentStatus(s models.PaymentStatus) bool {
	switch s {
	case models.PaymentStatusPending, models.PaymentStatusSuccess, models.PaymentStatusFailed,
		models.PaymentStatusRefunded, models.PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}
