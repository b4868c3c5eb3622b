package payment

import (
	"context"

	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

// OrderClient is the order service as seen from payments.
type OrderClient interface {
	// ValidateForPayment reports whether the order exists, is payable and
	// matches amount.
	ValidateForPayment(ctx context.Context, orderID string, amount money.Amount) (bool, error)
	MarkPaid(ctx context.Context, orderID, paymentID string) error
}

// IdentityLookup resolves a user's notification address.
type IdentityLookup interface {
	LookupEmail(ctx context.Context, userID string) (string, error)
}

// Notifier delivers a message. Delivery is best-effort.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}
