// Package gateway talks to the external payment gateway. Every call is bounded
// by a context deadline and may be retried with WithRetry.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

// RefundState is the gateway's view of a refund.
type RefundState string

const (
	RefundStatePending   RefundState = "pending"
	RefundStateProcessed RefundState = "processed"
	RefundStateFailed    RefundState = "failed"
)

type OrderRequest struct {
	Amount   money.Amount
	Currency string
	Receipt  string
	Notes    map[string]interface{}
}

type Order struct {
	Ref    string
	Status string
}

type Refund struct {
	Ref        string
	PaymentRef string
	// RefundID is our refund id echoed back from the refund notes.
	RefundID    string
	Amount      money.Amount
	State       RefundState
	Description string
}

// Gateway is the narrow surface the payment lifecycle needs.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CapturePayment(ctx context.Context, paymentRef string, amount money.Amount, currency string) error
	CreateRefund(ctx context.Context, paymentRef string, amount money.Amount, notes map[string]interface{}) (*Refund, error)
	FetchRefund(ctx context.Context, refundRef string) (*Refund, error)
	ListRefunds(ctx context.Context, paymentRef string) ([]Refund, error)
}

// ErrPermanent marks a gateway rejection that must not be retried.
var ErrPermanent = errors.New("gateway rejected request")

// WithRetry runs fn up to attempts times with a linear backoff. Permanent
// rejections and context cancellation stop the loop early.
func WithRetry(ctx context.Context, attempts int, backoff time.Duration, op string, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) || ctx.Err() != nil || attempt == attempts {
			break
		}
		log.Warnf("[Gateway] %s attempt %d/%d failed: %v", op, attempt, attempts, err)
		select {
		case <-ctx.Done():
			return apperror.Gateway(op+" cancelled", ctx.Err())
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Gateway(op+" failed", err)
}
