package gateway

import (
	"context"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	rzperrors "github.com/razorpay/razorpay-go/errors"

	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

const defaultTimeout = 10 * time.Second

// Razorpay implements Gateway with the official SDK. The SDK has no context
// support, so each call runs in a goroutine raced against the deadline.
type Razorpay struct {
	client  *razorpay.Client
	timeout time.Duration
}

func NewRazorpay(keyID, keySecret string, timeout time.Duration) *Razorpay {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Razorpay{
		client:  razorpay.NewClient(keyID, keySecret),
		timeout: timeout,
	}
}

func (r *Razorpay) Name() string { return "razorpay" }

func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	data := map[string]interface{}{
		"amount":          int64(req.Amount),
		"currency":        req.Currency,
		"receipt":         req.Receipt,
		"payment_capture": 1,
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}

	body, err := r.call(ctx, "create order", func() (map[string]interface{}, error) {
		return r.client.Order.Create(data, nil)
	})
	if err != nil {
		return nil, err
	}
	return &Order{Ref: stringField(body, "id"), Status: stringField(body, "status")}, nil
}

func (r *Razorpay) CapturePayment(ctx context.Context, paymentRef string, amount money.Amount, currency string) error {
	_, err := r.call(ctx, "capture payment", func() (map[string]interface{}, error) {
		return r.client.Payment.Capture(paymentRef, int(amount), map[string]interface{}{"currency": currency}, nil)
	})
	return err
}

func (r *Razorpay) CreateRefund(ctx context.Context, paymentRef string, amount money.Amount, notes map[string]interface{}) (*Refund, error) {
	data := map[string]interface{}{}
	if len(notes) > 0 {
		data["notes"] = notes
	}
	body, err := r.call(ctx, "create refund", func() (map[string]interface{}, error) {
		return r.client.Payment.Refund(paymentRef, int(amount), data, nil)
	})
	if err != nil {
		return nil, err
	}
	return refundFromBody(body), nil
}

func (r *Razorpay) FetchRefund(ctx context.Context, refundRef string) (*Refund, error) {
	body, err := r.call(ctx, "fetch refund", func() (map[string]interface{}, error) {
		return r.client.Refund.Fetch(refundRef, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	return refundFromBody(body), nil
}

func (r *Razorpay) ListRefunds(ctx context.Context, paymentRef string) ([]Refund, error) {
	body, err := r.call(ctx, "list refunds", func() (map[string]interface{}, error) {
		return r.client.Payment.FetchMultipleRefund(paymentRef, map[string]interface{}{"count": 100}, nil)
	})
	if err != nil {
		return nil, err
	}
	items, _ := body["items"].([]interface{})
	refunds := make([]Refund, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			refunds = append(refunds, *refundFromBody(m))
		}
	}
	return refunds, nil
}

type callResult struct {
	body map[string]interface{}
	err  error
}

func (r *Razorpay) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		body, err := fn()
		done <- callResult{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, apperror.Gateway("razorpay "+op+" timed out", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, classify(op, res.err)
		}
		return res.body, nil
	}
}

// classify separates request rejections from transport failures.
func classify(op string, err error) error {
	switch err.(type) {
	case *rzperrors.BadRequestError:
		return apperror.Gateway("razorpay "+op+" rejected", fmt.Errorf("%w: %v", ErrPermanent, err))
	default:
		return apperror.Gateway("razorpay "+op+" failed", err)
	}
}

func refundFromBody(body map[string]interface{}) *Refund {
	state := RefundStatePending
	switch stringField(body, "status") {
	case "processed":
		state = RefundStateProcessed
	case "failed":
		state = RefundStateFailed
	}
	refund := &Refund{
		Ref:        stringField(body, "id"),
		PaymentRef: stringField(body, "payment_id"),
		Amount:     money.Amount(intField(body, "amount")),
		State:      state,
	}
	// notes is an empty array rather than an object when unset
	if notes, ok := body["notes"].(map[string]interface{}); ok {
		refund.RefundID = stringField(notes, "refund_id")
	}
	return refund
}

func stringField(body map[string]interface{}, key string) string {
	if v, ok := body[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func intField(body map[string]interface{}, key string) int64 {
	switch v := body[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
