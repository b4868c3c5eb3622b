package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

// Fake is an in-memory Gateway for local runs and tests.
type Fake struct {
	mu       sync.Mutex
	seq      int
	refunds  map[string]*Refund
	captured map[string]money.Amount

	// FailNext makes the next N calls return a retryable gateway error.
	FailNext int
	// TimeoutNext makes the next N calls fail as if the deadline passed.
	TimeoutNext int
	// RejectNext makes the next N calls return a permanent rejection.
	RejectNext int
	// OnRefund runs after a refund is created, before CreateRefund returns.
	OnRefund func(r Refund, notes map[string]interface{})
	// RefundState is the state assigned to new refunds.
	RefundState RefundState

	OrderCalls   int
	CaptureCalls int
	RefundCalls  int
}

func NewFake() *Fake {
	return &Fake{
		refunds:     make(map[string]*Refund),
		captured:    make(map[string]money.Amount),
		RefundState: RefundStatePending,
	}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) fail() error {
	if f.RejectNext > 0 {
		f.RejectNext--
		return apperror.Gateway("fake gateway rejected", fmt.Errorf("%w: declined", ErrPermanent))
	}
	if f.TimeoutNext > 0 {
		f.TimeoutNext--
		return apperror.Gateway("fake gateway timed out", context.DeadlineExceeded)
	}
	if f.FailNext > 0 {
		f.FailNext--
		return apperror.Gateway("fake gateway unavailable", nil)
	}
	return nil
}

func (f *Fake) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OrderCalls++
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.seq++
	return &Order{Ref: fmt.Sprintf("order_fake_%d", f.seq), Status: "created"}, nil
}

func (f *Fake) CapturePayment(ctx context.Context, paymentRef string, amount money.Amount, currency string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CaptureCalls++
	if err := f.fail(); err != nil {
		return err
	}
	f.captured[paymentRef] = amount
	return nil
}

func (f *Fake) CreateRefund(ctx context.Context, paymentRef string, amount money.Amount, notes map[string]interface{}) (*Refund, error) {
	refundID, _ := notes["refund_id"].(string)
	r, hook, err := f.createRefund(paymentRef, refundID, amount)
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(*r, notes)
	}
	return r, nil
}

func (f *Fake) createRefund(paymentRef, refundID string, amount money.Amount) (*Refund, func(Refund, map[string]interface{}), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefundCalls++
	if err := f.fail(); err != nil {
		return nil, nil, err
	}
	f.seq++
	r := &Refund{Ref: fmt.Sprintf("rfnd_fake_%d", f.seq), PaymentRef: paymentRef, RefundID: refundID, Amount: amount, State: f.RefundState}
	f.refunds[r.Ref] = r
	cp := *r
	return &cp, f.OnRefund, nil
}

func (f *Fake) FetchRefund(ctx context.Context, refundRef string) (*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	r, ok := f.refunds[refundRef]
	if !ok {
		return nil, apperror.NotFound("gateway refund", nil)
	}
	cp := *r
	return &cp, nil
}

func (f *Fake) ListRefunds(ctx context.Context, paymentRef string) ([]Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	var out []Refund
	for _, r := range f.refunds {
		if r.PaymentRef == paymentRef {
			out = append(out, *r)
		}
	}
	return out, nil
}

// AddRefund records a refund the gateway executed without answering the
// create call, as after a timeout.
func (f *Fake) AddRefund(r Refund) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds[r.Ref] = &r
}

// SetRefundState changes the state FetchRefund reports for ref.
func (f *Fake) SetRefundState(ref string, state RefundState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.refunds[ref]; ok {
		r.State = state
	}
}
