package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
	"github.com/ManuelReschke/PayFox/internal/pkg/signature"
)

const testKeySecret = "key_secret"

type fakeOrders struct {
	mu       sync.Mutex
	invalid  map[string]bool
	paid     []string
	paidErr  error
	validErr error
}

func (f *fakeOrders) ValidateForPayment(ctx context.Context, orderID string, amount money.Amount) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.validErr != nil {
		return false, f.validErr
	}
	return !f.invalid[orderID], nil
}

func (f *fakeOrders) MarkPaid(ctx context.Context, orderID, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, orderID)
	return f.paidErr
}

func (f *fakeOrders) paidCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paid)
}

type fakeIdentity struct{}

func (fakeIdentity) LookupEmail(ctx context.Context, userID string) (string, error) {
	return userID + "@example.com", nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+": "+subject)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// memCache is an in-memory PaymentCache keyed the same way as the Redis one.
type memCache struct {
	mu      sync.Mutex
	byID    map[string]models.Payment
	byOrder map[string]models.Payment
}

func newMemCache() *memCache {
	return &memCache{byID: map[string]models.Payment{}, byOrder: map[string]models.Payment{}}
}

func (c *memCache) Get(ctx context.Context, id string) (*models.Payment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byID[id]
	return &p, ok
}

func (c *memCache) GetByOrder(ctx context.Context, orderID string) (*models.Payment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byOrder[orderID]
	return &p, ok
}

func (c *memCache) Set(ctx context.Context, p *models.Payment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[p.ID] = *p
}

func (c *memCache) SetLatest(ctx context.Context, p *models.Payment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byOrder[p.OrderID] = *p
}

func (c *memCache) Invalidate(ctx context.Context, p *models.Payment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, p.ID)
	delete(c.byOrder, p.OrderID)
}

type testEnv struct {
	svc      *Service
	repos    *repository.Repositories
	gw       *gateway.Fake
	orders   *fakeOrders
	notifier *fakeNotifier
	verifier *signature.Verifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repos := repository.NewRepositories(dbtest.NewTestDB(t))
	env := &testEnv{
		repos:    repos,
		gw:       gateway.NewFake(),
		orders:   &fakeOrders{invalid: map[string]bool{}},
		notifier: &fakeNotifier{},
		verifier: signature.NewVerifier(testKeySecret, ""),
	}
	env.svc = NewService(Options{
		Repos:           repos,
		Gateway:         env.gw,
		Verifier:        env.verifier,
		Orders:          env.orders,
		Identity:        fakeIdentity{},
		Notifier:        env.notifier,
		GatewayAttempts: 2,
		GatewayBackoff:  time.Millisecond,
	})
	t.Cleanup(env.svc.Wait)
	return env
}

func (e *testEnv) createOnline(t *testing.T, orderID string, amount money.Amount) *models.Payment {
	t.Helper()
	p, err := e.svc.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID: orderID, BuyerID: "buyer-1", VendorID: "vendor-1",
		Amount: amount, Currency: "inr", Method: models.PaymentMethodOnline,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) confirmInput(p *models.Payment, paymentRef string) ConfirmPaymentInput {
	return ConfirmPaymentInput{
		PaymentID:         p.ID,
		GatewayOrderRef:   p.GatewayOrderRef,
		GatewayPaymentRef: paymentRef,
		Signature:         e.verifier.SignHex([]byte(p.GatewayOrderRef + "|" + paymentRef)),
	}
}

// paid creates an online payment and confirms it.
func (e *testEnv) paid(t *testing.T, orderID string, amount money.Amount) *models.Payment {
	t.Helper()
	p := e.createOnline(t, orderID, amount)
	p, err := e.svc.ConfirmPayment(context.Background(), e.confirmInput(p, "pay_"+orderID))
	require.NoError(t, err)
	return p
}

// paidCOD creates a cash on delivery payment and marks the cash collected.
func (e *testEnv) paidCOD(t *testing.T, orderID string, amount money.Amount) *models.Payment {
	t.Helper()
	p, err := e.svc.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID: orderID, BuyerID: "buyer-1", VendorID: "vendor-1",
		Amount: amount, Currency: "INR", Method: models.PaymentMethodCOD,
	})
	require.NoError(t, err)
	p, err = e.svc.CapturePayment(context.Background(), p.ID, "")
	require.NoError(t, err)
	return p
}
