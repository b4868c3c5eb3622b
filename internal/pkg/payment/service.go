// Package payment owns the payment and refund state machines. Every mutation
// runs under a per-payment lock and a row-locked transaction, and the cache is
// invalidated only after the change is committed.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/locker"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
	"github.com/ManuelReschke/PayFox/internal/pkg/signature"
)

const (
	callbackTimeout = 5 * time.Second
	notifyTimeout   = 30 * time.Second
)

var validate = validator.New()

// Options wires a Service. Cache, Locker, Identity and Notifier are optional.
type Options struct {
	Repos    *repository.Repositories
	Gateway  gateway.Gateway
	Verifier *signature.Verifier
	Orders   OrderClient
	Identity IdentityLookup
	Notifier Notifier
	Cache    cache.PaymentCache
	Locker   locker.Locker

	GatewayAttempts int
	GatewayBackoff  time.Duration
	Now             func() time.Time
}

// Service is the payment lifecycle manager.
type Service struct {
	repos    *repository.Repositories
	gateway  gateway.Gateway
	verifier *signature.Verifier
	orders   OrderClient
	identity IdentityLookup
	notifier Notifier
	cache    cache.PaymentCache
	locks    locker.Locker

	attempts int
	backoff  time.Duration
	now      func() time.Time

	wg sync.WaitGroup
}

func NewService(opts Options) *Service {
	s := &Service{
		repos:    opts.Repos,
		gateway:  opts.Gateway,
		verifier: opts.Verifier,
		orders:   opts.Orders,
		identity: opts.Identity,
		notifier: opts.Notifier,
		cache:    opts.Cache,
		locks:    opts.Locker,
		attempts: opts.GatewayAttempts,
		backoff:  opts.GatewayBackoff,
		now:      opts.Now,
	}
	if s.cache == nil {
		s.cache = cache.NopPaymentCache{}
	}
	if s.locks == nil {
		s.locks = locker.NewKeyedMutex()
	}
	if s.attempts < 1 {
		s.attempts = 3
	}
	if s.backoff <= 0 {
		s.backoff = 200 * time.Millisecond
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Wait blocks until queued notifications are done.
func (s *Service) Wait() {
	s.wg.Wait()
}

type CreatePaymentInput struct {
	OrderID  string               `json:"order_id" validate:"required,max=64"`
	BuyerID  string               `json:"buyer_id" validate:"required,max=64"`
	VendorID string               `json:"vendor_id" validate:"required,max=64"`
	Amount   money.Amount         `json:"amount" validate:"gt=0"`
	Currency string               `json:"currency" validate:"required,len=3"`
	Method   models.PaymentMethod `json:"method" validate:"required,oneof=online cod"`
}

type ConfirmPaymentInput struct {
	PaymentID         string `json:"payment_id" validate:"required"`
	GatewayOrderRef   string `json:"gateway_order_ref" validate:"required"`
	GatewayPaymentRef string `json:"gateway_payment_ref" validate:"required"`
	Signature         string `json:"signature" validate:"required"`
}

// CreatePayment registers a payment intent for an order. Online payments also
// get a gateway order. A pending attempt for the same order is reused.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (*models.Payment, error) {
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := validate.Struct(in); err != nil {
		return nil, apperror.Validation(apperror.CodeInvalidInput, err.Error())
	}

	ok, err := s.orders.ValidateForPayment(ctx, in.OrderID, in.Amount)
	if err != nil {
		return nil, apperror.Gateway("order service unavailable", err)
	}
	if !ok {
		return nil, apperror.Validation(apperror.CodeInvalidOrder, "order is not payable for this amount")
	}

	unlock, err := s.lock(ctx, "order", in.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.pendingAttempt(ctx, in)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &models.Payment{
			OrderID:  in.OrderID,
			BuyerID:  in.BuyerID,
			VendorID: in.VendorID,
			Amount:   in.Amount,
			Currency: in.Currency,
			Method:   in.Method,
			Status:   models.PaymentStatusPending,
		}
		if err := s.repos.Payment.Create(ctx, p); err != nil {
			return nil, apperror.Persistence("failed to create payment", err)
		}
		s.cache.Invalidate(ctx, p)
		log.Infof("[Payment] Created payment %s for order %s (%s, %s)", p.ID, p.OrderID, p.Method, p.Amount.Format(p.Currency))
	}

	if p.Method != models.PaymentMethodOnline || p.GatewayOrderRef != "" {
		return p, nil
	}
	return s.requestGatewayOrder(ctx, p)
}

// pendingAttempt returns the reusable pending payment for the order, nil when
// a new attempt is needed, or an error when the order is already paid.
func (s *Service) pendingAttempt(ctx context.Context, in CreatePaymentInput) (*models.Payment, error) {
	existing, err := s.repos.Payment.GetByOrderID(ctx, in.OrderID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperror.Persistence("failed to load payment", err)
	}

	switch existing.Status {
	case models.PaymentStatusFailed:
		return nil, nil
	case models.PaymentStatusPending:
		if existing.Amount != in.Amount || existing.VendorID != in.VendorID || existing.Method != in.Method {
			return nil, apperror.Validation(apperror.CodeInvalidOrder, "a different payment is already pending for this order")
		}
		return existing, nil
	default:
		return nil, apperror.Validation(apperror.CodeInvalidOrder, "order is already paid")
	}
}

func (s *Service) requestGatewayOrder(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	var order *gateway.Order
	err := gateway.WithRetry(ctx, s.attempts, s.backoff, "create order", func(ctx context.Context) error {
		var err error
		order, err = s.gateway.CreateOrder(ctx, gateway.OrderRequest{
			Amount:   p.Amount,
			Currency: p.Currency,
			Receipt:  p.ID,
			Notes:    map[string]interface{}{"order_id": p.OrderID, "payment_id": p.ID},
		})
		return err
	})

	if err != nil {
		log.Errorf("[Payment] Gateway order creation failed for payment %s: %v", p.ID, err)
		p.ErrorCode = models.PaymentErrorGateway
		p.ErrorMessage = err.Error()
	} else {
		p.GatewayOrderRef = order.Ref
		p.ErrorCode = ""
		p.ErrorMessage = ""
	}
	if uerr := s.repos.Payment.Update(ctx, p); uerr != nil {
		return nil, apperror.Persistence("failed to store gateway order", uerr)
	}
	s.cache.Invalidate(ctx, p)

	if err != nil {
		return nil, err
	}
	return p, nil
}

// ConfirmPayment applies a client-side checkout confirmation. A bad signature
// fails a pending payment and never reaches the order service.
func (s *Service) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (*models.Payment, error) {
	if err := validate.Struct(in); err != nil {
		return nil, apperror.Validation(apperror.CodeInvalidInput, err.Error())
	}
	valid := s.verifier.VerifyPayment(in.GatewayOrderRef, in.GatewayPaymentRef, in.Signature)

	var resultErr error
	p, changed, err := s.mutatePayment(ctx, in.PaymentID, func(tx *repository.Repositories, p *models.Payment) (bool, error) {
		if p.Method != models.PaymentMethodOnline {
			return false, apperror.Validation(apperror.CodeInvalidInput, "only online payments are confirmed with a signature")
		}
		if !valid {
			resultErr = apperror.InvalidSignature("payment signature verification failed")
			if p.Status != models.PaymentStatusPending {
				return false, nil
			}
			s.markFailed(p, models.PaymentErrorInvalidSignature, "payment signature verification failed")
			return true, nil
		}
		if p.GatewayOrderRef != "" && p.GatewayOrderRef != in.GatewayOrderRef {
			return false, apperror.Validation(apperror.CodeInvalidInput, "gateway order reference does not match payment")
		}
		if p.Status == models.PaymentStatusSuccess && p.PaymentRef() == in.GatewayPaymentRef {
			return false, nil
		}
		if err := checkTransition(p.Status, models.PaymentStatusSuccess); err != nil {
			return false, err
		}
		p.GatewayOrderRef = in.GatewayOrderRef
		s.markSucceeded(p, in.GatewayPaymentRef)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if resultErr != nil {
		if changed {
			log.Warnf("[Payment] Payment %s failed signature verification", p.ID)
		}
		return nil, resultErr
	}
	if changed {
		s.afterSuccess(ctx, p)
	}
	return p, nil
}

// FinalizeCaptured moves the payment behind gatewayOrderRef to success. It is
// used for already authenticated gateway notifications and is idempotent.
func (s *Service) FinalizeCaptured(ctx context.Context, gatewayOrderRef, gatewayPaymentRef string) (*models.Payment, error) {
	if gatewayOrderRef == "" || gatewayPaymentRef == "" {
		return nil, apperror.Validation(apperror.CodeInvalidInput, "gateway order and payment references are required")
	}
	id, err := s.resolveByOrderRef(ctx, gatewayOrderRef)
	if err != nil {
		return nil, err
	}

	p, changed, err := s.mutatePayment(ctx, id, func(tx *repository.Repositories, p *models.Payment) (bool, error) {
		if p.Status == models.PaymentStatusSuccess && p.PaymentRef() == gatewayPaymentRef {
			return false, nil
		}
		if p.PaymentRef() == gatewayPaymentRef && (p.Status == models.PaymentStatusPartiallyRefunded || p.Status == models.PaymentStatusRefunded) {
			return false, nil
		}
		if err := checkTransition(p.Status, models.PaymentStatusSuccess); err != nil {
			return false, err
		}
		s.markSucceeded(p, gatewayPaymentRef)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterSuccess(ctx, p)
	}
	return p, nil
}

// MarkFailed moves a pending payment to failed. Failing an already failed
// payment is a no-op.
func (s *Service) MarkFailed(ctx context.Context, paymentID, code, message string) (*models.Payment, error) {
	p, _, err := s.mutatePayment(ctx, paymentID, func(tx *repository.Repositories, p *models.Payment) (bool, error) {
		if p.Status == models.PaymentStatusFailed {
			return false, nil
		}
		if err := checkTransition(p.Status, models.PaymentStatusFailed); err != nil {
			return false, err
		}
		s.markFailed(p, code, message)
		return true, nil
	})
	return p, err
}

// MarkFailedByOrderRef is MarkFailed for callers that only know the gateway order.
func (s *Service) MarkFailedByOrderRef(ctx context.Context, gatewayOrderRef, code, message string) (*models.Payment, error) {
	id, err := s.resolveByOrderRef(ctx, gatewayOrderRef)
	if err != nil {
		return nil, err
	}
	return s.MarkFailed(ctx, id, code, message)
}

// CapturePayment completes a payment on the merchant side: a gateway capture
// for online payments, cash collection for COD.
func (s *Service) CapturePayment(ctx context.Context, paymentID, gatewayPaymentRef string) (*models.Payment, error) {
	unlock, err := s.lock(ctx, "payment", paymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.repos.Payment.GetByID(ctx, paymentID)
	if err != nil {
		return nil, translate("payment", err)
	}
	if current.Status == models.PaymentStatusSuccess {
		if gatewayPaymentRef == "" || current.PaymentRef() == gatewayPaymentRef {
			return current, nil
		}
	}
	if err := checkTransition(current.Status, models.PaymentStatusSuccess); err != nil {
		return nil, err
	}

	ref := gatewayPaymentRef
	if current.Method == models.PaymentMethodOnline {
		if ref == "" {
			ref = current.PaymentRef()
		}
		if ref == "" {
			return nil, apperror.Validation(apperror.CodeInvalidInput, "gateway payment reference is required to capture an online payment")
		}
		err := gateway.WithRetry(ctx, s.attempts, s.backoff, "capture payment", func(ctx context.Context) error {
			return s.gateway.CapturePayment(ctx, ref, current.Amount, current.Currency)
		})
		if err != nil {
			log.Errorf("[Payment] Capture of payment %s failed: %v", paymentID, err)
			return nil, err
		}
	}

	p, changed, err := s.applyPayment(ctx, paymentID, func(tx *repository.Repositories, p *models.Payment) (bool, error) {
		if err := checkTransition(p.Status, models.PaymentStatusSuccess); err != nil {
			return false, err
		}
		s.markSucceeded(p, ref)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterSuccess(ctx, p)
	}
	return p, nil
}

// UpdatePaymentStatus is the operator override. It follows the same
// transition table as every other path.
func (s *Service) UpdatePaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus, code, message string) (*models.Payment, error) {
	if !IsValidPaymentStatus(status) {
		return nil, apperror.Validation(apperror.CodeInvalidInput, fmt.Sprintf("unknown payment status %q", status))
	}

	p, changed, err := s.mutatePayment(ctx, paymentID, func(tx *repository.Repositories, p *models.Payment) (bool, error) {
		if err := checkTransition(p.Status, status); err != nil {
			return false, err
		}
		switch status {
		case models.PaymentStatusSuccess:
			s.markSucceeded(p, p.PaymentRef())
		case models.PaymentStatusFailed:
			s.markFailed(p, code, message)
		default:
			p.Status = status
			if code != "" || message != "" {
				p.ErrorCode, p.ErrorMessage = code, message
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Payment] Status of payment %s set to %s by operator", p.ID, status)
	if changed && status == models.PaymentStatusSuccess {
		s.afterSuccess(ctx, p)
	}
	return p, nil
}

// GetPayment reads through the cache.
func (s *Service) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	if p, ok := s.cache.Get(ctx, id); ok {
		return p, nil
	}
	p, err := s.repos.Payment.GetByID(ctx, id)
	if err != nil {
		return nil, translate("payment", err)
	}
	s.cache.Set(ctx, p)
	return p, nil
}

// GetPaymentByOrder returns the latest payment attempt for an order.
func (s *Service) GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	if p, ok := s.cache.GetByOrder(ctx, orderID); ok {
		return p, nil
	}
	p, err := s.repos.Payment.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, translate("payment", err)
	}
	s.cache.SetLatest(ctx, p)
	return p, nil
}

func (s *Service) ListPayments(ctx context.Context, filter repository.PaymentFilter) ([]models.Payment, error) {
	payments, err := s.repos.Payment.List(ctx, filter)
	if err != nil {
		return nil, apperror.Persistence("failed to list payments", err)
	}
	return payments, nil
}

func (s *Service) resolveByOrderRef(ctx context.Context, gatewayOrderRef string) (string, error) {
	p, err := s.repos.Payment.GetByGatewayOrderRef(ctx, gatewayOrderRef)
	if err != nil {
		return "", translate("payment", err)
	}
	return p.ID, nil
}

func (s *Service) markSucceeded(p *models.Payment, gatewayPaymentRef string) {
	now := s.now()
	p.Status = models.PaymentStatusSuccess
	if gatewayPaymentRef != "" {
		ref := gatewayPaymentRef
		p.GatewayPaymentRef = &ref
	}
	p.CompletedAt = &now
	p.ErrorCode = ""
	p.ErrorMessage = ""
}

func (s *Service) markFailed(p *models.Payment, code, message string) {
	now := s.now()
	p.Status = models.PaymentStatusFailed
	p.ErrorCode = code
	p.ErrorMessage = message
	p.FailedAt = &now
}

func (s *Service) lock(ctx context.Context, kind, id string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, locker.Key(kind, id))
	if err != nil {
		return nil, apperror.Persistence("could not lock "+kind+" "+id, err)
	}
	return unlock, nil
}

type paymentMutation func(tx *repository.Repositories, p *models.Payment) (bool, error)

// mutatePayment locks the payment and applies fn inside a transaction.
func (s *Service) mutatePayment(ctx context.Context, id string, fn paymentMutation) (*models.Payment, bool, error) {
	unlock, err := s.lock(ctx, "payment", id)
	if err != nil {
		return nil, false, err
	}
	defer unlock()
	return s.applyPayment(ctx, id, fn)
}

// applyPayment expects the payment lock to be held. The row is re-read with
// FOR UPDATE and written only when fn reports a change.
func (s *Service) applyPayment(ctx context.Context, id string, fn paymentMutation) (*models.Payment, bool, error) {
	var (
		out     *models.Payment
		changed bool
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		p, err := tx.Payment.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		changed, err = fn(tx, p)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.Payment.Update(ctx, p); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, false, translate("payment", err)
	}
	if changed {
		s.cache.Invalidate(ctx, out)
	}
	return out, changed, nil
}

// afterSuccess runs the side effects of a payment reaching success. The order
// callback is awaited but its failure only logged; the buyer mail is async.
func (s *Service) afterSuccess(ctx context.Context, p *models.Payment) {
	log.Infof("[Payment] Payment %s for order %s succeeded", p.ID, p.OrderID)

	cbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
	defer cancel()
	if err := s.orders.MarkPaid(cbCtx, p.OrderID, p.ID); err != nil {
		log.Errorf("[Payment] Order callback for order %s failed: %v", p.OrderID, err)
	}

	s.notify(p.BuyerID, "Payment received",
		fmt.Sprintf("We received your payment of %s for order %s.", p.Amount.Format(p.Currency), p.OrderID))
}

func (s *Service) notify(userID, subject, body string) {
	if s.notifier == nil || s.identity == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		to, err := s.identity.LookupEmail(ctx, userID)
		if err != nil || to == "" {
			log.Warnf("[Payment] No notification address for user %s: %v", userID, err)
			return
		}
		if err := s.notifier.Send(ctx, to, subject, body); err != nil {
			log.Warnf("[Payment] Notification to user %s failed: %v", userID, err)
		}
	}()
}

// translate maps store errors onto the application taxonomy.
func translate(entity string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	if repository.IsNotFound(err) {
		return apperror.NotFound(entity, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.Persistence(entity+" operation cancelled", err)
	}
	return apperror.Persistence(entity+" update failed", err)
}
