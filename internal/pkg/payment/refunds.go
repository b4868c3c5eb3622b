package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

type CreateRefundInput struct {
	PaymentID string `json:"payment_id" validate:"required"`
	// Amount defaults to the remaining refundable balance when zero.
	Amount money.Amount `json:"amount" validate:"gte=0"`
	Reason string       `json:"reason" validate:"max=255"`
}

// GatewayRefundUpdate is a refund state change reported by the gateway.
type GatewayRefundUpdate struct {
	// RefundID is our refund id echoed back in the gateway notes, if any.
	RefundID   string
	RefundRef  string
	PaymentRef string
	Amount     money.Amount
	Status     models.RefundStatus
	Error      string
}

// CreateRefund reserves the amount against the payment and submits it to the
// gateway. Cash on delivery refunds complete immediately. A refund the
// gateway rejects is failed and its reservation released; one whose outcome
// is unknown after retries stays pending for the webhook or the sync job.
func (s *Service) CreateRefund(ctx context.Context, in CreateRefundInput) (*models.Refund, error) {
	if err := validate.Struct(in); err != nil {
		return nil, apperror.Validation(apperror.CodeInvalidInput, err.Error())
	}

	refund, payment, err := s.reserveRefund(ctx, in)
	if err != nil {
		return nil, err
	}
	log.Infof("[Payment] Refund %s of %s requested for payment %s", refund.ID, refund.Amount.Format(payment.Currency), payment.ID)

	if payment.Method == models.PaymentMethodCOD {
		return s.applyRefund(ctx, refund.ID, models.RefundStatusCompleted, "", "")
	}

	var result *gateway.Refund
	err = gateway.WithRetry(ctx, s.attempts, s.backoff, "create refund", func(ctx context.Context) error {
		var err error
		result, err = s.gateway.CreateRefund(ctx, payment.PaymentRef(), refund.Amount, map[string]interface{}{
			"refund_id":  refund.ID,
			"payment_id": payment.ID,
		})
		return err
	})
	if err != nil {
		if !errors.Is(err, gateway.ErrPermanent) {
			log.Warnf("[Payment] Gateway refund for %s has no outcome, leaving it pending: %v", refund.ID, err)
			return nil, err
		}
		log.Errorf("[Payment] Gateway rejected refund %s: %v", refund.ID, err)
		if _, ferr := s.applyRefund(ctx, refund.ID, models.RefundStatusFailed, "", err.Error()); ferr != nil {
			log.Errorf("[Payment] Could not release refund %s: %v", refund.ID, ferr)
		}
		return nil, err
	}

	status := refundStatusFromGateway(result.State)
	updated, err := s.applyRefund(ctx, refund.ID, status, result.Ref, "")
	if err != nil && status == models.RefundStatusProcessing && errors.Is(err, apperror.ErrInvalidTransition) {
		// a webhook finished the refund while the gateway call was in flight
		return s.GetRefund(ctx, refund.ID)
	}
	return updated, err
}

// reserveRefund stores a pending refund under the payment lock. The lock is
// released before the gateway is called.
func (s *Service) reserveRefund(ctx context.Context, in CreateRefundInput) (*models.Refund, *models.Payment, error) {
	unlock, err := s.lock(ctx, "payment", in.PaymentID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	var (
		refund  *models.Refund
		payment *models.Payment
	)
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		p, err := tx.Payment.GetByIDForUpdate(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		remaining, err := s.remaining(ctx, tx, p)
		if err != nil {
			return err
		}
		amount := in.Amount
		if amount == 0 {
			amount = remaining
		}
		if amount <= 0 || amount > remaining {
			return apperror.Validation(apperror.CodeInvalidRefundAmount,
				fmt.Sprintf("refund amount must be between 0.01 and %s", remaining.Major()))
		}

		refund = &models.Refund{
			PaymentID: p.ID,
			Amount:    amount,
			Reason:    in.Reason,
			Status:    models.RefundStatusPending,
		}
		if err := tx.Refund.Create(ctx, refund); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, nil, translate("payment", err)
	}
	return refund, payment, nil
}

// remaining is the refundable balance: amount minus every refund that is
// not failed.
func (s *Service) remaining(ctx context.Context, tx *repository.Repositories, p *models.Payment) (money.Amount, error) {
	if !p.IsRefundable() {
		return 0, apperror.Validation(apperror.CodeInvalidPaymentStatus,
			fmt.Sprintf("payment in status %q cannot be refunded", p.Status))
	}
	reserved, err := tx.Refund.SumByPayment(ctx, p.ID, models.ReservedStatuses)
	if err != nil {
		return 0, err
	}
	return p.Amount - reserved, nil
}

// UpdateRefundStatus is the operator path for moving a refund forward.
func (s *Service) UpdateRefundStatus(ctx context.Context, refundID string, status models.RefundStatus, errMsg string) (*models.Refund, error) {
	switch status {
	case models.RefundStatusProcessing, models.RefundStatusCompleted, models.RefundStatusFailed:
	default:
		return nil, apperror.Validation(apperror.CodeInvalidInput, fmt.Sprintf("unsupported refund status %q", status))
	}
	return s.applyRefund(ctx, refundID, status, "", errMsg)
}

// ApplyGatewayRefund records a refund change reported by the gateway. Refunds
// initiated outside this service are adopted when the payment is known.
func (s *Service) ApplyGatewayRefund(ctx context.Context, upd GatewayRefundUpdate) (*models.Refund, error) {
	if upd.RefundRef == "" {
		return nil, apperror.Validation(apperror.CodeInvalidInput, "gateway refund reference is required")
	}

	existing, err := s.repos.Refund.GetByGatewayRef(ctx, upd.RefundRef)
	if err == nil {
		return s.applyRefund(ctx, existing.ID, upd.Status, "", upd.Error)
	}
	if repository.IsNotFound(err) && upd.RefundID != "" {
		// the gateway can report a refund before CreateRefund stored its ref
		if _, lerr := s.repos.Refund.GetByID(ctx, upd.RefundID); lerr == nil {
			return s.applyRefund(ctx, upd.RefundID, upd.Status, upd.RefundRef, upd.Error)
		}
	}
	if !repository.IsNotFound(err) {
		return nil, translate("refund", err)
	}

	adopted, err := s.adoptGatewayRefund(ctx, upd)
	if err != nil {
		return nil, err
	}
	if adopted.Status == upd.Status {
		return adopted, nil
	}
	return s.applyRefund(ctx, adopted.ID, upd.Status, "", upd.Error)
}

func (s *Service) adoptGatewayRefund(ctx context.Context, upd GatewayRefundUpdate) (*models.Refund, error) {
	if upd.PaymentRef == "" || upd.Amount <= 0 {
		return nil, apperror.NotFound("refund", nil)
	}
	p, err := s.repos.Payment.GetByGatewayPaymentRef(ctx, upd.PaymentRef)
	if err != nil {
		return nil, translate("payment", err)
	}

	unlock, err := s.lock(ctx, "payment", p.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var refund *models.Refund
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		// a concurrent delivery may have adopted it already
		if r, err := tx.Refund.GetByGatewayRef(ctx, upd.RefundRef); err == nil {
			refund = r
			return nil
		}
		locked, err := tx.Payment.GetByIDForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		remaining, err := s.remaining(ctx, tx, locked)
		if err != nil {
			return err
		}
		if upd.Amount > remaining {
			return apperror.Validation(apperror.CodeInvalidRefundAmount, "gateway refund exceeds the refundable balance")
		}
		ref := upd.RefundRef
		refund = &models.Refund{
			PaymentID:        locked.ID,
			Amount:           upd.Amount,
			Reason:           "initiated at gateway",
			Status:           models.RefundStatusProcessing,
			GatewayRefundRef: &ref,
		}
		return tx.Refund.Create(ctx, refund)
	})
	if err != nil {
		return nil, translate("refund", err)
	}
	log.Infof("[Payment] Adopted gateway refund %s for payment %s", upd.RefundRef, p.ID)
	return refund, nil
}

// SyncRefund polls the gateway for a refund that is not final yet.
func (s *Service) SyncRefund(ctx context.Context, refundID string) (*models.Refund, error) {
	refund, err := s.repos.Refund.GetByID(ctx, refundID)
	if err != nil {
		return nil, translate("refund", err)
	}
	if refund.IsFinal() {
		return refund, nil
	}
	if refund.RefundRef() == "" {
		return s.reconcileUnanswered(ctx, refund)
	}

	var result *gateway.Refund
	err = gateway.WithRetry(ctx, s.attempts, s.backoff, "fetch refund", func(ctx context.Context) error {
		var err error
		result, err = s.gateway.FetchRefund(ctx, refund.RefundRef())
		return err
	})
	if err != nil {
		return nil, err
	}

	status := refundStatusFromGateway(result.State)
	if status == refund.Status {
		return refund, nil
	}
	errMsg := ""
	if status == models.RefundStatusFailed {
		errMsg = "refund failed at gateway"
	}
	return s.applyRefund(ctx, refund.ID, status, "", errMsg)
}

// reconcileUnanswered looks for a refund whose create call never returned a
// gateway reference. The gateway's refunds for the payment are matched on the
// refund_id note. Without a match the refund stays pending.
func (s *Service) reconcileUnanswered(ctx context.Context, refund *models.Refund) (*models.Refund, error) {
	payment, err := s.repos.Payment.GetByID(ctx, refund.PaymentID)
	if err != nil {
		return nil, translate("payment", err)
	}
	if payment.Method != models.PaymentMethodOnline || payment.PaymentRef() == "" {
		return refund, nil
	}

	var listed []gateway.Refund
	err = gateway.WithRetry(ctx, s.attempts, s.backoff, "list refunds", func(ctx context.Context) error {
		var err error
		listed, err = s.gateway.ListRefunds(ctx, payment.PaymentRef())
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, r := range listed {
		if r.RefundID != refund.ID {
			continue
		}
		status := refundStatusFromGateway(r.State)
		errMsg := ""
		if status == models.RefundStatusFailed {
			errMsg = "refund failed at gateway"
		}
		log.Infof("[Payment] Found gateway refund %s for unanswered refund %s", r.Ref, refund.ID)
		return s.applyRefund(ctx, refund.ID, status, r.Ref, errMsg)
	}
	return refund, nil
}

// SyncPendingRefunds polls every open refund untouched for olderThan.
func (s *Service) SyncPendingRefunds(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	refunds, err := s.repos.Refund.ListByStatus(ctx,
		[]models.RefundStatus{models.RefundStatusPending, models.RefundStatusProcessing},
		s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, apperror.Persistence("failed to list open refunds", err)
	}

	synced := 0
	for _, r := range refunds {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		updated, err := s.SyncRefund(ctx, r.ID)
		if err != nil {
			log.Warnf("[Payment] Refund sync for %s failed: %v", r.ID, err)
			continue
		}
		if updated.Status != r.Status {
			synced++
		}
	}
	return synced, nil
}

// applyRefund moves a refund to status under the payment lock. Completing a
// refund moves the payment to partially_refunded or refunded in the same
// transaction.
func (s *Service) applyRefund(ctx context.Context, refundID string, status models.RefundStatus, gatewayRef, errMsg string) (*models.Refund, error) {
	current, err := s.repos.Refund.GetByID(ctx, refundID)
	if err != nil {
		return nil, translate("refund", err)
	}

	unlock, err := s.lock(ctx, "payment", current.PaymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		refund  *models.Refund
		payment *models.Payment
	)
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		p, err := tx.Payment.GetByIDForUpdate(ctx, current.PaymentID)
		if err != nil {
			return err
		}
		r, err := tx.Refund.GetByIDForUpdate(ctx, refundID)
		if err != nil {
			return err
		}
		refund, payment = r, p

		if gatewayRef != "" && r.RefundRef() == "" {
			ref := gatewayRef
			r.GatewayRefundRef = &ref
		}
		if r.Status == status {
			if gatewayRef != "" {
				return tx.Refund.Update(ctx, r)
			}
			return nil
		}
		if !canRefundTransition(r.Status, status) {
			return apperror.InvalidTransition(string(r.Status), string(status))
		}

		r.Status = status
		switch status {
		case models.RefundStatusFailed:
			r.ErrorMessage = errMsg
		case models.RefundStatusCompleted:
			now := s.now()
			r.CompletedAt = &now
			r.ErrorMessage = ""
		}
		if err := tx.Refund.Update(ctx, r); err != nil {
			return err
		}
		if status != models.RefundStatusCompleted {
			return nil
		}

		completed, err := tx.Refund.SumByPayment(ctx, p.ID, []models.RefundStatus{models.RefundStatusCompleted})
		if err != nil {
			return err
		}
		next := models.PaymentStatusPartiallyRefunded
		if completed >= p.Amount {
			next = models.PaymentStatusRefunded
		}
		if p.Status == next {
			return nil
		}
		if err := checkTransition(p.Status, next); err != nil {
			return err
		}
		p.Status = next
		return tx.Payment.Update(ctx, p)
	})
	if err != nil {
		return nil, translate("refund", err)
	}

	s.cache.Invalidate(ctx, payment)
	if refund.Status == models.RefundStatusCompleted && current.Status != models.RefundStatusCompleted {
		log.Infof("[Payment] Refund %s completed, payment %s is now %s", refund.ID, payment.ID, payment.Status)
		s.notify(payment.BuyerID, "Refund processed",
			fmt.Sprintf("Your refund of %s for order %s has been processed.", refund.Amount.Format(payment.Currency), payment.OrderID))
	}
	return refund, nil
}

func (s *Service) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	r, err := s.repos.Refund.GetByID(ctx, id)
	if err != nil {
		return nil, translate("refund", err)
	}
	return r, nil
}

func (s *Service) ListRefunds(ctx context.Context, paymentID string) ([]models.Refund, error) {
	if _, err := s.repos.Payment.GetByID(ctx, paymentID); err != nil {
		return nil, translate("payment", err)
	}
	refunds, err := s.repos.Refund.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, apperror.Persistence("failed to list refunds", err)
	}
	return refunds, nil
}

func refundStatusFromGateway(state gateway.RefundState) models.RefundStatus {
	switch state {
	case gateway.RefundStateProcessed:
		return models.RefundStatusCompleted
	case gateway.RefundStateFailed:
		return models.RefundStatusFailed
	default:
		return models.RefundStatusProcessing
	}
}
