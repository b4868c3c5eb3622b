// Package settlement batches successful payments into vendor payouts.
// A payment is settled at most once: generation holds a vendor lock, selects
// candidates with FOR UPDATE and NOT EXISTS, and the unique line item index
// rejects anything that slips through.
package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/locker"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

var validate = validator.New()

// maxResidue is the largest rounding residue left out of the adjustment.
const maxResidue money.Amount = 1

var settlementTransitions = map[models.SettlementStatus][]models.SettlementStatus{
	models.SettlementStatusPending:    {models.SettlementStatusProcessing, models.SettlementStatusCompleted, models.SettlementStatusFailed},
	models.SettlementStatusProcessing: {models.SettlementStatusCompleted, models.SettlementStatusFailed},
	models.SettlementStatusFailed:     {models.SettlementStatusProcessing},
}

type GenerateInput struct {
	VendorID    string    `json:"vendor_id" validate:"required,max=64"`
	Currency    string    `json:"currency" validate:"omitempty,len=3"`
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required"`
	// CommissionPercentage falls back to the configured default when nil.
	CommissionPercentage *decimal.Decimal `json:"commission_percentage"`
	AdjustmentAmount     money.Amount     `json:"adjustment_amount"`
	AdjustmentReason     string           `json:"adjustment_reason" validate:"max=200"`
}

// Archiver stores statements of completed settlements.
type Archiver interface {
	Archive(ctx context.Context, s *models.Settlement) (string, error)
}

type Batcher struct {
	repos           *repository.Repositories
	locks           locker.Locker
	defaultPct      decimal.Decimal
	defaultCurrency string
	archiver        Archiver
	now             func() time.Time
}

func NewBatcher(repos *repository.Repositories, locks locker.Locker, defaultPct decimal.Decimal, defaultCurrency string) *Batcher {
	if locks == nil {
		locks = locker.NewKeyedMutex()
	}
	return &Batcher{
		repos:           repos,
		locks:           locks,
		defaultPct:      defaultPct,
		defaultCurrency: strings.ToUpper(defaultCurrency),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithArchiver enables statement archival on completion.
func (b *Batcher) WithArchiver(a Archiver) *Batcher {
	b.archiver = a
	return b
}

// Generate creates one settlement for the vendor's unsettled successful
// payments completed in [PeriodStart, PeriodEnd).
func (b *Batcher) Generate(ctx context.Context, in GenerateInput) (*models.Settlement, error) {
	if err := validate.Struct(in); err != nil {
		return nil, apperror.Validation(apperror.CodeInvalidInput, err.Error())
	}
	start, end := in.PeriodStart.UTC(), in.PeriodEnd.UTC()
	if !start.Before(end) {
		return nil, apperror.Validation(apperror.CodeInvalidInput, "period_start must be before period_end")
	}
	pct := b.defaultPct
	if in.CommissionPercentage != nil {
		pct = *in.CommissionPercentage
	}
	if err := money.ValidatePercentage(pct); err != nil {
		return nil, apperror.Validation(apperror.CodeInvalidInput, err.Error())
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = b.defaultCurrency
	}

	unlock, err := b.locks.Lock(ctx, locker.Key("settlement-vendor", in.VendorID+":"+currency))
	if err != nil {
		return nil, apperror.Persistence("could not lock vendor "+in.VendorID, err)
	}
	defer unlock()

	var settlement *models.Settlement
	err = b.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		payments, err := tx.Payment.ListSettlementCandidatesForUpdate(ctx, in.VendorID, currency, start, end)
		if err != nil {
			return err
		}
		if len(payments) == 0 {
			return apperror.NoPaymentsFound(fmt.Sprintf("no unsettled payments for vendor %s between %s and %s",
				in.VendorID, start.Format(time.RFC3339), end.Format(time.RFC3339)))
		}

		settlement = Compute(payments, pct, in.AdjustmentAmount, in.AdjustmentReason)
		if settlement.SettlementAmount < 0 {
			return apperror.Validation(apperror.CodeInvalidInput,
				fmt.Sprintf("adjustment %s exceeds the payout of %s", in.AdjustmentAmount.Format(currency),
					(settlement.TotalAmount-settlement.CommissionAmount).Format(currency)))
		}
		settlement.VendorID = in.VendorID
		settlement.Currency = currency
		settlement.PeriodStart = start
		settlement.PeriodEnd = end
		return tx.Settlement.Create(ctx, settlement)
	})
	if err != nil {
		return nil, translate(err)
	}

	log.Infof("[Settlement] Generated settlement %s for vendor %s: %d payments, total %s, commission %s, payout %s",
		settlement.ID, settlement.VendorID, len(settlement.LineItems),
		settlement.TotalAmount.Format(currency), settlement.CommissionAmount.Format(currency), settlement.SettlementAmount.Format(currency))
	return settlement, nil
}

// Compute derives totals and line items for payments. Commission is rounded
// half up once on the total and once per line; the difference is kept as
// rounding residue and folded into the adjustment when it exceeds one minor
// unit, so the payout equals the sum of line payouts plus the adjustment.
func Compute(payments []models.Payment, pct decimal.Decimal, adjustment money.Amount, reason string) *models.Settlement {
	s := &models.Settlement{
		CommissionPercentage: pct,
		Status:               models.SettlementStatusPending,
		LineItems:            make([]models.SettlementLineItem, 0, len(payments)),
	}

	var lineCommission money.Amount
	for _, p := range payments {
		commission := money.Percentage(p.Amount, pct)
		item := models.SettlementLineItem{
			PaymentID:        p.ID,
			OrderID:          p.OrderID,
			OrderAmount:      p.Amount,
			CommissionAmount: commission,
			SettlementAmount: p.Amount - commission,
			OrderDate:        p.CreatedAt,
		}
		if p.CompletedAt != nil {
			item.PaymentDate = *p.CompletedAt
		}
		s.LineItems = append(s.LineItems, item)
		s.TotalAmount += p.Amount
		lineCommission += commission
	}

	s.CommissionAmount = money.Percentage(s.TotalAmount, pct)
	s.RoundingResidue = lineCommission - s.CommissionAmount
	s.AdjustmentAmount = adjustment
	s.AdjustmentReason = reason
	if s.RoundingResidue > maxResidue || s.RoundingResidue < -maxResidue {
		s.AdjustmentAmount -= s.RoundingResidue
		note := fmt.Sprintf("rounding residue %d folded", s.RoundingResidue)
		if s.AdjustmentReason == "" {
			s.AdjustmentReason = note
		} else {
			s.AdjustmentReason += "; " + note
		}
	}
	s.SettlementAmount = s.TotalAmount - s.CommissionAmount + s.AdjustmentAmount
	return s
}

// ProcessSettlement records the payout transfer. Repeating it with the same
// bank reference returns the completed settlement unchanged.
func (b *Batcher) ProcessSettlement(ctx context.Context, id, bankReference, transferMethod string) (*models.Settlement, error) {
	bankReference = strings.TrimSpace(bankReference)
	if bankReference == "" {
		return nil, apperror.Validation(apperror.CodeInvalidInput, "bank reference is required")
	}

	var completedNow bool
	s, err := b.mutate(ctx, id, func(s *models.Settlement) (bool, error) {
		if s.Status == models.SettlementStatusCompleted && s.BankReference == bankReference {
			return false, nil
		}
		if !canTransition(s.Status, models.SettlementStatusCompleted) {
			return false, apperror.InvalidTransition(string(s.Status), string(models.SettlementStatusCompleted))
		}
		now := b.now()
		s.Status = models.SettlementStatusCompleted
		s.BankReference = bankReference
		s.TransferMethod = transferMethod
		s.ProcessedAt = &now
		s.FailureReason = ""
		completedNow = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if completedNow {
		log.Infof("[Settlement] Settlement %s completed with reference %s", s.ID, bankReference)
		b.archive(ctx, s)
	}
	return s, nil
}

// UpdateStatus moves a settlement to processing or failed.
func (b *Batcher) UpdateStatus(ctx context.Context, id string, status models.SettlementStatus, reason string) (*models.Settlement, error) {
	if status != models.SettlementStatusProcessing && status != models.SettlementStatusFailed {
		return nil, apperror.Validation(apperror.CodeInvalidInput, "status must be processing or failed; use process to complete")
	}
	return b.mutate(ctx, id, func(s *models.Settlement) (bool, error) {
		if s.Status == status {
			return false, nil
		}
		if !canTransition(s.Status, status) {
			return false, apperror.InvalidTransition(string(s.Status), string(status))
		}
		s.Status = status
		if status == models.SettlementStatusFailed {
			s.FailureReason = reason
		}
		return true, nil
	})
}

// AddNote appends an operator note. Allowed in every status.
func (b *Batcher) AddNote(ctx context.Context, id, author, body string) (*models.SettlementNote, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperror.Validation(apperror.CodeInvalidInput, "note body is required")
	}
	if _, err := b.repos.Settlement.GetByID(ctx, id); err != nil {
		return nil, translate(err)
	}
	note := &models.SettlementNote{SettlementID: id, Author: author, Body: body}
	if err := b.repos.Settlement.AddNote(ctx, note); err != nil {
		return nil, apperror.Persistence("failed to add note", err)
	}
	return note, nil
}

func (b *Batcher) Get(ctx context.Context, id string) (*models.Settlement, error) {
	s, err := b.repos.Settlement.GetWithDetails(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

func (b *Batcher) List(ctx context.Context, vendorID string, offset, limit int) ([]models.Settlement, error) {
	list, err := b.repos.Settlement.ListByVendor(ctx, vendorID, offset, limit)
	if err != nil {
		return nil, apperror.Persistence("failed to list settlements", err)
	}
	return list, nil
}

func (b *Batcher) LineItems(ctx context.Context, id string) ([]models.SettlementLineItem, error) {
	if _, err := b.repos.Settlement.GetByID(ctx, id); err != nil {
		return nil, translate(err)
	}
	items, err := b.repos.Settlement.LineItems(ctx, id)
	if err != nil {
		return nil, apperror.Persistence("failed to load line items", err)
	}
	return items, nil
}

// EligibleVendors lists vendor/currency pairs with unsettled payments in the period.
func (b *Batcher) EligibleVendors(ctx context.Context, start, end time.Time) ([]repository.VendorCurrency, error) {
	vendors, err := b.repos.Payment.ListVendorsWithCandidates(ctx, start.UTC(), end.UTC())
	if err != nil {
		return nil, apperror.Persistence("failed to list eligible vendors", err)
	}
	return vendors, nil
}

// GenerateAll settles every eligible vendor for the period with default
// commission. Vendors that fail are logged and skipped.
func (b *Batcher) GenerateAll(ctx context.Context, start, end time.Time) ([]*models.Settlement, error) {
	vendors, err := b.EligibleVendors(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var created []*models.Settlement
	for _, v := range vendors {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		s, err := b.Generate(ctx, GenerateInput{VendorID: v.VendorID, Currency: v.Currency, PeriodStart: start, PeriodEnd: end})
		if err != nil {
			if apperror.KindOf(err) != apperror.KindNoPaymentsFound {
				log.Errorf("[Settlement] Generation for vendor %s (%s) failed: %v", v.VendorID, v.Currency, err)
			}
			continue
		}
		created = append(created, s)
	}
	return created, nil
}

func (b *Batcher) mutate(ctx context.Context, id string, fn func(s *models.Settlement) (bool, error)) (*models.Settlement, error) {
	unlock, err := b.locks.Lock(ctx, locker.Key("settlement", id))
	if err != nil {
		return nil, apperror.Persistence("could not lock settlement "+id, err)
	}
	defer unlock()

	var out *models.Settlement
	err = b.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		s, err := tx.Settlement.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		changed, err := fn(s)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.Settlement.Update(ctx, s); err != nil {
				return err
			}
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// ArchiveStatement renders and stores the statement of a completed
// settlement and records its object key.
func (b *Batcher) ArchiveStatement(ctx context.Context, id string) (string, error) {
	if b.archiver == nil {
		return "", apperror.Validation(apperror.CodeInvalidInput, "statement archive is not configured")
	}
	s, err := b.repos.Settlement.GetWithDetails(ctx, id)
	if err != nil {
		return "", translate(err)
	}
	if s.Status != models.SettlementStatusCompleted {
		return "", apperror.InvalidTransition(string(s.Status), "archived")
	}
	key, err := b.archiver.Archive(ctx, s)
	if err != nil {
		return "", apperror.Gateway("statement upload failed", err)
	}
	s.StatementKey = key
	s.LineItems, s.Notes = nil, nil
	if err := b.repos.Settlement.Update(ctx, s); err != nil {
		return "", apperror.Persistence("could not store statement key", err)
	}
	return key, nil
}

// archive runs after completion. Failures are logged; the statement job or
// the statement endpoint can produce it later.
func (b *Batcher) archive(ctx context.Context, s *models.Settlement) {
	if b.archiver == nil {
		return
	}
	key, err := b.ArchiveStatement(ctx, s.ID)
	if err != nil {
		log.Warnf("[Settlement] Statement archival for %s failed: %v", s.ID, err)
		return
	}
	s.StatementKey = key
}

func canTransition(from, to models.SettlementStatus) bool {
	for _, next := range settlementTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func translate(err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	if repository.IsNotFound(err) {
		return apperror.NotFound("settlement", err)
	}
	return apperror.Persistence("settlement update failed", err)
}
