package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

// PaymentRepository defines the interface for payment persistence.
// Methods ending in ForUpdate take a row lock and must run inside Transaction.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	GetByGatewayOrderRef(ctx context.Context, ref string) (*models.Payment, error)
	GetByGatewayPaymentRef(ctx context.Context, ref string) (*models.Payment, error)
	Update(ctx context.Context, payment *models.Payment) error
	List(ctx context.Context, filter PaymentFilter) ([]models.Payment, error)
	ListSettlementCandidatesForUpdate(ctx context.Context, vendorID, currency string, start, end time.Time) ([]models.Payment, error)
	ListVendorsWithCandidates(ctx context.Context, start, end time.Time) ([]VendorCurrency, error)
	StatusTotals(ctx context.Context, since time.Time) ([]StatusTotal, error)
}

// RefundRepository defines the interface for refund persistence.
type RefundRepository interface {
	Create(ctx context.Context, refund *models.Refund) error
	GetByID(ctx context.Context, id string) (*models.Refund, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.Refund, error)
	GetByGatewayRef(ctx context.Context, ref string) (*models.Refund, error)
	ListByPayment(ctx context.Context, paymentID string) ([]models.Refund, error)
	ListByStatus(ctx context.Context, statuses []models.RefundStatus, olderThan time.Time, limit int) ([]models.Refund, error)
	SumByPayment(ctx context.Context, paymentID string, statuses []models.RefundStatus) (money.Amount, error)
	Update(ctx context.Context, refund *models.Refund) error
}

// SettlementRepository defines the interface for settlement persistence.
type SettlementRepository interface {
	Create(ctx context.Context, settlement *models.Settlement) error
	GetByID(ctx context.Context, id string) (*models.Settlement, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.Settlement, error)
	GetWithDetails(ctx context.Context, id string) (*models.Settlement, error)
	Update(ctx context.Context, settlement *models.Settlement) error
	ListByVendor(ctx context.Context, vendorID string, offset, limit int) ([]models.Settlement, error)
	LineItems(ctx context.Context, settlementID string) ([]models.SettlementLineItem, error)
	CountLineItemsForPayments(ctx context.Context, paymentIDs []string) (int64, error)
	AddNote(ctx context.Context, note *models.SettlementNote) error
}

// WebhookEventRepository defines the interface for webhook event persistence.
type WebhookEventRepository interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, linkedPaymentID, processingError string) error
	RecordFailure(ctx context.Context, id uint, linkedPaymentID, processingError string) error
	ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookEvent, error)
}

// PaymentFilter narrows admin payment listings.
type PaymentFilter struct {
	VendorID string
	BuyerID  string
	Status   models.PaymentStatus
	Offset   int
	Limit    int
}

// VendorCurrency is one vendor/currency pair with unsettled payments.
type VendorCurrency struct {
	VendorID string
	Currency string
}

// StatusTotal aggregates payments of one status and currency.
type StatusTotal struct {
	Status   models.PaymentStatus `json:"status"`
	Currency string               `json:"currency"`
	Count    int64                `json:"count"`
	Amount   money.Amount         `json:"amount"`
}

// Repositories struct holds all repository instances
type Repositories struct {
	Payment    PaymentRepository
	Refund     RefundRepository
	Settlement SettlementRepository
	Webhook    WebhookEventRepository

	tx transactor
}

// Transaction runs fn with repositories bound to a single database
// transaction. Deadlocks and lock wait timeouts are retried.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.tx.transaction(ctx, fn)
}
