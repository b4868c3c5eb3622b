package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayFox/app/models"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *paymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetByOrderID returns the most recent payment attempt for an order.
func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) GetByGatewayOrderRef(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("gateway_order_ref = ?", ref).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) GetByGatewayPaymentRef(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("gateway_payment_ref = ?", ref).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Update persists every mutable column; amount is never written.
func (r *paymentRepository) Update(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).
		Model(payment).
		Select("gateway_order_ref", "gateway_payment_ref", "status", "error_code", "error_message", "completed_at", "failed_at", "updated_at").
		Updates(payment).Error
}

func (r *paymentRepository) List(ctx context.Context, filter PaymentFilter) ([]models.Payment, error) {
	query := r.db.WithContext(ctx).Model(&models.Payment{})
	if filter.VendorID != "" {
		query = query.Where("vendor_id = ?", filter.VendorID)
	}
	if filter.BuyerID != "" {
		query = query.Where("buyer_id = ?", filter.BuyerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var payments []models.Payment
	err := query.Order("created_at DESC").Offset(filter.Offset).Limit(limit).Find(&payments).Error
	return payments, err
}

// ListSettlementCandidatesForUpdate locks and returns the vendor's successful
// payments completed in [start, end) that no settlement line item references yet.
func (r *paymentRepository) ListSettlementCandidatesForUpdate(ctx context.Context, vendorID, currency string, start, end time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("vendor_id = ? AND currency = ? AND status = ?", vendorID, currency, models.PaymentStatusSuccess).
		Where("completed_at >= ? AND completed_at < ?", start, end).
		Where("NOT EXISTS (SELECT 1 FROM settlement_line_items li WHERE li.payment_id = payments.id)").
		Order("completed_at ASC, id ASC").
		Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) ListVendorsWithCandidates(ctx context.Context, start, end time.Time) ([]VendorCurrency, error) {
	var rows []VendorCurrency
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("vendor_id, currency").
		Where("status = ?", models.PaymentStatusSuccess).
		Where("completed_at >= ? AND completed_at < ?", start, end).
		Where("NOT EXISTS (SELECT 1 FROM settlement_line_items li WHERE li.payment_id = payments.id)").
		Group("vendor_id, currency").
		Order("vendor_id, currency").
		Scan(&rows).Error
	return rows, err
}

// StatusTotals counts payments and sums their amounts per status and currency.
// A zero since covers every payment.
func (r *paymentRepository) StatusTotals(ctx context.Context, since time.Time) ([]StatusTotal, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("status, currency, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount")
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}

	var rows []StatusTotal
	err := query.Group("status, currency").Order("status, currency").Scan(&rows).Error
	return rows, err
}
