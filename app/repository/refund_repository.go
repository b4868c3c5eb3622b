package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

// refundRepository implements the RefundRepository interface
type refundRepository struct {
	db *gorm.DB
}

// NewRefundRepository creates a new refund repository instance
func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepository{db: db}
}

func (r *refundRepository) Create(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *refundRepository) GetByID(ctx context.Context, id string) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *refundRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *refundRepository) GetByGatewayRef(ctx context.Context, ref string) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).Where("gateway_refund_ref = ?", ref).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *refundRepository) ListByPayment(ctx context.Context, paymentID string) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&refunds).Error
	return refunds, err
}

// ListByStatus returns refunds in the given statuses last touched before olderThan.
func (r *refundRepository) ListByStatus(ctx context.Context, statuses []models.RefundStatus, olderThan time.Time, limit int) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&refunds).Error
	return refunds, err
}

func (r *refundRepository) SumByPayment(ctx context.Context, paymentID string, statuses []models.RefundStatus) (money.Amount, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("payment_id = ? AND status IN ?", paymentID, statuses).
		Scan(&total).Error
	return money.Amount(total), err
}

func (r *refundRepository) Update(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).
		Model(refund).
		Select("status", "gateway_refund_ref", "error_message", "completed_at", "updated_at").
		Updates(refund).Error
}
