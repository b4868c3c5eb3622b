package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayFox/app/models"
)

// settlementRepository implements the SettlementRepository interface
type settlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository creates a new settlement repository instance
func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

// Create inserts the settlement together with its line items.
func (r *settlementRepository) Create(ctx context.Context, settlement *models.Settlement) error {
	return r.db.WithContext(ctx).Create(settlement).Error
}

func (r *settlementRepository) GetByID(ctx context.Context, id string) (*models.Settlement, error) {
	var settlement models.Settlement
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&settlement).Error; err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *settlementRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Settlement, error) {
	var settlement models.Settlement
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&settlement).Error
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *settlementRepository) GetWithDetails(ctx context.Context, id string) (*models.Settlement, error) {
	var settlement models.Settlement
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("payment_date ASC, id ASC") }).
		Preload("Notes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		First(&settlement).Error
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

// Update writes the processing columns only; totals are immutable.
func (r *settlementRepository) Update(ctx context.Context, settlement *models.Settlement) error {
	return r.db.WithContext(ctx).
		Model(settlement).
		Select("status", "bank_reference", "transfer_method", "failure_reason", "statement_key", "processed_at", "updated_at").
		Updates(settlement).Error
}

func (r *settlementRepository) ListByVendor(ctx context.Context, vendorID string, offset, limit int) ([]models.Settlement, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var settlements []models.Settlement
	err := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		Order("period_start DESC, created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&settlements).Error
	return settlements, err
}

func (r *settlementRepository) LineItems(ctx context.Context, settlementID string) ([]models.SettlementLineItem, error) {
	var items []models.SettlementLineItem
	err := r.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("payment_date ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (r *settlementRepository) CountLineItemsForPayments(ctx context.Context, paymentIDs []string) (int64, error) {
	if len(paymentIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SettlementLineItem{}).
		Where("payment_id IN ?", paymentIDs).
		Count(&count).Error
	return count, err
}

func (r *settlementRepository) AddNote(ctx context.Context, note *models.SettlementNote) error {
	return r.db.WithContext(ctx).Create(note).Error
}
