package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayFox/app/models"
)

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// CreateIfNotExists inserts the event unless gateway+type+key already exists.
// It reports whether a new row was created and returns the stored row.
func (r *webhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway"},
			{Name: "event_type"},
			{Name: "event_key"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("gateway = ? AND event_type = ? AND event_key = ?", event.Gateway, event.EventType, event.EventKey).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *webhookEventRepository) GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkProcessed closes the event; processingError is kept for inspection.
func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint, linkedPaymentID, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed":         true,
		"processed_at":      &now,
		"processing_error":  processingError,
		"linked_payment_id": linkedPaymentID,
		"attempts":          gorm.Expr("attempts + 1"),
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// RecordFailure keeps the event open for replay and stores the error.
func (r *webhookEventRepository) RecordFailure(ctx context.Context, id uint, linkedPaymentID, processingError string) error {
	updates := map[string]interface{}{
		"processed":         false,
		"processing_error":  processingError,
		"linked_payment_id": linkedPaymentID,
		"attempts":          gorm.Expr("attempts + 1"),
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// ListUnprocessed returns verified events awaiting (re)processing.
func (r *webhookEventRepository) ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("verified = ? AND processed = ? AND updated_at < ?", true, false, olderThan).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
