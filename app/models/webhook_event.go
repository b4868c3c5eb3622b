package models

import "time"

// WebhookEvent stores gateway callbacks byte-for-byte with deduplication
// metadata for idempotent processing. Gateway+EventType+EventKey is unique.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Gateway         string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_key,unique,priority:1" json:"gateway"`
	EventType       string     `gorm:"type:varchar(100);not null;index:ux_webhook_events_key,unique,priority:2" json:"event_type"`
	EventKey        string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_key,unique,priority:3" json:"event_key"`
	RawPayload      string     `gorm:"type:longtext;not null" json:"raw_payload"`
	Signature       string     `gorm:"type:varchar(255)" json:"signature"`
	Verified        bool       `gorm:"default:false;index" json:"verified"`
	Processed       bool       `gorm:"default:false;index" json:"processed"`
	LinkedPaymentID string     `gorm:"type:char(36);index" json:"linked_payment_id,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error,omitempty"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
