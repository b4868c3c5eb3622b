package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

// Refund returns part or all of a successful payment to the buyer.
type Refund struct {
	ID               string       `gorm:"type:char(36);primaryKey" json:"id"`
	PaymentID        string       `gorm:"type:char(36);not null;index" json:"payment_id"`
	Amount           money.Amount `gorm:"not null" json:"amount"`
	Reason           string       `gorm:"type:varchar(255)" json:"reason"`
	Status           RefundStatus `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	GatewayRefundRef *string      `gorm:"type:varchar(64);uniqueIndex" json:"gateway_refund_ref,omitempty"`
	ErrorMessage     string       `gorm:"type:text" json:"error_message,omitempty"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	CreatedAt        time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *Refund) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RefundStatusPending
	}
	return nil
}

// RefundRef returns the gateway refund reference or "".
func (r *Refund) RefundRef() string {
	if r.GatewayRefundRef == nil {
		return ""
	}
	return *r.GatewayRefundRef
}

// IsFinal reports whether the refund reached completed or failed.
func (r *Refund) IsFinal() bool {
	return r.Status == RefundStatusCompleted || r.Status == RefundStatusFailed
}

// ReservedStatuses are the refund statuses that count against the refundable balance.
var ReservedStatuses = []RefundStatus{RefundStatusPending, RefundStatusProcessing, RefundStatusCompleted}
