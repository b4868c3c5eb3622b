package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

type SettlementStatus string

const (
	SettlementStatusPending    SettlementStatus = "pending"
	SettlementStatusProcessing SettlementStatus = "processing"
	SettlementStatusCompleted  SettlementStatus = "completed"
	SettlementStatusFailed     SettlementStatus = "failed"
)

// Settlement is one payout to a vendor for the payments completed in
// [PeriodStart, PeriodEnd). SettlementAmount always equals
// TotalAmount - CommissionAmount + AdjustmentAmount.
type Settlement struct {
	ID                   string           `gorm:"type:char(36);primaryKey" json:"id"`
	VendorID             string           `gorm:"type:varchar(64);not null;index" json:"vendor_id"`
	PeriodStart          time.Time        `gorm:"not null" json:"period_start"`
	PeriodEnd            time.Time        `gorm:"not null" json:"period_end"`
	Currency             string           `gorm:"type:varchar(3);not null" json:"currency"`
	TotalAmount          money.Amount     `gorm:"not null" json:"total_amount"`
	CommissionPercentage decimal.Decimal  `gorm:"type:decimal(7,4);not null" json:"commission_percentage"`
	CommissionAmount     money.Amount     `gorm:"not null" json:"commission_amount"`
	AdjustmentAmount     money.Amount     `gorm:"not null;default:0" json:"adjustment_amount"`
	AdjustmentReason     string           `gorm:"type:varchar(255)" json:"adjustment_reason,omitempty"`
	RoundingResidue      money.Amount     `gorm:"not null;default:0" json:"rounding_residue"`
	SettlementAmount     money.Amount     `gorm:"not null" json:"settlement_amount"`
	Status               SettlementStatus `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	BankReference        string           `gorm:"type:varchar(64)" json:"bank_reference,omitempty"`
	TransferMethod       string           `gorm:"type:varchar(32)" json:"transfer_method,omitempty"`
	FailureReason        string           `gorm:"type:text" json:"failure_reason,omitempty"`
	StatementKey         string           `gorm:"type:varchar(255)" json:"statement_key,omitempty"`
	ProcessedAt          *time.Time       `json:"processed_at,omitempty"`
	CreatedAt            time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"autoUpdateTime" json:"updated_at"`

	LineItems []SettlementLineItem `gorm:"foreignKey:SettlementID" json:"line_items,omitempty"`
	Notes     []SettlementNote     `gorm:"foreignKey:SettlementID" json:"notes,omitempty"`
}

func (s *Settlement) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = SettlementStatusPending
	}
	return nil
}

// IsBalanced checks the money conservation invariant.
func (s *Settlement) IsBalanced() bool {
	return s.SettlementAmount == s.TotalAmount-s.CommissionAmount+s.AdjustmentAmount
}

// SettlementLineItem ties one payment to one settlement. PaymentID is unique
// across all line items so a payment is never paid out twice.
type SettlementLineItem struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	SettlementID     string       `gorm:"type:char(36);not null;index" json:"settlement_id"`
	PaymentID        string       `gorm:"type:char(36);not null;uniqueIndex" json:"payment_id"`
	OrderID          string       `gorm:"type:varchar(64);not null" json:"order_id"`
	OrderAmount      money.Amount `gorm:"not null" json:"order_amount"`
	CommissionAmount money.Amount `gorm:"not null" json:"commission_amount"`
	SettlementAmount money.Amount `gorm:"not null" json:"settlement_amount"`
	OrderDate        time.Time    `json:"order_date"`
	PaymentDate      time.Time    `json:"payment_date"`
	CreatedAt        time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

// SettlementNote is free text appended by operators; the only change allowed
// once a settlement is completed.
type SettlementNote struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SettlementID string    `gorm:"type:char(36);not null;index" json:"settlement_id"`
	Author       string    `gorm:"type:varchar(100)" json:"author"`
	Body         string    `gorm:"type:text;not null" json:"body"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
