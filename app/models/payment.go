package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusSuccess           PaymentStatus = "success"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

type PaymentMethod string

const (
	PaymentMethodOnline PaymentMethod = "online"
	PaymentMethodCOD    PaymentMethod = "cod"
)

// Error codes stored on failed payments.
const (
	PaymentErrorInvalidSignature = "INVALID_SIGNATURE"
	PaymentErrorGateway          = "GATEWAY_ERROR"
)

// Payment is the authoritative record of a buyer paying a vendor for one order.
// Amount never changes after creation and Status only moves forward.
type Payment struct {
	ID                string        `gorm:"type:char(36);primaryKey" json:"id"`
	OrderID           string        `gorm:"type:varchar(64);not null;index" json:"order_id" validate:"required,max=64"`
	BuyerID           string        `gorm:"type:varchar(64);not null;index" json:"buyer_id" validate:"required,max=64"`
	VendorID          string        `gorm:"type:varchar(64);not null;index:idx_payments_vendor_status,priority:1" json:"vendor_id" validate:"required,max=64"`
	Amount            money.Amount  `gorm:"not null" json:"amount" validate:"gt=0"`
	Currency          string        `gorm:"type:varchar(3);not null" json:"currency" validate:"required,len=3"`
	Method            PaymentMethod `gorm:"type:varchar(16);not null" json:"method" validate:"oneof=online cod"`
	GatewayOrderRef   string        `gorm:"type:varchar(64);index" json:"gateway_order_ref,omitempty"`
	GatewayPaymentRef *string       `gorm:"type:varchar(64);uniqueIndex" json:"gateway_payment_ref,omitempty"`
	Status            PaymentStatus `gorm:"type:varchar(32);not null;default:'pending';index:idx_payments_vendor_status,priority:2" json:"status"`
	ErrorCode         string        `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	ErrorMessage      string        `gorm:"type:text" json:"error_message,omitempty"`
	CompletedAt       *time.Time    `gorm:"index" json:"completed_at,omitempty"`
	FailedAt          *time.Time    `json:"failed_at,omitempty"`
	CreatedAt         time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PaymentStatusPending
	}
	return nil
}

func (p *Payment) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// PaymentRef returns the gateway payment reference or "".
func (p *Payment) PaymentRef() string {
	if p.GatewayPaymentRef == nil {
		return ""
	}
	return *p.GatewayPaymentRef
}

// IsRefundable reports whether refunds may be issued against the payment.
func (p *Payment) IsRefundable() bool {
	return p.Status == PaymentStatusSuccess || p.Status == PaymentStatusPartiallyRefunded
}

// IsTerminal reports whether no further transition is possible.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusFailed || p.Status == PaymentStatusRefunded
}
