package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

// Gateway event names.
const (
	TypePaymentCaptured = "payment.captured"
	TypePaymentFailed   = "payment.failed"
	TypeRefundCreated   = "refund.created"
	TypeRefundProcessed = "refund.processed"
	TypeRefundFailed    = "refund.failed"
)

// Event is one parsed gateway notification. The concrete types are
// PaymentCaptured, PaymentFailed, RefundCreated, RefundProcessed,
// RefundFailed and Unknown.
type Event interface {
	Type() string
	// EntityID identifies the gateway object the event is about.
	EntityID() string
}

type PaymentCaptured struct {
	OrderRef   string
	PaymentRef string
	Amount     money.Amount
}

type PaymentFailed struct {
	OrderRef    string
	PaymentRef  string
	Code        string
	Description string
}

// RefundEvent carries the refund fields shared by all refund notifications.
type RefundEvent struct {
	RefundRef  string
	PaymentRef string
	RefundID   string
	Amount     money.Amount
}

type RefundCreated struct{ RefundEvent }
type RefundProcessed struct{ RefundEvent }
type RefundFailed struct{ RefundEvent }

// Unknown is any event this service does not act on.
type Unknown struct {
	Name string
	ID   string
}

func (PaymentCaptured) Type() string { return TypePaymentCaptured }
func (PaymentFailed) Type() string   { return TypePaymentFailed }
func (RefundCreated) Type() string   { return TypeRefundCreated }
func (RefundProcessed) Type() string { return TypeRefundProcessed }
func (RefundFailed) Type() string    { return TypeRefundFailed }
func (u Unknown) Type() string       { return u.Name }

func (e PaymentCaptured) EntityID() string { return e.PaymentRef }
func (e PaymentFailed) EntityID() string   { return e.PaymentRef }
func (e RefundEvent) EntityID() string     { return e.RefundRef }
func (u Unknown) EntityID() string         { return u.ID }

// ErrMalformed is returned for bodies that are not a gateway event.
var ErrMalformed = errors.New("malformed webhook payload")

type envelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity refundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type refundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	// Notes is an object, or [] when empty.
	Notes json.RawMessage `json:"notes"`
}

func (r refundEntity) note(key string) string {
	var notes map[string]interface{}
	if err := json.Unmarshal(r.Notes, &notes); err != nil {
		return ""
	}
	if v, ok := notes[key].(string); ok {
		return v
	}
	return ""
}

// Parse decodes a gateway webhook body into an Event.
func Parse(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	}

	switch env.Event {
	case TypePaymentCaptured, TypePaymentFailed:
		if env.Payload.Payment == nil || env.Payload.Payment.Entity.ID == "" {
			return nil, fmt.Errorf("%w: %s without payment entity", ErrMalformed, env.Event)
		}
		p := env.Payload.Payment.Entity
		if env.Event == TypePaymentCaptured {
			return PaymentCaptured{OrderRef: p.OrderID, PaymentRef: p.ID, Amount: money.Amount(p.Amount)}, nil
		}
		return PaymentFailed{OrderRef: p.OrderID, PaymentRef: p.ID, Code: p.ErrorCode, Description: p.ErrorDescription}, nil

	case TypeRefundCreated, TypeRefundProcessed, TypeRefundFailed:
		if env.Payload.Refund == nil || env.Payload.Refund.Entity.ID == "" {
			return nil, fmt.Errorf("%w: %s without refund entity", ErrMalformed, env.Event)
		}
		r := env.Payload.Refund.Entity
		base := RefundEvent{RefundRef: r.ID, PaymentRef: r.PaymentID, RefundID: r.note("refund_id"), Amount: money.Amount(r.Amount)}
		switch env.Event {
		case TypeRefundCreated:
			return RefundCreated{base}, nil
		case TypeRefundProcessed:
			return RefundProcessed{base}, nil
		default:
			return RefundFailed{base}, nil
		}
	}

	u := Unknown{Name: env.Event}
	if env.Payload.Payment != nil {
		u.ID = env.Payload.Payment.Entity.ID
	} else if env.Payload.Refund != nil {
		u.ID = env.Payload.Refund.Entity.ID
	}
	return u, nil
}

// EventName extracts the event name from a body without validating it.
func EventName(body []byte) string {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(body, &head); err != nil || head.Event == "" {
		return "unknown"
	}
	if len(head.Event) > 100 {
		return head.Event[:100]
	}
	return head.Event
}
