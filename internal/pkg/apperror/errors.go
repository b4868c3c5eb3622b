package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error. Handlers map kinds to HTTP statuses,
// background workers use them to decide whether a failure is retryable.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindInvalidSignature  Kind = "invalid_signature"
	KindInvalidTransition Kind = "invalid_transition"
	KindNotFound          Kind = "not_found"
	KindNoPaymentsFound   Kind = "no_payments_found"
	KindGateway           Kind = "gateway_error"
	KindPersistence       Kind = "persistence_error"
)

// Stable codes returned to API callers.
const (
	CodeInvalidInput         = "INVALID_INPUT"
	CodeInvalidOrder         = "INVALID_ORDER"
	CodeInvalidSignature     = "INVALID_SIGNATURE"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeInvalidPaymentStatus = "INVALID_PAYMENT_STATUS"
	CodeInvalidRefundAmount  = "INVALID_REFUND_AMOUNT"
	CodeNotFound             = "NOT_FOUND"
	CodeNoPaymentsFound      = "NO_PAYMENTS_FOUND"
	CodeGatewayError         = "GATEWAY_ERROR"
	CodePersistenceError     = "PERSISTENCE_ERROR"
)

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements the unwrap interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with a
// non-empty Code must match the code as well.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New creates a new Error
func New(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInvalidSignature  = &Error{Kind: KindInvalidSignature}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrNoPaymentsFound   = &Error{Kind: KindNoPaymentsFound}
	ErrGateway           = &Error{Kind: KindGateway}
	ErrPersistence       = &Error{Kind: KindPersistence}
)

func Validation(code, message string) *Error {
	if code == "" {
		code = CodeInvalidInput
	}
	return New(KindValidation, code, message, nil)
}

func InvalidSignature(message string) *Error {
	return New(KindInvalidSignature, CodeInvalidSignature, message, nil)
}

func InvalidTransition(from, to string) *Error {
	return New(KindInvalidTransition, CodeInvalidTransition,
		fmt.Sprintf("transition from %q to %q is not allowed", from, to), nil)
}

func NotFound(entity string, err error) *Error {
	return New(KindNotFound, CodeNotFound, entity+" not found", err)
}

func NoPaymentsFound(message string) *Error {
	return New(KindNoPaymentsFound, CodeNoPaymentsFound, message, nil)
}

func Gateway(message string, err error) *Error {
	return New(KindGateway, CodeGatewayError, message, err)
}

func Persistence(message string, err error) *Error {
	return New(KindPersistence, CodePersistenceError, message, err)
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries no *Error.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}

// IsRetryable reports whether the failure is transient (gateway or storage).
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindGateway, KindPersistence:
		return true
	case "":
		// Unclassified errors come from infrastructure, treat them as transient.
		return err != nil
	default:
		return false
	}
}

// HTTPStatus maps an error to the response status used by the API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidSignature:
		return http.StatusUnauthorized
	case KindInvalidTransition:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindNoPaymentsFound:
		return http.StatusUnprocessableEntity
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
