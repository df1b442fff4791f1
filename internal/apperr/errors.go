package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers. Messages vary, kinds do not.
type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindValidation Kind = "VALIDATION_ERROR"
	KindConflict   Kind = "CONFLICT"
	KindIntegrity  Kind = "INTEGRITY_FAULT"
	KindInternal   Kind = "INTERNAL_ERROR"
)

// Codes refine a kind for clients that branch on them.
const (
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeCartNotFound        = "CART_NOT_FOUND"
	CodeVariantNotFound     = "VARIANT_NOT_FOUND"
	CodeProductNotFound     = "PRODUCT_NOT_FOUND"
	CodeReservationNotFound = "RESERVATION_NOT_FOUND"
	CodeOrderNotFound       = "ORDER_NOT_FOUND"
	CodeCartEmpty           = "CART_EMPTY"
	CodeInvalidQuantity     = "INVALID_QUANTITY"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeInvalidState        = "INVALID_STATE"
	CodeDuplicateHold       = "DUPLICATE_RESERVATION"
	CodeInternal            = "INTERNAL"
)

// GenericMessage is the only text an Internal error shows to callers.
const GenericMessage = "An error occurred"

// Error is the error type returned across the core boundary.
type Error struct {
	Kind    Kind              `json:"kind"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap attaches the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// NotFound builds a not-found error for resource with the given id.
func NotFound(code, resource, id string) *Error {
	return New(KindNotFound, code, fmt.Sprintf("%s not found: %s", resource, id)).WithDetail("id", id)
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

// Integrity marks a data-integrity gap that should never happen under correct
// operation. It is always surfaced.
func Integrity(code, message string) *Error {
	return New(KindIntegrity, code, message)
}

// Internal hides err behind GenericMessage. The cause stays reachable through
// errors.Unwrap for server-side logging.
func Internal(err error) *Error {
	return New(KindInternal, CodeInternal, GenericMessage).Wrap(err)
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf reports the kind of err. Errors outside the taxonomy are Internal.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// HasCode reports whether err is an *Error carrying code.
func HasCode(err error, code string) bool {
	ae, ok := As(err)
	return ok && ae.Code == code
}

// HTTPStatus maps an error to a response status.
func HTTPStatus(err error) int {
	ae, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		if ae.Code == CodeInsufficientStock {
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
