package inventory

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrVariantNotFound     = errors.New("variant not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrReservationNotFound = errors.New("reservation not found")

	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrLedgerInvariant    = errors.New("ledger invariant violated")
	ErrVariantMismatch    = errors.New("reservation belongs to another variant")
	ErrInvalidTransition  = errors.New("invalid reservation transition")
	ErrReservationClosed  = errors.New("reservation is not active")
	ErrInvalidExtension   = errors.New("extension must be positive")
	ErrInvalidReleaseKind = errors.New("release target must be cancelled or expired")
)

// IsNotFound reports whether err is any of the lookup misses above.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrVariantNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}
