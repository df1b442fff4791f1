package inventory

import (
	"fmt"
	"time"
)

type Product struct {
	ID      string
	StoreID string
	Name    string
}

// Variant is one purchasable configuration of a product and carries its
// stock ledger. ReservedQuantity is the sum of quantities of its active
// reservations.
type Variant struct {
	ID               string
	ProductID        string
	SKU              string
	Attributes       map[string]string
	PriceCents       int64
	StockQuantity    int
	ReservedQuantity int
	UpdatedAt        time.Time
}

// Available is what a new hold or direct sale may still take.
func (v *Variant) Available() int {
	return v.StockQuantity - v.ReservedQuantity
}

// CheckInvariant verifies 0 <= reserved <= stock.
func (v *Variant) CheckInvariant() error {
	if v.ReservedQuantity < 0 || v.StockQuantity < 0 || v.ReservedQuantity > v.StockQuantity {
		return fmt.Errorf("%w: variant %s stock=%d reserved=%d",
			ErrLedgerInvariant, v.ID, v.StockQuantity, v.ReservedQuantity)
	}
	return nil
}

// InsufficientStockError carries the numbers a caller needs to explain the failure.
type InsufficientStockError struct {
	VariantID string
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for SKU %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

func (v *Variant) ensureAvailable(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if v.Available() < quantity {
		return &InsufficientStockError{
			VariantID: v.ID,
			SKU:       v.SKU,
			Requested: quantity,
			Available: v.Available(),
		}
	}
	return nil
}

// Reserve holds quantity against the ledger.
func (v *Variant) Reserve(quantity int) error {
	if err := v.ensureAvailable(quantity); err != nil {
		return err
	}
	v.ReservedQuantity += quantity
	return nil
}

// DeductStock removes stock for a sale that has no reservation. It checks
// against available stock, so holds owned by other shoppers are respected.
func (v *Variant) DeductStock(quantity int) error {
	if err := v.ensureAvailable(quantity); err != nil {
		return err
	}
	v.StockQuantity -= quantity
	return nil
}

// ReleaseReservation returns an active reservation's quantity to the ledger
// and moves it to the terminal status to. A reservation that is already
// terminal is left alone and released is false.
func (v *Variant) ReleaseReservation(r *Reservation, to ReservationStatus, reason string, now time.Time) (released bool, err error) {
	if to != ReservationCancelled && to != ReservationExpired {
		return false, ErrInvalidReleaseKind
	}
	if r.VariantID != v.ID {
		return false, ErrVariantMismatch
	}
	if r.Status.IsTerminal() {
		return false, nil
	}
	if v.ReservedQuantity < r.Quantity {
		return false, fmt.Errorf("%w: releasing %d from reserved %d on variant %s",
			ErrLedgerInvariant, r.Quantity, v.ReservedQuantity, v.ID)
	}
	if err := r.transition(to, now); err != nil {
		return false, err
	}
	if to == ReservationCancelled {
		r.CancellationReason = reason
	}
	v.ReservedQuantity -= r.Quantity
	return true, nil
}

// ConvertReservation turns a hold into a permanent deduction for orderID.
// This is the only path that removes stock for a reservation-backed sale.
func (v *Variant) ConvertReservation(r *Reservation, orderID string, now time.Time) error {
	if r.VariantID != v.ID {
		return ErrVariantMismatch
	}
	if r.Status != ReservationActive {
		return fmt.Errorf("%w: %s is %s", ErrReservationClosed, r.ID, r.Status)
	}
	if v.ReservedQuantity < r.Quantity || v.StockQuantity < r.Quantity {
		return fmt.Errorf("%w: converting %d on variant %s stock=%d reserved=%d",
			ErrLedgerInvariant, r.Quantity, v.ID, v.StockQuantity, v.ReservedQuantity)
	}
	if err := r.transition(ReservationConverted, now); err != nil {
		return err
	}
	r.OrderID = &orderID
	v.ReservedQuantity -= r.Quantity
	v.StockQuantity -= r.Quantity
	return nil
}
