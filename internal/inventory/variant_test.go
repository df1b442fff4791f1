package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newVariant(stock, reserved int) *Variant {
	return &Variant{ID: "var-1", ProductID: "prod-1", SKU: "TEE-RED-M", PriceCents: 1999,
		StockQuantity: stock, ReservedQuantity: reserved}
}

func activeHold(t *testing.T, v *Variant, qty int) *Reservation {
	t.Helper()
	cart := "cart-1"
	r, err := NewReservation(v.ID, qty, &cart, 0, t0, Diagnostics{})
	require.NoError(t, err)
	require.NoError(t, v.Reserve(qty))
	return r
}

func TestReserve(t *testing.T) {
	v := newVariant(5, 2)

	require.NoError(t, v.Reserve(3))
	assert.Equal(t, 5, v.ReservedQuantity)
	assert.Equal(t, 0, v.Available())

	err := v.Reserve(1)
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 1, ise.Requested)
	assert.Equal(t, 0, ise.Available)
	assert.Equal(t, 5, v.ReservedQuantity)

	assert.ErrorIs(t, v.Reserve(0), ErrInvalidQuantity)
	assert.ErrorIs(t, v.Reserve(-2), ErrInvalidQuantity)
}

func TestDeductStockRespectsOtherHolds(t *testing.T) {
	v := newVariant(10, 8)

	err := v.DeductStock(3)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "TEE-RED-M")
	assert.Contains(t, err.Error(), "requested 3, available 2")
	assert.Equal(t, 10, v.StockQuantity)

	require.NoError(t, v.DeductStock(2))
	assert.Equal(t, 8, v.StockQuantity)
	assert.Equal(t, 8, v.ReservedQuantity)
	assert.NoError(t, v.CheckInvariant())
}

func TestConvertReservation(t *testing.T) {
	v := newVariant(10, 0)
	r := activeHold(t, v, 4)

	require.NoError(t, v.ConvertReservation(r, "order-9", t0.Add(time.Minute)))

	assert.Equal(t, 6, v.StockQuantity)
	assert.Equal(t, 0, v.ReservedQuantity)
	assert.Equal(t, ReservationConverted, r.Status)
	require.NotNil(t, r.OrderID)
	assert.Equal(t, "order-9", *r.OrderID)
	require.NotNil(t, r.ClosedAt)

	err := v.ConvertReservation(r, "order-10", t0)
	assert.ErrorIs(t, err, ErrReservationClosed)
	assert.Equal(t, 6, v.StockQuantity)
}

func TestReleaseReservationIsIdempotent(t *testing.T) {
	v := newVariant(10, 0)
	r := activeHold(t, v, 3)

	released, err := v.ReleaseReservation(r, ReservationCancelled, "cart cleared", t0)
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, 0, v.ReservedQuantity)
	assert.Equal(t, "cart cleared", r.CancellationReason)

	released, err = v.ReleaseReservation(r, ReservationExpired, "", t0)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, 0, v.ReservedQuantity)
	assert.Equal(t, ReservationCancelled, r.Status)
}

func TestReleaseReservationRejectsBadInput(t *testing.T) {
	v := newVariant(10, 0)
	r := activeHold(t, v, 2)

	_, err := v.ReleaseReservation(r, ReservationConverted, "", t0)
	assert.ErrorIs(t, err, ErrInvalidReleaseKind)

	other := newVariant(10, 0)
	other.ID = "var-2"
	_, err = other.ReleaseReservation(r, ReservationExpired, "", t0)
	assert.ErrorIs(t, err, ErrVariantMismatch)

	v.ReservedQuantity = 1
	_, err = v.ReleaseReservation(r, ReservationExpired, "", t0)
	assert.ErrorIs(t, err, ErrLedgerInvariant)
	assert.Equal(t, ReservationActive, r.Status)
}

func TestInvariantHoldsAcrossOperations(t *testing.T) {
	v := newVariant(6, 0)
	ops := []func() error{
		func() error { return v.Reserve(2) },
		func() error { return v.DeductStock(3) },
		func() error { return v.Reserve(2) },
		func() error { return v.DeductStock(1) },
		func() error { return v.Reserve(1) },
	}
	for i, op := range ops {
		err := op()
		if err != nil && !errors.Is(err, ErrInsufficientStock) {
			t.Fatalf("op %d: unexpected error %v", i, err)
		}
		require.NoError(t, v.CheckInvariant(), "after op %d", i)
	}
	assert.Equal(t, 0, v.Available())
}

func TestCheckInvariant(t *testing.T) {
	assert.NoError(t, newVariant(1, 1).CheckInvariant())
	assert.ErrorIs(t, newVariant(1, 2).CheckInvariant(), ErrLedgerInvariant)
	assert.ErrorIs(t, newVariant(1, -1).CheckInvariant(), ErrLedgerInvariant)
}
