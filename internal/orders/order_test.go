package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTotals(t *testing.T) {
	o := NewOrder("u-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, o.AddItem(Item{VariantID: "v-1", UnitPriceCents: 1000, Quantity: 2}))
	require.NoError(t, o.AddItem(Item{VariantID: "v-2", UnitPriceCents: 250, Quantity: 1}))
	assert.Equal(t, int64(2250), o.TotalCents)

	require.NoError(t, o.SetShipping(500))
	assert.Equal(t, int64(2750), o.TotalCents)

	require.NoError(t, o.ApplyDiscount(5000))
	assert.Equal(t, int64(0), o.TotalCents, "total never goes negative")
	assert.Equal(t, int64(2250), o.SubtotalCents())

	for _, it := range o.Items {
		assert.NotEmpty(t, it.ID)
	}
}

func TestOrderLockedAfterPending(t *testing.T) {
	o := NewOrder("u-1", time.Now())
	require.NoError(t, o.Transition(StatusConfirmed, time.Now()))

	assert.ErrorIs(t, o.AddItem(Item{Quantity: 1}), ErrOrderLocked)
	assert.ErrorIs(t, o.SetShipping(1), ErrOrderLocked)
	assert.ErrorIs(t, o.ApplyDiscount(1), ErrOrderLocked)
}

func TestOrderNumberFormat(t *testing.T) {
	n := GenerateOrderNumber(time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC))
	assert.Regexp(t, `^ORD-20261014-[0-9A-F]{8}$`, n)
	assert.NotEqual(t, n, GenerateOrderNumber(time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC)))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusProcessing, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusProcessing, StatusCancelled, false},
		{StatusDelivered, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusPending, StatusShipped, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPaymentAndDeliveryMethods(t *testing.T) {
	assert.True(t, PaymentWallet.Valid())
	assert.False(t, PaymentMethod("barter").Valid())
	assert.True(t, DeliveryPickup.Valid())
	assert.False(t, DeliveryMethod("drone").Valid())
}
