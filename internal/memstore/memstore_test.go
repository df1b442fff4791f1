package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/marketplace-checkout/internal/cart"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	"github.com/ariefcatur/marketplace-checkout/internal/orders"
	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.AddProduct(inventory.Product{ID: "p-1", Name: "Lamp"})
	s.AddVariant(inventory.Variant{ID: "v-1", ProductID: "p-1", SKU: "LAMP", StockQuantity: 3})
	return s
}

func TestRunInTxRollsBack(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, store.RepeatableRead, func(ctx context.Context) error {
		v, err := s.Variants().GetByID(ctx, "v-1")
		require.NoError(t, err)
		v.StockQuantity = 0
		require.NoError(t, s.Variants().Save(ctx, v))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := s.Variants().GetByID(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, 3, v.StockQuantity)
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.RunInTx(ctx, store.ReadCommitted, func(ctx context.Context) error {
			v, _ := s.Variants().GetByID(ctx, "v-1")
			v.StockQuantity = 99
			_ = s.Variants().Save(ctx, v)
			panic("bug")
		})
	})

	v, err := s.Variants().GetByID(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, 3, v.StockQuantity)
}

func TestNestedTxJoinsAmbient(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, store.Serializable, func(ctx context.Context) error {
		return s.RunInTx(ctx, store.RepeatableRead, func(ctx context.Context) error {
			v, err := s.Variants().GetByID(ctx, "v-1")
			if err != nil {
				return err
			}
			v.StockQuantity = 1
			return s.Variants().Save(ctx, v)
		})
	})
	require.NoError(t, err)

	v, err := s.Variants().GetByID(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, 1, v.StockQuantity)
}

func TestNestedTxRejectsStrongerIsolation(t *testing.T) {
	s := seeded(t)
	err := s.RunInTx(context.Background(), store.ReadCommitted, func(ctx context.Context) error {
		return s.RunInTx(ctx, store.Serializable, func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, store.ErrIsolationTooWeak)
}

func TestReadsAreCopies(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	v, err := s.Variants().GetByID(ctx, "v-1")
	require.NoError(t, err)
	v.StockQuantity = 0

	again, err := s.Variants().GetByID(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, 3, again.StockQuantity)
}

func TestOrderKeyUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := "k"

	a := orders.NewOrder("u", time.Now())
	a.IdempotencyKey = &key
	require.NoError(t, s.Orders().Insert(ctx, a))

	b := orders.NewOrder("u", time.Now())
	b.IdempotencyKey = &key
	assert.ErrorIs(t, s.Orders().Insert(ctx, b), orders.ErrDuplicateIdempotencyKey)

	got, err := s.Orders().GetByIdempotencyKey(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = s.Orders().GetByID(ctx, "nope")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestOneCartPerUser(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Carts().Create(ctx, &cart.Cart{ID: "c-1", UserID: "u-1"}))
	err := s.Carts().Create(ctx, &cart.Cart{ID: "c-2", UserID: "u-1"})
	assert.ErrorIs(t, err, cart.ErrCartExists)

	c, err := s.Carts().GetByUserIDForUpdate(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
}
