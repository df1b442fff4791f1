package orders_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ariefcatur/marketplace-checkout/internal/apperr"
	"github.com/ariefcatur/marketplace-checkout/internal/cart"
	"github.com/ariefcatur/marketplace-checkout/internal/events"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	"github.com/ariefcatur/marketplace-checkout/internal/memstore"
	"github.com/ariefcatur/marketplace-checkout/internal/orders"
	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type countingTx struct {
	inner store.Transactor
	calls atomic.Int32
}

func (c *countingTx) RunInTx(ctx context.Context, iso store.IsoLevel, fn func(ctx context.Context) error) error {
	c.calls.Add(1)
	return c.inner.RunInTx(ctx, iso, fn)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	envs   []events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.envs = append(p.envs, env)
	return nil
}

type fixture struct {
	mem  *memstore.Store
	tx   *countingTx
	pub  *recordingPublisher
	svc  *orders.Service
	logs *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memstore.New()
	core, logs := observer.New(zapcore.InfoLevel)
	f := &fixture{
		mem:  mem,
		tx:   &countingTx{inner: mem},
		pub:  &recordingPublisher{},
		logs: logs,
	}
	f.svc = &orders.Service{
		Tx:           f.tx,
		Users:        mem.Users(),
		Carts:        mem.Carts(),
		Variants:     mem.Variants(),
		Reservations: mem.Reservations(),
		Orders:       mem.Orders(),
		Events:       f.pub,
		ServiceName:  "checkout-test",
		Log:          zap.New(core),
		Now:          func() time.Time { return fixedNow },
	}
	mem.AddProduct(inventory.Product{ID: "p-1", StoreID: "s-1", Name: "Linen Shirt"})
	return f
}

func (f *fixture) variant(t *testing.T, id, sku string, stock, reserved int) {
	t.Helper()
	f.mem.AddVariant(inventory.Variant{
		ID: id, ProductID: "p-1", SKU: sku, PriceCents: 2500,
		Attributes:    map[string]string{"size": "M"},
		StockQuantity: stock, ReservedQuantity: reserved,
	})
}

func (f *fixture) cartFor(t *testing.T, userID string, items ...cart.Item) string {
	t.Helper()
	f.mem.AddUser(userID)
	c := &cart.Cart{ID: "cart-" + userID, UserID: userID, Items: items}
	require.NoError(t, f.mem.Carts().Create(context.Background(), c))
	return c.ID
}

func (f *fixture) ledger(t *testing.T, id string) *inventory.Variant {
	t.Helper()
	v, err := f.mem.Variants().GetByID(context.Background(), id)
	require.NoError(t, err)
	return v
}

func TestCreateOrder_DirectDeduction(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 10, 0)
	f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 3})

	res, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{
		UserID:         "u-1",
		DeliveryMethod: orders.DeliveryStandard,
		PaymentMethod:  orders.PaymentCard,
		Notes:          "leave at door",
	})
	require.NoError(t, err)

	assert.False(t, res.AlreadyExisted)
	assert.Equal(t, orders.MessageCreated, res.Message)
	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, 3, res.Order.Items[0].Quantity)
	assert.Equal(t, "Linen Shirt", res.Order.Items[0].ProductName)
	assert.Equal(t, int64(7500), res.Order.Items[0].SubtotalCents)
	assert.Equal(t, int64(7500), res.Order.TotalCents)
	assert.Equal(t, "leave at door", res.Order.Notes)
	assert.Regexp(t, `^ORD-20260301-[0-9A-F]{8}$`, res.Order.OrderNumber)

	v := f.ledger(t, "v-1")
	assert.Equal(t, 7, v.StockQuantity)
	assert.Equal(t, 0, v.ReservedQuantity)

	c, err := f.mem.Carts().GetByUserID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	require.Len(t, f.pub.topics, 1)
	assert.Equal(t, events.TopicOrderCreated, f.pub.topics[0])
	payload, err := events.Decode[events.OrderCreatedPayload](f.pub.envs[0])
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, payload.OrderID)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 1, 0)
	f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 5})

	_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
	require.Error(t, err)

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.Equal(t, apperr.CodeInsufficientStock, ae.Code)
	assert.Contains(t, ae.Message, "Insufficient stock")
	assert.Contains(t, ae.Message, "SHIRT-M")

	assert.Equal(t, 1, f.ledger(t, "v-1").StockQuantity)
	assert.Equal(t, 0, f.mem.Orders().Count())

	c, err := f.mem.Carts().GetByUserID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1, "failed checkout must not clear the cart")
}

func TestCreateOrder_ConvertsReservation(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-x", "SHIRT-L", 10, 2)
	cartID := f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-x", Quantity: 2})

	hold, err := inventory.NewReservation("v-x", 2, &cartID, 0, fixedNow.Add(-time.Minute), inventory.Diagnostics{})
	require.NoError(t, err)
	require.NoError(t, f.mem.Reservations().Insert(context.Background(), hold))

	res, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
	require.NoError(t, err)

	got, err := f.mem.Reservations().GetByID(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationConverted, got.Status)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, res.Order.ID, *got.OrderID)

	v := f.ledger(t, "v-x")
	assert.Equal(t, 0, v.ReservedQuantity)
	assert.Equal(t, 8, v.StockQuantity)
}

func TestCreateOrder_MismatchedHoldIsReleasedThenDeducted(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-x", "SHIRT-L", 10, 2)
	cartID := f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-x", Quantity: 4})

	hold, err := inventory.NewReservation("v-x", 2, &cartID, 0, fixedNow, inventory.Diagnostics{})
	require.NoError(t, err)
	require.NoError(t, f.mem.Reservations().Insert(context.Background(), hold))

	_, err = f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
	require.NoError(t, err)

	got, err := f.mem.Reservations().GetByID(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationCancelled, got.Status)
	assert.Equal(t, "checkout quantity changed", got.CancellationReason)

	v := f.ledger(t, "v-x")
	assert.Equal(t, 0, v.ReservedQuantity)
	assert.Equal(t, 6, v.StockQuantity)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 10, 0)
	f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 3})

	in := orders.CreateOrderInput{UserID: "u-1", IdempotencyKey: "idem-123"}
	first, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, int32(1), f.tx.calls.Load())

	second, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, second.AlreadyExisted)
	assert.Equal(t, orders.MessageAlreadyExists, second.Message)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, "idem-123", second.Order.IdempotencyKey)
	assert.Equal(t, int32(1), f.tx.calls.Load(), "replay must not open a transaction")
	assert.Equal(t, 7, f.ledger(t, "v-1").StockQuantity)
	assert.Equal(t, 1, f.mem.Orders().Count())
}

type memCache struct {
	mu     sync.Mutex
	ids    map[string]string
	status map[string]string
}

func (c *memCache) LookupOrder(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[key]
	return id, ok, nil
}

func (c *memCache) RememberOrder(_ context.Context, key, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[key] = id
	return nil
}

func (c *memCache) CacheStatus(_ context.Context, id, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[id] = status
	return nil
}

func TestCreateOrder_CachesKeyAfterCommit(t *testing.T) {
	f := newFixture(t)
	cache := &memCache{ids: map[string]string{}, status: map[string]string{}}
	f.svc.Cache = cache
	f.variant(t, "v-1", "SHIRT-M", 10, 0)
	f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 1})

	res, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1", IdempotencyKey: "k-1"})
	require.NoError(t, err)

	assert.Equal(t, res.Order.ID, cache.ids["k-1"])
	assert.Equal(t, string(orders.StatusPending), cache.status[res.Order.ID])

	again, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1", IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.True(t, again.AlreadyExisted)
}

func TestCreateOrder_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	const stock, buyers = 5, 20
	f.variant(t, "v-hot", "HOT-1", stock, 0)
	for i := 0; i < buyers; i++ {
		f.cartFor(t, fmt.Sprintf("u-%d", i), cart.Item{ProductID: "p-1", VariantID: "v-hot", Quantity: 1})
	}

	var ok, short atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: fmt.Sprintf("u-%d", i)})
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.KindOf(err) == apperr.KindValidation:
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(stock), ok.Load())
	assert.Equal(t, int32(buyers-stock), short.Load())
	v := f.ledger(t, "v-hot")
	assert.Equal(t, 0, v.StockQuantity)
	require.NoError(t, v.CheckInvariant())
	assert.Equal(t, stock, f.mem.Orders().Count())
}

func TestCreateOrder_ConcurrentSameKeyCreatesOnce(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 100, 0)
	f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 2})

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1", IdempotencyKey: "same"})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			ids[i] = res.Order.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.mem.Orders().Count())
	assert.Equal(t, 98, f.ledger(t, "v-1").StockQuantity)
}

// barrierCarts holds the first parties cart reads until all of them have
// read, so every checkout starts from the same full cart.
type barrierCarts struct {
	cart.Repository
	parties int32
	arrived atomic.Int32
	release chan struct{}
}

func (b *barrierCarts) GetByUserIDWithDetails(ctx context.Context, userID string) (*cart.Detailed, error) {
	d, err := b.Repository.GetByUserIDWithDetails(ctx, userID)
	if n := b.arrived.Add(1); n == b.parties {
		close(b.release)
	} else if n < b.parties {
		<-b.release
	}
	return d, err
}

func TestCreateOrder_ConcurrentCheckoutsOfOneCartCreateOnce(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 10, 0)
	f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 3})
	f.svc.Carts = &barrierCarts{Repository: f.mem.Carts(), parties: 2, release: make(chan struct{})}

	keys := []string{"k-a", "k-b"}
	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1", IdempotencyKey: key})
		}(i, key)
	}
	wg.Wait()

	var created, empty int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case apperr.HasCode(err, apperr.CodeCartEmpty):
			empty++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, empty)
	assert.Equal(t, 1, f.mem.Orders().Count())
	assert.Equal(t, 7, f.ledger(t, "v-1").StockQuantity)
}

type editAfterRead struct {
	cart.Repository
	once sync.Once
	edit func()
}

func (e *editAfterRead) GetByUserIDWithDetails(ctx context.Context, userID string) (*cart.Detailed, error) {
	d, err := e.Repository.GetByUserIDWithDetails(ctx, userID)
	e.once.Do(e.edit)
	return d, err
}

func TestCreateOrder_UsesCartAsLockedInTransaction(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 10, 0)
	cartID := f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 1})
	f.svc.Carts = &editAfterRead{Repository: f.mem.Carts(), edit: func() {
		edited := &cart.Cart{ID: cartID, UserID: "u-1", Items: []cart.Item{{ProductID: "p-1", VariantID: "v-1", Quantity: 4}}}
		require.NoError(t, f.mem.Carts().Save(context.Background(), edited))
	}}

	res, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
	require.NoError(t, err)

	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, 4, res.Order.Items[0].Quantity)
	assert.Equal(t, 6, f.ledger(t, "v-1").StockQuantity)
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("lines revalidated").Len())
}

func TestCreateOrder_CancelsHoldsOfLinesNoLongerInCart(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 5, 2)
	f.variant(t, "v-2", "SHIRT-L", 5, 1)
	cartID := f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-2", Quantity: 1})

	stale, err := inventory.NewReservation("v-1", 2, &cartID, 0, fixedNow, inventory.Diagnostics{})
	require.NoError(t, err)
	require.NoError(t, f.mem.Reservations().Insert(context.Background(), stale))
	kept, err := inventory.NewReservation("v-2", 1, &cartID, 0, fixedNow, inventory.Diagnostics{})
	require.NoError(t, err)
	require.NoError(t, f.mem.Reservations().Insert(context.Background(), kept))

	res, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
	require.NoError(t, err)
	require.Len(t, res.Order.Items, 1)

	got, err := f.mem.Reservations().GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationCancelled, got.Status)
	assert.Equal(t, "cart checked out", got.CancellationReason)

	got, err = f.mem.Reservations().GetByID(context.Background(), kept.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationConverted, got.Status)

	v1 := f.ledger(t, "v-1")
	assert.Equal(t, 5, v1.StockQuantity)
	assert.Equal(t, 0, v1.ReservedQuantity)
	v2 := f.ledger(t, "v-2")
	assert.Equal(t, 4, v2.StockQuantity)
	assert.Equal(t, 0, v2.ReservedQuantity)

	active, err := f.mem.Reservations().ActiveByCart(context.Background(), cartID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

type failingOrders struct {
	orders.Repository
	err error
}

func (f failingOrders) Insert(context.Context, *orders.Order) error { return f.err }

func TestCreateOrder_RollsBackOnPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 10, 2)
	cartID := f.cartFor(t, "u-1",
		cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 2},
	)
	hold, err := inventory.NewReservation("v-1", 2, &cartID, 0, fixedNow, inventory.Diagnostics{})
	require.NoError(t, err)
	require.NoError(t, f.mem.Reservations().Insert(context.Background(), hold))

	f.svc.Orders = failingOrders{Repository: f.mem.Orders(), err: errors.New("disk full")}

	_, err = f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInternal, ae.Kind)
	assert.Equal(t, apperr.GenericMessage, ae.Message)
	assert.NotContains(t, ae.Message, "disk full")

	v := f.ledger(t, "v-1")
	assert.Equal(t, 10, v.StockQuantity)
	assert.Equal(t, 2, v.ReservedQuantity)

	got, err := f.mem.Reservations().GetByID(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationActive, got.Status)

	c, err := f.mem.Carts().GetByUserID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)

	entries := f.logs.FilterMessageSnippet("checkout failed").All()
	require.NotEmpty(t, entries)
	assert.Contains(t, fmt.Sprint(entries[0].ContextMap()["error"]), "disk full")
}

func TestCreateOrder_PartialFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 10, 0)
	f.variant(t, "v-2", "SHIRT-L", 1, 0)
	f.cartFor(t, "u-1",
		cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 4},
		cart.Item{ProductID: "p-1", VariantID: "v-2", Quantity: 2},
	)

	_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInsufficientStock, mustAppErr(t, err).Code)

	assert.Equal(t, 10, f.ledger(t, "v-1").StockQuantity, "first line must be rolled back")
	assert.Equal(t, 1, f.ledger(t, "v-2").StockQuantity)
}

type cancelOnInsert struct {
	orders.Repository
	cancel context.CancelFunc
}

func (c cancelOnInsert) Insert(ctx context.Context, o *orders.Order) error {
	if err := c.Repository.Insert(ctx, o); err != nil {
		return err
	}
	c.cancel()
	return nil
}

func TestCreateOrder_CancelledMidTransaction(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 10, 0)
	f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.Orders = cancelOnInsert{Repository: f.mem.Orders(), cancel: cancel}

	_, err := f.svc.CreateOrder(ctx, orders.CreateOrderInput{UserID: "u-1"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 10, f.ledger(t, "v-1").StockQuantity)
	assert.Equal(t, 0, f.mem.Orders().Count())
	assert.Empty(t, f.pub.topics)
}

func TestCreateOrder_Preconditions(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "ghost"})
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
		assert.Equal(t, apperr.CodeUserNotFound, mustAppErr(t, err).Code)
	})

	t.Run("no cart", func(t *testing.T) {
		f := newFixture(t)
		f.mem.AddUser("u-1")
		_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
		assert.Equal(t, apperr.CodeCartEmpty, mustAppErr(t, err).Code)
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t)
		f.cartFor(t, "u-1")
		_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
		assert.Equal(t, apperr.CodeCartEmpty, mustAppErr(t, err).Code)
		assert.Equal(t, int32(0), f.tx.calls.Load())
	})

	t.Run("deleted variant", func(t *testing.T) {
		f := newFixture(t)
		f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-gone", Quantity: 1})
		_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
		ae := mustAppErr(t, err)
		assert.Equal(t, apperr.KindNotFound, ae.Kind)
		assert.Contains(t, ae.Message, "v-gone")
	})

	t.Run("orphaned variant", func(t *testing.T) {
		f := newFixture(t)
		f.variant(t, "v-1", "SHIRT-M", 10, 0)
		f.mem.RemoveProduct("p-1")
		f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 1})
		_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
		ae := mustAppErr(t, err)
		assert.Equal(t, apperr.KindIntegrity, ae.Kind)
		assert.Equal(t, apperr.CodeProductNotFound, ae.Code)
		assert.Equal(t, 1, f.logs.FilterMessageSnippet("integrity fault").Len())
	})

	t.Run("bad payment method", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1", PaymentMethod: "barter"})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})
}

func TestCreateOrder_DuplicateActiveHoldsIsIntegrityFault(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 10, 2)
	cartID := f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 1})
	for i := 0; i < 2; i++ {
		hold, err := inventory.NewReservation("v-1", 1, &cartID, 0, fixedNow, inventory.Diagnostics{})
		require.NoError(t, err)
		require.NoError(t, f.mem.Reservations().Insert(context.Background(), hold))
	}

	_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
	ae := mustAppErr(t, err)
	assert.Equal(t, apperr.KindIntegrity, ae.Kind)
	assert.Equal(t, apperr.CodeDuplicateHold, ae.Code)
	assert.Equal(t, 10, f.ledger(t, "v-1").StockQuantity)
	assert.Equal(t, 2, f.ledger(t, "v-1").ReservedQuantity)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	f.variant(t, "v-1", "SHIRT-M", 10, 0)
	f.cartFor(t, "u-1", cart.Item{ProductID: "p-1", VariantID: "v-1", Quantity: 1})
	res, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "u-1"})
	require.NoError(t, err)

	got, err := f.svc.GetOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.OrderNumber, got.OrderNumber)

	_, err = f.svc.GetOrder(context.Background(), "missing")
	assert.Equal(t, apperr.CodeOrderNotFound, mustAppErr(t, err).Code)
}

func mustAppErr(t *testing.T, err error) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %T: %v", err, err)
	return ae
}
