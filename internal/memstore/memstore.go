// Package memstore is an in-process implementation of every repository and
// of store.Transactor. Transactions are serialized behind one mutex, which
// stands in for row locks, and rolled back by restoring a snapshot.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ariefcatur/marketplace-checkout/internal/cart"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	"github.com/ariefcatur/marketplace-checkout/internal/orders"
	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

type Store struct {
	mu sync.Mutex

	users        map[string]bool
	products     map[string]inventory.Product
	variants     map[string]inventory.Variant
	reservations map[string]inventory.Reservation
	carts        map[string]cart.Cart
	cartByUser   map[string]string
	orders       map[string]orders.Order
	orderByKey   map[string]string
}

func New() *Store {
	return &Store{
		users:        map[string]bool{},
		products:     map[string]inventory.Product{},
		variants:     map[string]inventory.Variant{},
		reservations: map[string]inventory.Reservation{},
		carts:        map[string]cart.Cart{},
		cartByUser:   map[string]string{},
		orders:       map[string]orders.Order{},
		orderByKey:   map[string]string{},
	}
}

type snapshot struct {
	users        map[string]bool
	products     map[string]inventory.Product
	variants     map[string]inventory.Variant
	reservations map[string]inventory.Reservation
	carts        map[string]cart.Cart
	cartByUser   map[string]string
	orders       map[string]orders.Order
	orderByKey   map[string]string
}

// Stored values are replaced whole on every write and cloned on every read,
// so copying the maps is enough to restore them.
func (s *Store) snapshot() snapshot {
	return snapshot{
		users:        copyMap(s.users),
		products:     copyMap(s.products),
		variants:     copyMap(s.variants),
		reservations: copyMap(s.reservations),
		carts:        copyMap(s.carts),
		cartByUser:   copyMap(s.cartByUser),
		orders:       copyMap(s.orders),
		orderByKey:   copyMap(s.orderByKey),
	}
}

func (s *Store) restore(sn snapshot) {
	s.users = sn.users
	s.products = sn.products
	s.variants = sn.variants
	s.reservations = sn.reservations
	s.carts = sn.carts
	s.cartByUser = sn.cartByUser
	s.orders = sn.orders
	s.orderByKey = sn.orderByKey
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type txKey struct{}

type tx struct {
	owner *Store
	iso   store.IsoLevel
}

func (s *Store) inTx(ctx context.Context) (*tx, bool) {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok || t.owner != s {
		return nil, false
	}
	return t, true
}

// lock takes the store mutex unless ctx is inside one of its transactions,
// which already holds it.
func (s *Store) lock(ctx context.Context) func() {
	if _, ok := s.inTx(ctx); ok {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx implements store.Transactor. Every level is honored trivially
// because transactions never overlap.
func (s *Store) RunInTx(ctx context.Context, iso store.IsoLevel, fn func(ctx context.Context) error) error {
	if t, ok := s.inTx(ctx); ok {
		if iso > t.iso {
			return fmt.Errorf("%w: have %s, want %s", store.ErrIsolationTooWeak, t.iso, iso)
		}
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sn := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(sn)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, &tx{owner: s, iso: iso})); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Repository accessors.

func (s *Store) Users() *UserRepo               { return &UserRepo{s} }
func (s *Store) Products() *ProductRepo         { return &ProductRepo{s} }
func (s *Store) Variants() *VariantRepo         { return &VariantRepo{s} }
func (s *Store) Reservations() *ReservationRepo { return &ReservationRepo{s} }
func (s *Store) Carts() *CartRepo               { return &CartRepo{s} }
func (s *Store) Orders() *OrderRepo             { return &OrderRepo{s} }

// Seeding, used by tests and the demo data of the memory driver.

func (s *Store) AddUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = true
}

func (s *Store) AddProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) AddVariant(v inventory.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = cloneVariant(v)
}

func (s *Store) RemoveVariant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.variants, id)
}

func (s *Store) RemoveProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

func cloneVariant(v inventory.Variant) inventory.Variant {
	if v.Attributes != nil {
		attrs := make(map[string]string, len(v.Attributes))
		for k, val := range v.Attributes {
			attrs[k] = val
		}
		v.Attributes = attrs
	}
	return v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneReservation(r inventory.Reservation) inventory.Reservation {
	r.CartID = cloneString(r.CartID)
	r.OrderID = cloneString(r.OrderID)
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		r.ClosedAt = &t
	}
	return r
}

func cloneCart(c cart.Cart) cart.Cart {
	c.Items = append([]cart.Item(nil), c.Items...)
	return c
}

func cloneOrder(o orders.Order) orders.Order {
	items := make([]orders.Item, len(o.Items))
	for i, it := range o.Items {
		if it.Attributes != nil {
			attrs := make(map[string]string, len(it.Attributes))
			for k, v := range it.Attributes {
				attrs[k] = v
			}
			it.Attributes = attrs
		}
		items[i] = it
	}
	o.Items = items
	o.IdempotencyKey = cloneString(o.IdempotencyKey)
	return o
}
