package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/marketplace-checkout/internal/cart"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	"github.com/ariefcatur/marketplace-checkout/internal/orders"
	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

type UserRepo struct{ s *Store }

func (r *UserRepo) Exists(ctx context.Context, userID string) (bool, error) {
	defer r.s.lock(ctx)()
	return r.s.users[userID], nil
}

type ProductRepo struct{ s *Store }

func (r *ProductRepo) GetByID(ctx context.Context, id string) (*inventory.Product, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.products[id]
	if !ok {
		return nil, inventory.ErrProductNotFound
	}
	return &p, nil
}

type VariantRepo struct{ s *Store }

func (r *VariantRepo) GetByID(ctx context.Context, id string) (*inventory.Variant, error) {
	defer r.s.lock(ctx)()
	v, ok := r.s.variants[id]
	if !ok {
		return nil, inventory.ErrVariantNotFound
	}
	v = cloneVariant(v)
	return &v, nil
}

func (r *VariantRepo) GetBySKU(ctx context.Context, sku string) (*inventory.Variant, error) {
	defer r.s.lock(ctx)()
	for _, v := range r.s.variants {
		if v.SKU == sku {
			v = cloneVariant(v)
			return &v, nil
		}
	}
	return nil, inventory.ErrVariantNotFound
}

func (r *VariantRepo) ListByProduct(ctx context.Context, productID string) ([]*inventory.Variant, error) {
	defer r.s.lock(ctx)()
	if _, ok := r.s.products[productID]; !ok {
		return nil, inventory.ErrProductNotFound
	}
	var out []*inventory.Variant
	for _, v := range r.s.variants {
		if v.ProductID == productID {
			v = cloneVariant(v)
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (r *VariantRepo) GetForUpdate(ctx context.Context, ids []string) (map[string]*inventory.Variant, error) {
	defer r.s.lock(ctx)()
	out := make(map[string]*inventory.Variant, len(ids))
	for _, id := range ids {
		if v, ok := r.s.variants[id]; ok {
			v = cloneVariant(v)
			out[id] = &v
		}
	}
	return out, nil
}

func (r *VariantRepo) Save(ctx context.Context, v *inventory.Variant) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.variants[v.ID]; !ok {
		return inventory.ErrVariantNotFound
	}
	r.s.variants[v.ID] = cloneVariant(*v)
	return nil
}

type ReservationRepo struct{ s *Store }

func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*inventory.Reservation, error) {
	defer r.s.lock(ctx)()
	res, ok := r.s.reservations[id]
	if !ok {
		return nil, inventory.ErrReservationNotFound
	}
	res = cloneReservation(res)
	return &res, nil
}

func (r *ReservationRepo) GetByIDForUpdate(ctx context.Context, id string) (*inventory.Reservation, error) {
	return r.GetByID(ctx, id)
}

func (r *ReservationRepo) filter(keep func(inventory.Reservation) bool) []*inventory.Reservation {
	var out []*inventory.Reservation
	for _, res := range r.s.reservations {
		if keep(res) {
			res = cloneReservation(res)
			out = append(out, &res)
		}
	}
	return out
}

func (r *ReservationRepo) ActiveByCart(ctx context.Context, cartID string) ([]*inventory.Reservation, error) {
	return r.ActiveByCartForUpdate(ctx, cartID)
}

func (r *ReservationRepo) ActiveByCartForUpdate(ctx context.Context, cartID string) ([]*inventory.Reservation, error) {
	defer r.s.lock(ctx)()
	out := r.filter(func(res inventory.Reservation) bool {
		return res.Status == inventory.ReservationActive && res.BelongsToCart(cartID)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func sortByExpiry(out []*inventory.Reservation) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
}

func (r *ReservationRepo) ExpiredForUpdate(ctx context.Context, now time.Time, limit int) ([]*inventory.Reservation, error) {
	defer r.s.lock(ctx)()
	out := r.filter(func(res inventory.Reservation) bool {
		return res.Status == inventory.ReservationActive && res.IsExpired(now)
	})
	sortByExpiry(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ReservationRepo) ListActive(ctx context.Context, page store.Page) ([]*inventory.Reservation, int, error) {
	defer r.s.lock(ctx)()
	out := r.filter(func(res inventory.Reservation) bool {
		return res.Status == inventory.ReservationActive
	})
	sortByExpiry(out)
	total := len(out)
	page = page.Normalize()
	from := page.Offset()
	if from >= total {
		return []*inventory.Reservation{}, total, nil
	}
	to := from + page.Size
	if to > total {
		to = total
	}
	return out[from:to], total, nil
}

func (r *ReservationRepo) Insert(ctx context.Context, res *inventory.Reservation) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.reservations[res.ID]; ok {
		return fmt.Errorf("reservation %s already exists", res.ID)
	}
	r.s.reservations[res.ID] = cloneReservation(*res)
	return nil
}

func (r *ReservationRepo) Save(ctx context.Context, res *inventory.Reservation) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.reservations[res.ID]; !ok {
		return inventory.ErrReservationNotFound
	}
	r.s.reservations[res.ID] = cloneReservation(*res)
	return nil
}

func (r *ReservationRepo) Stats(ctx context.Context, now time.Time, horizon time.Duration) (inventory.Stats, error) {
	defer r.s.lock(ctx)()
	st := inventory.Stats{ByStatus: make(map[inventory.ReservationStatus]int, len(inventory.AllReservationStatuses))}
	for _, s := range inventory.AllReservationStatuses {
		st.ByStatus[s] = 0
	}
	until := now.Add(horizon)
	for _, res := range r.s.reservations {
		st.ByStatus[res.Status]++
		if res.Status != inventory.ReservationActive {
			continue
		}
		st.ActiveCount++
		st.ActiveQuantity += res.Quantity
		switch {
		case res.IsExpired(now):
			st.ExpiredPending++
		case !res.ExpiresAt.After(until):
			st.ExpiringWithinHorizon++
		}
	}
	return st, nil
}

type CartRepo struct{ s *Store }

func (r *CartRepo) GetByUserID(ctx context.Context, userID string) (*cart.Cart, error) {
	defer r.s.lock(ctx)()
	id, ok := r.s.cartByUser[userID]
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	c := cloneCart(r.s.carts[id])
	return &c, nil
}

func (r *CartRepo) GetByUserIDWithDetails(ctx context.Context, userID string) (*cart.Detailed, error) {
	defer r.s.lock(ctx)()
	id, ok := r.s.cartByUser[userID]
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	d := &cart.Detailed{Cart: cloneCart(r.s.carts[id])}
	for _, it := range d.Items {
		ln := cart.Line{Item: it}
		if v, ok := r.s.variants[it.VariantID]; ok {
			v = cloneVariant(v)
			ln.Variant = &v
			if p, ok := r.s.products[v.ProductID]; ok {
				ln.Product = &p
			}
		}
		d.Lines = append(d.Lines, ln)
	}
	return d, nil
}

// GetByUserIDForUpdate is GetByUserID; the store mutex already serializes
// transactions.
func (r *CartRepo) GetByUserIDForUpdate(ctx context.Context, userID string) (*cart.Cart, error) {
	return r.GetByUserID(ctx, userID)
}

func (r *CartRepo) Create(ctx context.Context, c *cart.Cart) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.cartByUser[c.UserID]; ok {
		return cart.ErrCartExists
	}
	r.s.carts[c.ID] = cloneCart(*c)
	r.s.cartByUser[c.UserID] = c.ID
	return nil
}

func (r *CartRepo) Save(ctx context.Context, c *cart.Cart) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.carts[c.ID]; !ok {
		return cart.ErrCartNotFound
	}
	r.s.carts[c.ID] = cloneCart(*c)
	return nil
}

func (r *CartRepo) Clear(ctx context.Context, cartID string) error {
	defer r.s.lock(ctx)()
	c, ok := r.s.carts[cartID]
	if !ok {
		return cart.ErrCartNotFound
	}
	c.Items = nil
	c.UpdatedAt = time.Now().UTC()
	r.s.carts[cartID] = c
	return nil
}

type OrderRepo struct{ s *Store }

func (r *OrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error) {
	defer r.s.lock(ctx)()
	id, ok := r.s.orderByKey[key]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	o := cloneOrder(r.s.orders[id])
	return &o, nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*orders.Order, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (r *OrderRepo) Insert(ctx context.Context, o *orders.Order) error {
	defer r.s.lock(ctx)()
	if o.IdempotencyKey != nil {
		if _, taken := r.s.orderByKey[*o.IdempotencyKey]; taken {
			return orders.ErrDuplicateIdempotencyKey
		}
		r.s.orderByKey[*o.IdempotencyKey] = o.ID
	}
	r.s.orders[o.ID] = cloneOrder(*o)
	return nil
}

// Count reports how many orders are stored.
func (r *OrderRepo) Count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.orders)
}

var (
	_ store.Transactor                = (*Store)(nil)
	_ orders.UserRepository           = (*UserRepo)(nil)
	_ inventory.ProductRepository     = (*ProductRepo)(nil)
	_ inventory.VariantRepository     = (*VariantRepo)(nil)
	_ inventory.ReservationRepository = (*ReservationRepo)(nil)
	_ cart.Repository                 = (*CartRepo)(nil)
	_ orders.Repository               = (*OrderRepo)(nil)
)
