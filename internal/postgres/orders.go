package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/marketplace-checkout/internal/cart"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	"github.com/ariefcatur/marketplace-checkout/internal/orders"
	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

const constraintOrderIdempotency = "orders_idempotency_key_uniq"

type OrderRepo struct{ DB *TxManager }

const orderCols = `id, user_id, order_number, idempotency_key, status, payment_status, delivery_method,
	payment_method, shipping_address, promo_code, notes, shipping_cents, discount_cents, total_cents,
	created_at, updated_at`

func (r *OrderRepo) get(ctx context.Context, where, arg string) (*orders.Order, error) {
	q := r.DB.conn(ctx)
	var (
		o                                      orders.Order
		status, payStatus, delivery, payMethod string
	)
	err := q.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE `+where, arg).Scan(
		&o.ID, &o.UserID, &o.OrderNumber, &o.IdempotencyKey, &status, &payStatus, &delivery,
		&payMethod, &o.ShippingAddress, &o.PromoCode, &o.Notes, &o.ShippingCents, &o.DiscountCents,
		&o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	o.PaymentStatus = orders.PaymentStatus(payStatus)
	o.DeliveryMethod = orders.DeliveryMethod(delivery)
	o.PaymentMethod = orders.PaymentMethod(payMethod)

	rows, err := q.Query(ctx, `
		SELECT id, product_id, variant_id, product_name, sku, attributes, unit_price_cents, quantity
		FROM order_items WHERE order_id = $1 ORDER BY position`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it orders.Item
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantID, &it.ProductName, &it.SKU,
			&it.Attributes, &it.UnitPriceCents, &it.Quantity); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*orders.Order, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *OrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error) {
	return r.get(ctx, `idempotency_key = $1`, key)
}

func (r *OrderRepo) Insert(ctx context.Context, o *orders.Order) error {
	return r.DB.RunInTx(ctx, store.ReadCommitted, func(ctx context.Context) error {
		q := r.DB.conn(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO orders (`+orderCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			o.ID, o.UserID, o.OrderNumber, o.IdempotencyKey, string(o.Status), string(o.PaymentStatus),
			string(o.DeliveryMethod), string(o.PaymentMethod), o.ShippingAddress, o.PromoCode, o.Notes,
			o.ShippingCents, o.DiscountCents, o.TotalCents, o.CreatedAt, o.UpdatedAt)
		if isUniqueViolation(err, constraintOrderIdempotency) {
			return orders.ErrDuplicateIdempotencyKey
		}
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(`
				INSERT INTO order_items (id, order_id, product_id, variant_id, product_name, sku, attributes, unit_price_cents, quantity, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				it.ID, o.ID, it.ProductID, it.VariantID, it.ProductName, it.SKU, attributes(it.Attributes),
				it.UnitPriceCents, it.Quantity, i)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

var (
	_ inventory.ProductRepository     = (*ProductRepo)(nil)
	_ inventory.VariantRepository     = (*VariantRepo)(nil)
	_ inventory.ReservationRepository = (*ReservationRepo)(nil)
	_ cart.Repository                 = (*CartRepo)(nil)
	_ orders.Repository               = (*OrderRepo)(nil)
	_ orders.UserRepository           = (*UserRepo)(nil)
)
