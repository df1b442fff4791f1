package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/marketplace-checkout/internal/cart"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

type CartRepo struct{ DB *TxManager }

const constraintCartPerUser = "carts_user_id_key"

func (r *CartRepo) GetByUserID(ctx context.Context, userID string) (*cart.Cart, error) {
	return r.load(ctx, `SELECT id, user_id, updated_at FROM carts WHERE user_id = $1`, userID)
}

// GetByUserIDForUpdate locks the carts row, so every writer of the cart's
// lines queues behind the caller.
func (r *CartRepo) GetByUserIDForUpdate(ctx context.Context, userID string) (*cart.Cart, error) {
	return r.load(ctx, `SELECT id, user_id, updated_at FROM carts WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r *CartRepo) load(ctx context.Context, sql, userID string) (*cart.Cart, error) {
	q := r.DB.conn(ctx)
	var c cart.Cart
	err := q.QueryRow(ctx, sql, userID).Scan(&c.ID, &c.UserID, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cart.ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT product_id, variant_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY position`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it cart.Item
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.Quantity); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}

// GetByUserIDWithDetails joins every line with its variant and product in a
// single query. Missing catalog rows come back as nil.
func (r *CartRepo) GetByUserIDWithDetails(ctx context.Context, userID string) (*cart.Detailed, error) {
	rows, err := r.DB.conn(ctx).Query(ctx, `
		SELECT c.id, c.user_id, c.updated_at,
		       i.product_id, i.variant_id, i.quantity,
		       v.id, v.product_id, v.sku, v.attributes, v.price_cents, v.stock_quantity, v.reserved_quantity, v.updated_at,
		       p.id, p.store_id, p.name
		FROM carts c
		LEFT JOIN cart_items i ON i.cart_id = c.id
		LEFT JOIN product_variants v ON v.id = i.variant_id
		LEFT JOIN products p ON p.id = v.product_id
		WHERE c.user_id = $1
		ORDER BY i.position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var d *cart.Detailed
	for rows.Next() {
		var (
			cartID, cartUser         string
			cartUpdated              time.Time
			itemProduct, itemVariant *string
			itemQty                  *int
			vID, vProduct, vSKU      *string
			vAttrs                   map[string]string
			vPrice                   *int64
			vStock, vReserved        *int
			vUpdated                 *time.Time
			pID, pStore, pName       *string
		)
		if err := rows.Scan(&cartID, &cartUser, &cartUpdated,
			&itemProduct, &itemVariant, &itemQty,
			&vID, &vProduct, &vSKU, &vAttrs, &vPrice, &vStock, &vReserved, &vUpdated,
			&pID, &pStore, &pName); err != nil {
			return nil, err
		}
		if d == nil {
			d = &cart.Detailed{Cart: cart.Cart{ID: cartID, UserID: cartUser, UpdatedAt: cartUpdated}}
		}
		if itemVariant == nil {
			continue
		}
		ln := cart.Line{Item: cart.Item{ProductID: *itemProduct, VariantID: *itemVariant, Quantity: *itemQty}}
		if vID != nil {
			ln.Variant = &inventory.Variant{
				ID: *vID, ProductID: *vProduct, SKU: *vSKU, Attributes: vAttrs, PriceCents: *vPrice,
				StockQuantity: *vStock, ReservedQuantity: *vReserved, UpdatedAt: *vUpdated,
			}
		}
		if pID != nil {
			ln.Product = &inventory.Product{ID: *pID, StoreID: *pStore, Name: *pName}
		}
		d.Items = append(d.Items, ln.Item)
		d.Lines = append(d.Lines, ln)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, cart.ErrCartNotFound
	}
	return d, nil
}

func (r *CartRepo) Create(ctx context.Context, c *cart.Cart) error {
	return r.DB.RunInTx(ctx, store.ReadCommitted, func(ctx context.Context) error {
		if _, err := r.DB.conn(ctx).Exec(ctx,
			`INSERT INTO carts (id, user_id, updated_at) VALUES ($1, $2, $3)`, c.ID, c.UserID, c.UpdatedAt); err != nil {
			if isUniqueViolation(err, constraintCartPerUser) {
				return cart.ErrCartExists
			}
			return fmt.Errorf("insert cart: %w", err)
		}
		return r.writeItems(ctx, c)
	})
}

// Save replaces the cart's lines.
func (r *CartRepo) Save(ctx context.Context, c *cart.Cart) error {
	return r.DB.RunInTx(ctx, store.ReadCommitted, func(ctx context.Context) error {
		ct, err := r.DB.conn(ctx).Exec(ctx, `UPDATE carts SET updated_at = $2 WHERE id = $1`, c.ID, c.UpdatedAt)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return cart.ErrCartNotFound
		}
		if _, err := r.DB.conn(ctx).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, c.ID); err != nil {
			return err
		}
		return r.writeItems(ctx, c)
	})
}

func (r *CartRepo) writeItems(ctx context.Context, c *cart.Cart) error {
	if len(c.Items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, it := range c.Items {
		batch.Queue(`INSERT INTO cart_items (cart_id, variant_id, product_id, quantity, position) VALUES ($1, $2, $3, $4, $5)`,
			c.ID, it.VariantID, it.ProductID, it.Quantity, i)
	}
	return r.sendBatch(ctx, batch)
}

func (r *CartRepo) sendBatch(ctx context.Context, b *pgx.Batch) error {
	a, ok := ctx.Value(txKey{}).(*ambient)
	if !ok {
		return errors.New("cart items must be written inside a transaction")
	}
	return a.tx.SendBatch(ctx, b).Close()
}

func (r *CartRepo) Clear(ctx context.Context, cartID string) error {
	return r.DB.RunInTx(ctx, store.ReadCommitted, func(ctx context.Context) error {
		ct, err := r.DB.conn(ctx).Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return cart.ErrCartNotFound
		}
		_, err = r.DB.conn(ctx).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
		return err
	})
}
