package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
)

type ProductRepo struct{ DB *TxManager }

func (r *ProductRepo) GetByID(ctx context.Context, id string) (*inventory.Product, error) {
	var p inventory.Product
	err := r.DB.conn(ctx).QueryRow(ctx, `SELECT id, store_id, name FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.StoreID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, inventory.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type VariantRepo struct{ DB *TxManager }

const variantCols = `id, product_id, sku, attributes, price_cents, stock_quantity, reserved_quantity, updated_at`

func scanVariant(row pgx.Row) (*inventory.Variant, error) {
	var v inventory.Variant
	if err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Attributes, &v.PriceCents,
		&v.StockQuantity, &v.ReservedQuantity, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VariantRepo) getOne(ctx context.Context, where string, arg any) (*inventory.Variant, error) {
	v, err := scanVariant(r.DB.conn(ctx).QueryRow(ctx, `SELECT `+variantCols+` FROM product_variants WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, inventory.ErrVariantNotFound
	}
	return v, err
}

func (r *VariantRepo) GetByID(ctx context.Context, id string) (*inventory.Variant, error) {
	return r.getOne(ctx, `id = $1`, id)
}

func (r *VariantRepo) GetBySKU(ctx context.Context, sku string) (*inventory.Variant, error) {
	return r.getOne(ctx, `sku = $1`, sku)
}

func (r *VariantRepo) ListByProduct(ctx context.Context, productID string) ([]*inventory.Variant, error) {
	var exists bool
	if err := r.DB.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, inventory.ErrProductNotFound
	}
	return r.query(ctx, `SELECT `+variantCols+` FROM product_variants WHERE product_id = $1 ORDER BY sku`, productID)
}

// GetForUpdate locks the rows in id order in one statement, so two
// transactions locking overlapping sets never wait on each other in a cycle.
func (r *VariantRepo) GetForUpdate(ctx context.Context, ids []string) (map[string]*inventory.Variant, error) {
	list, err := r.query(ctx, `SELECT `+variantCols+` FROM product_variants WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*inventory.Variant, len(list))
	for _, v := range list {
		out[v.ID] = v
	}
	return out, nil
}

func (r *VariantRepo) query(ctx context.Context, sql string, args ...any) ([]*inventory.Variant, error) {
	rows, err := r.DB.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*inventory.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *VariantRepo) Save(ctx context.Context, v *inventory.Variant) error {
	ct, err := r.DB.conn(ctx).Exec(ctx, `
		UPDATE product_variants
		SET stock_quantity = $2, reserved_quantity = $3, price_cents = $4, attributes = $5, updated_at = $6
		WHERE id = $1`,
		v.ID, v.StockQuantity, v.ReservedQuantity, v.PriceCents, attributes(v.Attributes), v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update variant %s: %w", v.ID, err)
	}
	if ct.RowsAffected() != 1 {
		return inventory.ErrVariantNotFound
	}
	return nil
}

func attributes(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

type UserRepo struct{ DB *TxManager }

func (r *UserRepo) Exists(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := r.DB.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&ok)
	return ok, err
}
