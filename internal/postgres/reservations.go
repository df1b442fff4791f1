package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

type ReservationRepo struct{ DB *TxManager }

const reservationCols = `id, variant_id, quantity, cart_id, order_id, status, created_at, expires_at,
	updated_at, closed_at, cancellation_reason, session_id, ip_address, user_agent`

func scanReservation(row pgx.Row) (*inventory.Reservation, error) {
	var r inventory.Reservation
	var status string
	if err := row.Scan(&r.ID, &r.VariantID, &r.Quantity, &r.CartID, &r.OrderID, &status,
		&r.CreatedAt, &r.ExpiresAt, &r.UpdatedAt, &r.ClosedAt, &r.CancellationReason,
		&r.SessionID, &r.IPAddress, &r.UserAgent); err != nil {
		return nil, err
	}
	r.Status = inventory.ReservationStatus(status)
	return &r, nil
}

func (r *ReservationRepo) list(ctx context.Context, sql string, args ...any) ([]*inventory.Reservation, error) {
	rows, err := r.DB.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*inventory.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *ReservationRepo) getOne(ctx context.Context, sql, id string) (*inventory.Reservation, error) {
	res, err := scanReservation(r.DB.conn(ctx).QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, inventory.ErrReservationNotFound
	}
	return res, err
}

func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*inventory.Reservation, error) {
	return r.getOne(ctx, `SELECT `+reservationCols+` FROM inventory_reservations WHERE id = $1`, id)
}

func (r *ReservationRepo) GetByIDForUpdate(ctx context.Context, id string) (*inventory.Reservation, error) {
	return r.getOne(ctx, `SELECT `+reservationCols+` FROM inventory_reservations WHERE id = $1 FOR UPDATE`, id)
}

func (r *ReservationRepo) ActiveByCart(ctx context.Context, cartID string) ([]*inventory.Reservation, error) {
	return r.list(ctx, `SELECT `+reservationCols+` FROM inventory_reservations
		WHERE cart_id = $1 AND status = 'active'
		ORDER BY created_at, id`, cartID)
}

func (r *ReservationRepo) ActiveByCartForUpdate(ctx context.Context, cartID string) ([]*inventory.Reservation, error) {
	return r.list(ctx, `SELECT `+reservationCols+` FROM inventory_reservations
		WHERE cart_id = $1 AND status = 'active'
		ORDER BY created_at, id
		FOR UPDATE`, cartID)
}

// ExpiredForUpdate skips rows another transaction holds; they are either
// being converted or swept by someone else.
func (r *ReservationRepo) ExpiredForUpdate(ctx context.Context, now time.Time, limit int) ([]*inventory.Reservation, error) {
	return r.list(ctx, `SELECT `+reservationCols+` FROM inventory_reservations
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
}

func (r *ReservationRepo) ListActive(ctx context.Context, page store.Page) ([]*inventory.Reservation, int, error) {
	page = page.Normalize()
	var total int
	if err := r.DB.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM inventory_reservations WHERE status = 'active'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	out, err := r.list(ctx, `SELECT `+reservationCols+` FROM inventory_reservations
		WHERE status = 'active'
		ORDER BY expires_at, id
		LIMIT $1 OFFSET $2`, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	if out == nil {
		out = []*inventory.Reservation{}
	}
	return out, total, nil
}

func (r *ReservationRepo) Insert(ctx context.Context, res *inventory.Reservation) error {
	_, err := r.DB.conn(ctx).Exec(ctx, `
		INSERT INTO inventory_reservations (`+reservationCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		res.ID, res.VariantID, res.Quantity, res.CartID, res.OrderID, string(res.Status),
		res.CreatedAt, res.ExpiresAt, res.UpdatedAt, res.ClosedAt, res.CancellationReason,
		res.SessionID, res.IPAddress, res.UserAgent)
	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", res.ID, err)
	}
	return nil
}

// Save writes the mutable columns of a reservation.
func (r *ReservationRepo) Save(ctx context.Context, res *inventory.Reservation) error {
	ct, err := r.DB.conn(ctx).Exec(ctx, `
		UPDATE inventory_reservations
		SET status = $2, order_id = $3, expires_at = $4, updated_at = $5, closed_at = $6, cancellation_reason = $7
		WHERE id = $1`,
		res.ID, string(res.Status), res.OrderID, res.ExpiresAt, res.UpdatedAt, res.ClosedAt, res.CancellationReason)
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", res.ID, err)
	}
	if ct.RowsAffected() != 1 {
		return inventory.ErrReservationNotFound
	}
	return nil
}

func (r *ReservationRepo) Stats(ctx context.Context, now time.Time, horizon time.Duration) (inventory.Stats, error) {
	st := inventory.Stats{ByStatus: make(map[inventory.ReservationStatus]int, len(inventory.AllReservationStatuses))}
	for _, s := range inventory.AllReservationStatuses {
		st.ByStatus[s] = 0
	}

	q := r.DB.conn(ctx)
	err := q.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'active'),
			coalesce(sum(quantity) FILTER (WHERE status = 'active'), 0),
			count(*) FILTER (WHERE status = 'active' AND expires_at > $1 AND expires_at <= $2),
			count(*) FILTER (WHERE status = 'active' AND expires_at <= $1)
		FROM inventory_reservations`, now, now.Add(horizon)).
		Scan(&st.ActiveCount, &st.ActiveQuantity, &st.ExpiringWithinHorizon, &st.ExpiredPending)
	if err != nil {
		return st, err
	}

	rows, err := q.Query(ctx, `SELECT status, count(*) FROM inventory_reservations GROUP BY status`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.ByStatus[inventory.ReservationStatus(status)] = n
	}
	return st, rows.Err()
}
