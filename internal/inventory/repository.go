package inventory

import (
	"context"
	"time"

	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
}

type VariantRepository interface {
	GetByID(ctx context.Context, id string) (*Variant, error)
	GetBySKU(ctx context.Context, sku string) (*Variant, error)
	ListByProduct(ctx context.Context, productID string) ([]*Variant, error)
	// GetForUpdate locks every listed row for the rest of the ambient
	// transaction. Missing ids are absent from the map.
	GetForUpdate(ctx context.Context, ids []string) (map[string]*Variant, error)
	Save(ctx context.Context, v *Variant) error
}

// Stats is the raw aggregate a ReservationRepository computes.
type Stats struct {
	ActiveCount           int
	ActiveQuantity        int
	ExpiringWithinHorizon int
	ExpiredPending        int
	ByStatus              map[ReservationStatus]int
}

type ReservationRepository interface {
	GetByID(ctx context.Context, id string) (*Reservation, error)
	GetByIDForUpdate(ctx context.Context, id string) (*Reservation, error)
	// ActiveByCart reads a cart's active holds without locking them, so a
	// caller can lock their variants first.
	ActiveByCart(ctx context.Context, cartID string) ([]*Reservation, error)
	ActiveByCartForUpdate(ctx context.Context, cartID string) ([]*Reservation, error)
	// ExpiredForUpdate returns up to limit active holds with ExpiresAt <= now,
	// oldest expiry first.
	ExpiredForUpdate(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
	ListActive(ctx context.Context, page store.Page) ([]*Reservation, int, error)
	Insert(ctx context.Context, r *Reservation) error
	Save(ctx context.Context, r *Reservation) error
	Stats(ctx context.Context, now time.Time, horizon time.Duration) (Stats, error)
}
