package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultReservationTTL applies when a hold is taken without an explicit TTL.
const DefaultReservationTTL = 15 * time.Minute

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConverted ReservationStatus = "converted"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// AllReservationStatuses lists every status, active first.
var AllReservationStatuses = []ReservationStatus{
	ReservationActive, ReservationConverted, ReservationCancelled, ReservationExpired,
}

var validNext = map[ReservationStatus]map[ReservationStatus]bool{
	ReservationActive: {
		ReservationConverted: true,
		ReservationCancelled: true,
		ReservationExpired:   true,
	},
	ReservationConverted: {},
	ReservationCancelled: {},
	ReservationExpired:   {},
}

func CanTransition(from, to ReservationStatus) bool {
	return validNext[from][to]
}

func (s ReservationStatus) IsTerminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func (s ReservationStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Diagnostics is recorded with a hold for support purposes only.
type Diagnostics struct {
	SessionID string
	IPAddress string
	UserAgent string
}

type Reservation struct {
	ID                 string
	VariantID          string
	Quantity           int
	CartID             *string // nil for holds outside a cart
	OrderID            *string // set on conversion
	Status             ReservationStatus
	CreatedAt          time.Time
	ExpiresAt          time.Time
	UpdatedAt          time.Time
	ClosedAt           *time.Time
	CancellationReason string
	Diagnostics
}

// NewReservation builds an active hold. The caller must also Reserve the
// quantity on the variant in the same transaction.
func NewReservation(variantID string, quantity int, cartID *string, ttl time.Duration, now time.Time, diag Diagnostics) (*Reservation, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	now = now.UTC()
	return &Reservation{
		ID:          uuid.NewString(),
		VariantID:   variantID,
		Quantity:    quantity,
		CartID:      cartID,
		Status:      ReservationActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		UpdatedAt:   now,
		Diagnostics: diag,
	}, nil
}

func (r *Reservation) transition(to ReservationStatus, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	now = now.UTC()
	r.Status = to
	r.UpdatedAt = now
	r.ClosedAt = &now
	return nil
}

// ExtendExpiry pushes ExpiresAt forward by d.
func (r *Reservation) ExtendExpiry(d time.Duration, now time.Time) error {
	if d <= 0 {
		return ErrInvalidExtension
	}
	if r.Status != ReservationActive {
		return fmt.Errorf("%w: %s is %s", ErrReservationClosed, r.ID, r.Status)
	}
	r.ExpiresAt = r.ExpiresAt.Add(d)
	r.UpdatedAt = now.UTC()
	return nil
}

// IsExpired reports whether the hold is past its expiry at now.
func (r *Reservation) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// BelongsToCart reports whether the hold was taken for cartID.
func (r *Reservation) BelongsToCart(cartID string) bool {
	return r.CartID != nil && *r.CartID == cartID
}

// ExpireOrphan closes an active hold whose variant no longer exists. There
// is no ledger left to credit.
func (r *Reservation) ExpireOrphan(now time.Time) error {
	return r.transition(ReservationExpired, now)
}
