package reservation

import (
	"time"

	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
)

// View is the external representation of a hold. Diagnostics are left out.
type View struct {
	ID                 string     `json:"id"`
	VariantID          string     `json:"variant_id"`
	Quantity           int        `json:"quantity"`
	CartID             string     `json:"cart_id,omitempty"`
	OrderID            string     `json:"order_id,omitempty"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
}

func NewView(r *inventory.Reservation) View {
	v := View{
		ID:                 r.ID,
		VariantID:          r.VariantID,
		Quantity:           r.Quantity,
		Status:             string(r.Status),
		CreatedAt:          r.CreatedAt,
		ExpiresAt:          r.ExpiresAt,
		ClosedAt:           r.ClosedAt,
		CancellationReason: r.CancellationReason,
	}
	if r.CartID != nil {
		v.CartID = *r.CartID
	}
	if r.OrderID != nil {
		v.OrderID = *r.OrderID
	}
	return v
}
