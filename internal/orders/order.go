package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderLocked             = errors.New("order is no longer editable")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrUserNotFound            = errors.New("user not found")
)

type Address struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Item is a purchase-time snapshot. Later catalog edits never reach it.
type Item struct {
	ID             string
	ProductID      string
	VariantID      string
	ProductName    string
	SKU            string
	Attributes     map[string]string
	UnitPriceCents int64
	Quantity       int
}

func (i Item) SubtotalCents() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

type Order struct {
	ID              string
	UserID          string
	OrderNumber     string
	Items           []Item
	ShippingAddress Address
	DeliveryMethod  DeliveryMethod
	PaymentMethod   PaymentMethod
	PromoCode       string
	Notes           string
	IdempotencyKey  *string
	Status          Status
	PaymentStatus   PaymentStatus
	ShippingCents   int64
	DiscountCents   int64
	TotalCents      int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrder starts a pending order with a fresh id and order number.
func NewOrder(userID string, now time.Time) *Order {
	now = now.UTC()
	return &Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		OrderNumber:   GenerateOrderNumber(now),
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// GenerateOrderNumber returns ORD-YYYYMMDD-XXXXXXXX. It is for humans to
// quote, not a secret.
func GenerateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

func (o *Order) editable() error {
	if o.Status != StatusPending {
		return fmt.Errorf("%w: status %s", ErrOrderLocked, o.Status)
	}
	return nil
}

func (o *Order) AddItem(it Item) error {
	if err := o.editable(); err != nil {
		return err
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	o.Items = append(o.Items, it)
	o.recalculate()
	return nil
}

func (o *Order) SetShipping(cents int64) error {
	if err := o.editable(); err != nil {
		return err
	}
	o.ShippingCents = cents
	o.recalculate()
	return nil
}

func (o *Order) ApplyDiscount(cents int64) error {
	if err := o.editable(); err != nil {
		return err
	}
	o.DiscountCents = cents
	o.recalculate()
	return nil
}

func (o *Order) SubtotalCents() int64 {
	var sum int64
	for _, it := range o.Items {
		sum += it.SubtotalCents()
	}
	return sum
}

func (o *Order) recalculate() {
	total := o.SubtotalCents() + o.ShippingCents - o.DiscountCents
	if total < 0 {
		total = 0
	}
	o.TotalCents = total
}

// Transition moves the order along its fulfillment state machine.
func (o *Order) Transition(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("invalid order transition %s -> %s", o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now.UTC()
	return nil
}

type Repository interface {
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	GetByID(ctx context.Context, id string) (*Order, error)
	// Insert returns ErrDuplicateIdempotencyKey when another order owns the key.
	Insert(ctx context.Context, o *Order) error
}

type UserRepository interface {
	Exists(ctx context.Context, userID string) (bool, error)
}
