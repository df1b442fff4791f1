package orders

import "time"

type ItemView struct {
	ProductID      string            `json:"product_id"`
	VariantID      string            `json:"variant_id"`
	ProductName    string            `json:"product_name"`
	SKU            string            `json:"sku"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	Quantity       int               `json:"quantity"`
	SubtotalCents  int64             `json:"subtotal_cents"`
}

// OrderView is the external representation of an order.
type OrderView struct {
	ID              string         `json:"id"`
	OrderNumber     string         `json:"order_number"`
	UserID          string         `json:"user_id"`
	Status          Status         `json:"status"`
	PaymentStatus   PaymentStatus  `json:"payment_status"`
	DeliveryMethod  DeliveryMethod `json:"delivery_method,omitempty"`
	PaymentMethod   PaymentMethod  `json:"payment_method,omitempty"`
	ShippingAddress Address        `json:"shipping_address"`
	PromoCode       string         `json:"promo_code,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
	Items           []ItemView     `json:"items"`
	SubtotalCents   int64          `json:"subtotal_cents"`
	ShippingCents   int64          `json:"shipping_cents"`
	DiscountCents   int64          `json:"discount_cents"`
	TotalCents      int64          `json:"total_cents"`
	CreatedAt       time.Time      `json:"created_at"`
}

func NewView(o *Order) OrderView {
	v := OrderView{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		DeliveryMethod:  o.DeliveryMethod,
		PaymentMethod:   o.PaymentMethod,
		ShippingAddress: o.ShippingAddress,
		PromoCode:       o.PromoCode,
		Notes:           o.Notes,
		Items:           make([]ItemView, 0, len(o.Items)),
		SubtotalCents:   o.SubtotalCents(),
		ShippingCents:   o.ShippingCents,
		DiscountCents:   o.DiscountCents,
		TotalCents:      o.TotalCents,
		CreatedAt:       o.CreatedAt,
	}
	if o.IdempotencyKey != nil {
		v.IdempotencyKey = *o.IdempotencyKey
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, ItemView{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			ProductName:    it.ProductName,
			SKU:            it.SKU,
			Attributes:     it.Attributes,
			UnitPriceCents: it.UnitPriceCents,
			Quantity:       it.Quantity,
			SubtotalCents:  it.SubtotalCents(),
		})
	}
	return v
}
