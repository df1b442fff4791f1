package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated        = "OrderCreated"
	EventReservationCreated  = "ReservationCreated"
	EventReservationReleased = "ReservationReleased"
	EventCartAbandoned       = "CartAbandoned"
)

const (
	TopicOrderCreated        = "order.created"
	TopicReservationCreated  = "reservation.created"
	TopicReservationReleased = "reservation.released"
	TopicCartAbandoned       = "cart.abandoned"
)

// PartitionKey keeps every event of one aggregate on one partition, in order.
func PartitionKey(id string) []byte { return []byte(id) }

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// New wraps payload in a v1 envelope.
func New(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Decode unwraps the payload of env into T.
func Decode[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return t, nil
}

// Publisher delivers envelopes to a topic. Implementations may be asynchronous.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, Envelope) error { return nil }

type OrderLine struct {
	VariantID  string `json:"variant_id"`
	SKU        string `json:"sku"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type OrderCreatedPayload struct {
	OrderID        string      `json:"order_id"`
	OrderNumber    string      `json:"order_number"`
	UserID         string      `json:"user_id"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	Items          []OrderLine `json:"items"`
	TotalCents     int64       `json:"total_cents"`
}

type ReservationPayload struct {
	ReservationID string `json:"reservation_id"`
	VariantID     string `json:"variant_id"`
	CartID        string `json:"cart_id,omitempty"`
	Quantity      int    `json:"quantity"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

type CartAbandonedPayload struct {
	CartID string `json:"cart_id"`
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}
