package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-checkout/internal/logger"
	"github.com/ariefcatur/marketplace-checkout/internal/orders"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// StatusCache serves order status without a database round trip.
type StatusCache interface {
	Status(ctx context.Context, orderID string) (string, bool, error)
	CacheStatus(ctx context.Context, orderID, status string) error
}

type OrdersHandler struct {
	Orders *orders.Service
	Cache  StatusCache // optional
	Log    *zap.Logger
}

type CheckoutReq struct {
	UserID          string         `json:"user_id"`
	ShippingAddress orders.Address `json:"shipping_address"`
	DeliveryMethod  string         `json:"delivery_method"`
	PaymentMethod   string         `json:"payment_method"`
	PromoCode       string         `json:"promo_code,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
}

type CheckoutResp struct {
	Order      orders.OrderView `json:"order"`
	Idempotent bool             `json:"idempotent"`
	Message    string           `json:"message"`
}

func (h *OrdersHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		badRequest(w, "missing user_id")
		return
	}
	// The header wins over the body field.
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	res, err := h.Orders.CreateOrder(r.Context(), orders.CreateOrderInput{
		UserID:          req.UserID,
		ShippingAddress: req.ShippingAddress,
		DeliveryMethod:  orders.DeliveryMethod(req.DeliveryMethod),
		PaymentMethod:   orders.PaymentMethod(req.PaymentMethod),
		PromoCode:       req.PromoCode,
		Notes:           req.Notes,
		IdempotencyKey:  key,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if res.AlreadyExisted {
		code = http.StatusOK
	}
	writeJSON(w, code, CheckoutResp{Order: res.Order, Idempotent: res.AlreadyExisted, Message: res.Message})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	v, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// getOrderStatus tries the cache first and falls back to the database,
// refilling the cache on the way out.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	if h.Cache != nil {
		status, ok, err := h.Cache.Status(ctx, id)
		if err != nil {
			h.log().Warn("order status cache", logger.OrderID(id), logger.Err(err))
		} else if ok {
			writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": status})
			return
		}
	}

	v, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.CacheStatus(ctx, id, string(v.Status)); err != nil {
			h.log().Warn("refill order status cache", logger.OrderID(id), logger.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": string(v.Status)})
}
