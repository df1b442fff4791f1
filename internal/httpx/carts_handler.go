package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/marketplace-checkout/internal/cart"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	"github.com/ariefcatur/marketplace-checkout/internal/reservation"
)

type CartsHandler struct {
	Carts        *cart.Service
	Reservations *reservation.Service
}

type cartItemView struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type cartView struct {
	ID        string         `json:"id,omitempty"`
	UserID    string         `json:"user_id"`
	Items     []cartItemView `json:"items"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

func newCartView(c *cart.Cart) cartView {
	v := cartView{ID: c.ID, UserID: c.UserID, Items: make([]cartItemView, 0, len(c.Items)), UpdatedAt: c.UpdatedAt}
	for _, it := range c.Items {
		v.Items = append(v.Items, cartItemView{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return v
}

type AddItemReq struct {
	VariantID string `json:"variant_id,omitempty"`
	SKU       string `json:"sku,omitempty"`
	Quantity  int    `json:"quantity"`
}

type QuantityReq struct {
	Quantity int `json:"quantity"`
}

type HoldReq struct {
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

type ClearReq struct {
	Reason string `json:"reason,omitempty"`
}

func (h *CartsHandler) Register(r chi.Router) {
	r.Route("/carts/{userID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Delete("/", h.clear)
		r.Post("/items", h.addItem)
		r.Put("/items/{variantID}", h.updateItem)
		r.Delete("/items/{variantID}", h.removeItem)
		r.Post("/hold", h.hold)
	})
}

func (h *CartsHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartView(c))
}

func (h *CartsHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	userID := chi.URLParam(r, "userID")

	var c *cart.Cart
	var err error
	switch {
	case req.VariantID != "":
		c, err = h.Carts.AddItem(r.Context(), userID, req.VariantID, req.Quantity)
	case req.SKU != "":
		c, err = h.Carts.AddItemBySKU(r.Context(), userID, req.SKU, req.Quantity)
	default:
		badRequest(w, "variant_id or sku is required")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartView(c))
}

func (h *CartsHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req QuantityReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	c, err := h.Carts.UpdateItem(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "variantID"), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartView(c))
}

func (h *CartsHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.RemoveItem(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "variantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartView(c))
}

func (h *CartsHandler) clear(w http.ResponseWriter, r *http.Request) {
	var req ClearReq
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			badRequest(w, "invalid json")
			return
		}
	}
	if err := h.Carts.Clear(r.Context(), chi.URLParam(r, "userID"), strings.TrimSpace(req.Reason)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// hold reserves the whole cart at checkout initiation.
func (h *CartsHandler) hold(w http.ResponseWriter, r *http.Request) {
	var req HoldReq
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			badRequest(w, "invalid json")
			return
		}
	}
	held, err := h.Reservations.HoldCart(r.Context(), chi.URLParam(r, "userID"),
		time.Duration(req.TTLSeconds)*time.Second, diagnostics(r, req.SessionID))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]reservation.View, 0, len(held))
	for _, res := range held {
		out = append(out, reservation.NewView(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": out})
}

func diagnostics(r *http.Request, sessionID string) inventory.Diagnostics {
	return inventory.Diagnostics{
		SessionID: sessionID,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}
