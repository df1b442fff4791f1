package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/marketplace-checkout/internal/reservation"
)

type ReservationsHandler struct {
	Reservations *reservation.Service
}

type CreateReservationReq struct {
	VariantID  string `json:"variant_id"`
	Quantity   int    `json:"quantity"`
	CartID     string `json:"cart_id,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

type ExtendReq struct {
	Minutes int `json:"minutes"`
}

func (h *ReservationsHandler) Register(r chi.Router) {
	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.listActive)
		r.Get("/stats", h.stats)
		r.Get("/{id}", h.get)
		r.Post("/{id}/release", h.release)
		r.Post("/{id}/extend", h.extend)
	})
}

func (h *ReservationsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.VariantID == "" {
		badRequest(w, "missing variant_id")
		return
	}
	res, err := h.Reservations.Hold(r.Context(), reservation.HoldRequest{
		VariantID:   req.VariantID,
		Quantity:    req.Quantity,
		CartID:      req.CartID,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
		Diagnostics: diagnostics(r, req.SessionID),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation.NewView(res))
}

func (h *ReservationsHandler) listActive(w http.ResponseWriter, r *http.Request) {
	page, err := h.Reservations.ListActiveReservations(r.Context(), queryInt(r, "page", 1), queryInt(r, "page_size", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ReservationsHandler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Reservations.GetReservationStatistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *ReservationsHandler) get(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation.NewView(res))
}

// release answers 200 with released=false when the hold is missing or no
// longer active; that is an outcome, not a failure.
func (h *ReservationsHandler) release(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Reservations.ReleaseReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": ok})
}

func (h *ReservationsHandler) extend(w http.ResponseWriter, r *http.Request) {
	var req ExtendReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ok, err := h.Reservations.ExtendReservation(r.Context(), chi.URLParam(r, "id"), req.Minutes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"extended": ok})
}
