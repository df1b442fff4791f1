package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/marketplace-checkout/internal/apperr"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
)

// CatalogHandler exposes read-only ledger views of variants.
type CatalogHandler struct {
	Products inventory.ProductRepository
	Variants inventory.VariantRepository
}

type variantView struct {
	ID               string            `json:"id"`
	ProductID        string            `json:"product_id"`
	SKU              string            `json:"sku"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	PriceCents       int64             `json:"price_cents"`
	StockQuantity    int               `json:"stock_quantity"`
	ReservedQuantity int               `json:"reserved_quantity"`
	Available        int               `json:"available_quantity"`
}

type productView struct {
	ID       string        `json:"id"`
	StoreID  string        `json:"store_id"`
	Name     string        `json:"name"`
	Variants []variantView `json:"variants"`
}

func newVariantView(v *inventory.Variant) variantView {
	return variantView{
		ID:               v.ID,
		ProductID:        v.ProductID,
		SKU:              v.SKU,
		Attributes:       v.Attributes,
		PriceCents:       v.PriceCents,
		StockQuantity:    v.StockQuantity,
		ReservedQuantity: v.ReservedQuantity,
		Available:        v.Available(),
	}
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/products/{id}", h.getProduct)
	r.Get("/products/{id}/variants", h.listByProduct)
	r.Get("/variants/sku/{sku}", h.getBySKU)
}

func (h *CatalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.Products.GetByID(r.Context(), id)
	if inventory.IsNotFound(err) {
		writeError(w, apperr.NotFound(apperr.CodeProductNotFound, "product", id))
		return
	}
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	vs, err := h.Variants.ListByProduct(r.Context(), id)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	out := productView{ID: p.ID, StoreID: p.StoreID, Name: p.Name, Variants: make([]variantView, 0, len(vs))}
	for _, v := range vs {
		out.Variants = append(out.Variants, newVariantView(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CatalogHandler) listByProduct(w http.ResponseWriter, r *http.Request) {
	vs, err := h.Variants.ListByProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	out := make([]variantView, 0, len(vs))
	for _, v := range vs {
		out = append(out, newVariantView(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CatalogHandler) getBySKU(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	v, err := h.Variants.GetBySKU(r.Context(), sku)
	if errors.Is(err, inventory.ErrVariantNotFound) {
		writeError(w, apperr.NotFound(apperr.CodeVariantNotFound, "variant", sku))
		return
	}
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, newVariantView(v))
}
