package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/bulk"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/inventory"
	"github.com/go-chi/chi/v5"
)

type InventoryHandler struct {
	Store *inventory.Store
	Bulk  *bulk.Coordinator
}

type adjustStockReq struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type qtyReq struct {
	Qty int `json:"qty"`
}

type bulkAdjustReq struct {
	VariantIDs []string `json:"variantIds"`
	Delta      int      `json:"delta"`
	Reason     string   `json:"reason"`
}

type bulkResp struct {
	bulk.Result
	Summary string `json:"summary"`
}

type productStockResp struct {
	ProductID  string          `json:"productId"`
	TotalStock inventory.Stock `json:"totalStock"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Post("/products", h.putProduct)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/products/{id}/stock", h.productStock)
	r.Get("/products/{id}/variants", h.listVariants)
	r.Post("/products/{id}/variants", h.addVariant)

	r.Get("/variants/low-stock", h.lowStock)
	r.Post("/variants/bulk/adjust-stock", h.bulkAdjust)
	r.Get("/variants/{id}", h.getVariant)
	r.Put("/variants/{id}", h.updateVariant)
	r.Delete("/variants/{id}", h.deleteVariant)
	r.Post("/variants/{id}/adjust-stock", h.adjustStock)
	r.Post("/variants/{id}/reserve", h.reserve)
	r.Post("/variants/{id}/release", h.release)
	r.Get("/variants/{id}/movements", h.movements)
}

func (h *InventoryHandler) putProduct(w http.ResponseWriter, r *http.Request) {
	var p inventory.Product
	if err := decode(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	out, err := h.Store.PutProduct(ctx, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *InventoryHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *InventoryHandler) productStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	total, err := h.Store.AggregateStock(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productStockResp{ProductID: id, TotalStock: total})
}

func (h *InventoryHandler) listVariants(w http.ResponseWriter, r *http.Request) {
	vs, err := h.Store.ListByProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

func (h *InventoryHandler) addVariant(w http.ResponseWriter, r *http.Request) {
	var attrs inventory.VariantAttrs
	if err := decode(r, &attrs); err != nil {
		writeError(w, r, err)
		return
	}
	var size, color string
	if attrs.Size != nil {
		size = *attrs.Size
	}
	if attrs.Color != nil {
		color = *attrs.Color
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	v, err := h.Store.AddVariant(ctx, chi.URLParam(r, "id"), size, color, attrs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *InventoryHandler) getVariant(w http.ResponseWriter, r *http.Request) {
	v, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *InventoryHandler) updateVariant(w http.ResponseWriter, r *http.Request) {
	var attrs inventory.VariantAttrs
	if err := decode(r, &attrs); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	v, err := h.Store.UpdateVariant(ctx, chi.URLParam(r, "id"), attrs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *InventoryHandler) deleteVariant(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	if err := h.Store.DeleteVariant(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	v, err := h.Store.AdjustStock(ctx, chi.URLParam(r, "id"), req.Delta, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *InventoryHandler) reserve(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, h.Store.Reserve)
}

func (h *InventoryHandler) release(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, h.Store.Release)
}

func (h *InventoryHandler) reservation(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, int) (inventory.VariantView, error)) {
	var req qtyReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	v, err := fn(ctx, chi.URLParam(r, "id"), req.Qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *InventoryHandler) movements(w http.ResponseWriter, r *http.Request) {
	ms, err := h.Store.Movements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *InventoryHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.LowStock(r.Context()))
}

func (h *InventoryHandler) bulkAdjust(w http.ResponseWriter, r *http.Request) {
	var req bulkAdjustReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res := h.Bulk.Run(r.Context(), "inventory.bulkAdjustStock", req.VariantIDs, func(ctx context.Context, id string) error {
		_, err := h.Store.AdjustStock(ctx, id, req.Delta, req.Reason)
		return err
	})
	writeJSON(w, http.StatusOK, bulkResp{Result: res, Summary: res.Summary()})
}
