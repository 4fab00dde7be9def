package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/apperr"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
	"github.com/go-chi/chi/v5"
)

type OrdersHandler struct {
	Machine *orders.Machine
	Cache   TrackingCache // optional
}

type createOrderResp struct {
	orders.Order
	Idempotent bool `json:"idempotent"`
}

type updateStatusReq struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type bulkStatusReq struct {
	OrderIDs []string `json:"orderIds"`
	Status   string   `json:"status"`
	Notes    string   `json:"notes"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/statuses", h.statuses)
	r.Post("/orders/bulk/status", h.bulkStatus)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}/status", h.updateStatus)
	r.Post("/orders/{id}/cancel", h.cancel)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.NewOrder
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	o, existed, err := h.Machine.Create(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, createOrderResp{Order: o, Idempotent: existed})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	var status orders.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			writeError(w, r, apperr.New(apperr.KindValidation, "orders.list", "%v", err))
			return
		}
		status = st
	}
	writeJSON(w, http.StatusOK, h.Machine.List(r.Context(), status))
}

func (h *OrdersHandler) statuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, orders.Statuses())
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Machine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "orders.updateStatus", "%v", err))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	o, err := h.Machine.UpdateStatus(ctx, id, st, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidate(ctx, h.Cache, id)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	o, err := h.Machine.Cancel(ctx, id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidate(ctx, h.Cache, id)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) bulkStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "orders.bulkUpdateStatus", "%v", err))
		return
	}
	res := h.Machine.BulkUpdateStatus(r.Context(), req.OrderIDs, st, req.Notes)
	invalidate(r.Context(), h.Cache, res.Succeeded...)
	writeJSON(w, http.StatusOK, bulkResp{Result: res, Summary: res.Summary()})
}
