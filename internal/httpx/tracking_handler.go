package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/logger"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/tracking"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type TrackingHandler struct {
	Ledger *tracking.Ledger
	Orders *orders.Machine
	Cache  TrackingCache // optional
}

type addEventReq struct {
	EventType   string `json:"eventType"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type deliveredReq struct {
	DeliveryDate time.Time `json:"deliveryDate"`
	Location     string    `json:"location"`
	DeliveredTo  string    `json:"deliveredTo"`
}

type deliveredResp struct {
	Event         tracking.Event `json:"event"`
	OrderStatus   orders.Status  `json:"orderStatus,omitempty"`
	OrderAdvanced bool           `json:"orderAdvanced"`
}

func (h *TrackingHandler) Register(r chi.Router) {
	r.Get("/tracking/event-types", h.eventTypes)
	r.Get("/tracking/{orderId}", h.get)
	r.Put("/tracking/{orderId}", h.updateInfo)
	r.Post("/tracking/{orderId}/events", h.addEvent)
	r.Post("/tracking/{orderId}/delivered", h.delivered)
}

func (h *TrackingHandler) eventTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tracking.EventTypes())
}

// get is the public read path; served from cache when possible.
func (h *TrackingHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "orderId")
	log := logger.FromContext(ctx)

	if h.Cache != nil {
		t, ok, err := h.Cache.Get(ctx, id)
		if err != nil {
			log.Warn("tracking cache get", zap.String("order_id", id), zap.Error(err))
		}
		if ok {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}

	t, err := h.Ledger.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Set(ctx, t); err != nil {
			log.Warn("tracking cache set", zap.String("order_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TrackingHandler) updateInfo(w http.ResponseWriter, r *http.Request) {
	var req tracking.InfoUpdate
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	id := chi.URLParam(r, "orderId")
	info, err := h.Ledger.UpdateInfo(ctx, id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidate(ctx, h.Cache, id)
	writeJSON(w, http.StatusOK, info)
}

func (h *TrackingHandler) addEvent(w http.ResponseWriter, r *http.Request) {
	var req addEventReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	id := chi.URLParam(r, "orderId")
	t := tracking.EventType(strings.ToUpper(strings.TrimSpace(req.EventType)))
	ev, err := h.Ledger.AddEvent(ctx, id, t, req.Description, req.Location)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidate(ctx, h.Cache, id)
	writeJSON(w, http.StatusCreated, ev)
}

// delivered records the delivery and, for a SHIPPED order, completes it.
func (h *TrackingHandler) delivered(w http.ResponseWriter, r *http.Request) {
	var req deliveredReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()

	id := chi.URLParam(r, "orderId")
	ev, err := h.Ledger.MarkDelivered(ctx, id, tracking.Delivery{
		Date:        req.DeliveryDate,
		Location:    req.Location,
		DeliveredTo: req.DeliveredTo,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidate(ctx, h.Cache, id)

	resp := deliveredResp{Event: ev}
	if h.Orders != nil {
		o, advanced, err := h.Orders.SyncDelivered(ctx, id, ev.Description)
		if err != nil {
			// the ledger already holds the delivery; the order can be moved by hand
			logger.FromContext(ctx).Warn("order not advanced to DELIVERED", zap.String("order_id", id), zap.Error(err))
		} else {
			resp.OrderStatus = o.Status
			resp.OrderAdvanced = advanced
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}
