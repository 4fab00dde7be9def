package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/apperr"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/logger"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/tracking"
	"go.uber.org/zap"
)

const opTimeout = 5 * time.Second

// TrackingCache is the read-through cache of the public tracking view.
type TrackingCache interface {
	Get(ctx context.Context, orderID string) (tracking.OrderTracking, bool, error)
	Set(ctx context.Context, t tracking.OrderTracking) error
	Invalidate(ctx context.Context, orderID string) error
}

type errorResp struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindDuplicateVariant, apperr.KindVariantInUse, apperr.KindInsufficientStock,
		apperr.KindInvalidTransition, apperr.KindNotCancellable:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		kind = apperr.KindUnavailable
	}
	code := statusOf(kind)
	if code >= 500 {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, errorResp{Error: err.Error(), Kind: kind})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.New(apperr.KindValidation, "decode", "invalid json: %v", err)
	}
	return nil
}

func invalidate(ctx context.Context, c TrackingCache, orderIDs ...string) {
	if c == nil {
		return
	}
	for _, id := range orderIDs {
		if err := c.Invalidate(ctx, id); err != nil {
			logger.FromContext(ctx).Warn("tracking cache invalidate", zap.String("order_id", id), zap.Error(err))
		}
	}
}
