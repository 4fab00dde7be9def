// Package metrics holds the prometheus collectors shared by the services and
// the HTTP layer. Collectors register on the default registry at init.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fulfillment"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	StockMovementsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_total",
			Help:      "Stock movements applied, by movement type",
		},
		[]string{"movement"},
	)

	ReservationRejectedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_rejected_total",
			Help:      "Reservations rejected for insufficient stock",
		},
	)

	LowStockGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "variant_low_stock",
			Help:      "1 when the variant is at or below its low stock threshold",
		},
		[]string{"sku"},
	)

	StatusTransitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Order status transitions, by outcome",
		},
		[]string{"from", "to", "outcome"},
	)

	TrackingEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_events_total",
			Help:      "Tracking events appended, by event type",
		},
		[]string{"event_type"},
	)

	BulkItemsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_items_total",
			Help:      "Bulk operation items, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_operation_duration_seconds",
			Help:      "Duration of database operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func RecordStockMovement(movement string) {
	StockMovementsCounter.WithLabelValues(movement).Inc()
}

func RecordReservationRejected() { ReservationRejectedCounter.Inc() }

func SetLowStock(sku string, low bool) {
	v := 0.0
	if low {
		v = 1
	}
	LowStockGauge.WithLabelValues(sku).Set(v)
}

func RecordTransition(from, to string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "rejected"
	}
	StatusTransitionsCounter.WithLabelValues(from, to, outcome).Inc()
}

func RecordTrackingEvent(eventType string) {
	TrackingEventsCounter.WithLabelValues(eventType).Inc()
}

func RecordBulkItem(operation string, ok bool) {
	outcome := "succeeded"
	if !ok {
		outcome = "failed"
	}
	BulkItemsCounter.WithLabelValues(operation, outcome).Inc()
}

// TrackDBOperation returns a func to defer with the start time.
func TrackDBOperation(operation string) func(start time.Time) {
	return func(start time.Time) {
		DBOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func Handler() http.Handler { return promhttp.Handler() }
