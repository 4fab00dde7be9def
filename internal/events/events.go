package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderStatusChanged  = "OrderStatusChanged"
	EventStockAdjusted       = "StockAdjusted"
	EventStockLow            = "StockLow"
	EventTrackingEventAdded  = "TrackingEventAdded"
	EventCarrierScanReceived = "CarrierScanReceived"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id or variant_id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher delivers an envelope to a topic. Implementations must not block
// past ctx.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

// Nop drops every envelope.
type Nop struct{}

func (Nop) Publish(context.Context, string, Envelope) error { return nil }

// New builds a v1 envelope around payload.
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

// Decode unwraps a specific payload.
func Decode[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return t, nil
}

// ---- Payloads ----

type OrderStatusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Notes     string    `json:"notes,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type StockAdjustedPayload struct {
	VariantID     string `json:"variant_id"`
	SKU           string `json:"sku"`
	Movement      string `json:"movement"` // ADJUST | RESERVE | RELEASE | FULFILL
	Delta         int    `json:"delta"`
	Reason        string `json:"reason,omitempty"`
	StockQuantity int    `json:"stock_quantity"`
	Reserved      int    `json:"reserved_quantity"`
	Available     *int   `json:"available_quantity"` // nil when unlimited
}

type StockLowPayload struct {
	VariantID    string `json:"variant_id"`
	SKU          string `json:"sku"`
	Available    int    `json:"available_quantity"`
	Threshold    int    `json:"low_stock_threshold"`
	ReorderPoint int    `json:"reorder_point"`
	NeedsReorder bool   `json:"needs_reorder"`
}

type TrackingEventAddedPayload struct {
	OrderID     string    `json:"order_id"`
	EventID     string    `json:"tracking_event_id"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	EventDate   time.Time `json:"event_date"`
	Progress    int       `json:"progress_percentage"`
	Terminal    bool      `json:"is_terminal"`
}

// CarrierScanPayload is what carrier integrations publish on the scan topic.
type CarrierScanPayload struct {
	OrderID     string `json:"order_id"`
	EventType   string `json:"event_type"`
	Description string `json:"description"`
	Location    string `json:"location"`
	DeliveredTo string `json:"delivered_to,omitempty"`
}
