package tracking

import "time"

type EventType string

const (
	EventOrderPlaced       EventType = "ORDER_PLACED"
	EventPaymentConfirmed  EventType = "PAYMENT_CONFIRMED"
	EventOrderProcessing   EventType = "ORDER_PROCESSING"
	EventOrderShipped      EventType = "ORDER_SHIPPED"
	EventInTransit         EventType = "IN_TRANSIT"
	EventOutForDelivery    EventType = "OUT_FOR_DELIVERY"
	EventDelivered         EventType = "DELIVERED"
	EventDeliveryAttempted EventType = "DELIVERY_ATTEMPTED"
	EventReturnedToSender  EventType = "RETURNED_TO_SENDER"
	EventException         EventType = "EXCEPTION"
	EventCancelled         EventType = "CANCELLED"
	EventRefunded          EventType = "REFUNDED"
)

// progress by event type. EXCEPTION is absent on purpose: it carries over the
// progress of the event before it.
var progress = map[EventType]int{
	EventOrderPlaced:       10,
	EventPaymentConfirmed:  20,
	EventOrderProcessing:   30,
	EventOrderShipped:      50,
	EventInTransit:         70,
	EventOutForDelivery:    90,
	EventDelivered:         100,
	EventDeliveryAttempted: 85,
	EventReturnedToSender:  0,
	EventCancelled:         0,
	EventRefunded:          0,
}

func (t EventType) Valid() bool {
	_, ok := progress[t]
	return ok || t == EventException
}

// Progress is the fixed percentage of t; ok is false for EXCEPTION.
func (t EventType) Progress() (pct int, ok bool) {
	pct, ok = progress[t]
	return pct, ok
}

func (t EventType) IsTerminal() bool {
	switch t {
	case EventDelivered, EventReturnedToSender, EventCancelled, EventRefunded:
		return true
	}
	return false
}

// EventTypes lists the vocabulary in lifecycle order.
func EventTypes() []EventType {
	return []EventType{
		EventOrderPlaced, EventPaymentConfirmed, EventOrderProcessing, EventOrderShipped,
		EventInTransit, EventOutForDelivery, EventDeliveryAttempted, EventDelivered,
		EventReturnedToSender, EventException, EventCancelled, EventRefunded,
	}
}

// Event is immutable once appended.
type Event struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	Seq         int       `json:"seq"`
	Type        EventType `json:"eventType"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	EventDate   time.Time `json:"eventDate"`
	// Progress resolved at append time; for EXCEPTION the last known good value.
	Progress int `json:"progressPercentage"`
}

type Info struct {
	OrderID               string     `json:"orderId"`
	TrackingNumber        string     `json:"trackingNumber,omitempty"`
	Carrier               string     `json:"carrier,omitempty"`
	TrackingURL           string     `json:"trackingUrl,omitempty"`
	EstimatedDeliveryDate *time.Time `json:"estimatedDeliveryDate,omitempty"`
	CurrentLocation       string     `json:"currentLocation,omitempty"`
	ActualDeliveryDate    *time.Time `json:"actualDeliveryDate,omitempty"`
	DeliveredTo           string     `json:"deliveredTo,omitempty"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// InfoUpdate is a partial update of Info; nil fields are untouched.
type InfoUpdate struct {
	TrackingNumber        *string    `json:"trackingNumber,omitempty"`
	Carrier               *string    `json:"carrier,omitempty"`
	TrackingURL           *string    `json:"trackingUrl,omitempty"`
	EstimatedDeliveryDate *time.Time `json:"estimatedDeliveryDate,omitempty"`
	CurrentLocation       *string    `json:"currentLocation,omitempty"`
}

type Delivery struct {
	Date        time.Time `json:"deliveryDate"`
	Location    string    `json:"location"`
	DeliveredTo string    `json:"deliveredTo"`
}

// OrderTracking is derived on every read, never stored.
type OrderTracking struct {
	Info
	CurrentStatus      EventType `json:"currentStatus,omitempty"`
	ProgressPercentage int       `json:"progressPercentage"`
	IsTerminal         bool      `json:"isTerminal"`
	Warning            string    `json:"warning,omitempty"`
	Events             []Event   `json:"events"`
}
