package orders

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/tracking"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// StatusInfo is the single source for everything derived from a status:
// legal next states, display hints and the tracking milestone it emits.
type StatusInfo struct {
	Status      Status             `json:"status"`
	Rank        int                `json:"rank"`
	DisplayName string             `json:"displayName"`
	Color       string             `json:"color"`
	Next        []Status           `json:"next"`
	Terminal    bool               `json:"terminal"`
	Cancellable bool               `json:"cancellable"`
	Milestone   tracking.EventType `json:"milestone"`
}

var statusTable = map[Status]StatusInfo{
	StatusPending: {
		Rank: 0, DisplayName: "Pending", Color: "yellow",
		Next:        []Status{StatusConfirmed, StatusCancelled},
		Cancellable: true, Milestone: tracking.EventOrderPlaced,
	},
	StatusConfirmed: {
		Rank: 1, DisplayName: "Confirmed", Color: "blue",
		Next:        []Status{StatusProcessing, StatusCancelled},
		Cancellable: true, Milestone: tracking.EventPaymentConfirmed,
	},
	StatusProcessing: {
		Rank: 2, DisplayName: "Processing", Color: "purple",
		Next:      []Status{StatusShipped},
		Milestone: tracking.EventOrderProcessing,
	},
	StatusShipped: {
		Rank: 3, DisplayName: "Shipped", Color: "indigo",
		Next:      []Status{StatusDelivered},
		Milestone: tracking.EventOrderShipped,
	},
	StatusDelivered: {
		Rank: 4, DisplayName: "Delivered", Color: "green",
		Terminal: true, Milestone: tracking.EventDelivered,
	},
	StatusCancelled: {
		Rank: 5, DisplayName: "Cancelled", Color: "red",
		Terminal: true, Milestone: tracking.EventCancelled,
	},
}

// validNext is built once from statusTable.
var validNext = func() map[Status]map[Status]bool {
	m := make(map[Status]map[Status]bool, len(statusTable))
	for s, info := range statusTable {
		m[s] = map[Status]bool{}
		for _, n := range info.Next {
			m[s][n] = true
		}
	}
	return m
}()

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := statusTable[s]
	return ok
}

// HoldsStock reports whether an order in s still has its units reserved.
func (s Status) HoldsStock() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusProcessing
}

func (s Status) Info() StatusInfo {
	info := statusTable[s]
	info.Status = s
	return info
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// Statuses returns the table in lifecycle order.
func Statuses() []StatusInfo {
	out := make([]StatusInfo, len(statusTable))
	for s := range statusTable {
		info := s.Info()
		out[info.Rank] = info
	}
	return out
}
