package redisx

import "time"

const (
	// Public tracking view: tracking:{order_id} -> OrderTracking JSON
	KeyTracking = "tracking:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLTracking = 5 * time.Minute
	TTLDedup    = 48 * time.Hour
)
