package events

const (
	TopicOrderStatusChanged = "order.status.changed"
	TopicStockAdjusted      = "inventory.stock.adjusted"
	TopicStockLow           = "inventory.stock.low"
	TopicTrackingEvent      = "order.tracking.event"
)

// Partition key = entity id so all events of one order (or variant) keep their order.
func PartitionKey(id string) []byte { return []byte(id) }
