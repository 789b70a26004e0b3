package market

const (
	TopicDealEvents   = "market.deal.events"
	TopicOrderEvents  = "market.order.events"
	TopicLedgerEvents = "market.ledger.events"
)

// TopicFor routes an event type to its topic.
func TopicFor(eventType string) string {
	switch eventType {
	case EventLowPointBalance:
		return TopicLedgerEvents
	case EventOrderCancelled:
		return TopicOrderEvents
	default:
		return TopicDealEvents
	}
}

// PartitionKey keeps every event of one aggregate in order.
func PartitionKey(aggregateID string) []byte { return []byte(aggregateID) }
