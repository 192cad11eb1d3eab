package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateDispute      OutboxAggregateType = "dispute"
	AggregatePayout       OutboxAggregateType = "payout"
	AggregateNotification OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateDispute,
	AggregatePayout,
	AggregateNotification,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the routing key published with each domain event.
type OutboxEventType string

const (
	EventOrderPaid             OutboxEventType = "order.paid"
	EventOrderRefunded         OutboxEventType = "order.refunded"
	EventDisputeOpened         OutboxEventType = "dispute.opened"
	EventDisputeResolved       OutboxEventType = "dispute.resolved"
	EventPayoutRequested       OutboxEventType = "payout.requested"
	EventPayoutProcessed       OutboxEventType = "payout.processed"
	EventNotificationRequested OutboxEventType = "notification.requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPaid,
	EventOrderRefunded,
	EventDisputeOpened,
	EventDisputeResolved,
	EventPayoutRequested,
	EventPayoutProcessed,
	EventNotificationRequested,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
