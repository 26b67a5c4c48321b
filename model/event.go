package model

import "time"

type EventType string

const EVENT_MESSAGE_RECEIVED EventType = "message_received"
const EVENT_ORDER_CREATED EventType = "order_created"
const EVENT_TAG_ADDED EventType = "tag_added"
const EVENT_SCHEDULE_TICK EventType = "schedule_tick"
const EVENT_WEBHOOK_INBOUND EventType = "webhook_inbound"
const EVENT_WORKFLOW_COMPLETED EventType = "workflow_completed"

// Event is an immutable record of something that happened. Consumers must be
// idempotent on Id; the same event may be delivered more than once.
type Event struct {
	Id            string         `json:"id"`
	Type          EventType      `json:"type"`
	OccurredAt    time.Time      `json:"occurredAt"`
	TeamId        string         `json:"teamId"`
	Payload       map[string]any `json:"payload"`
	CorrelationId string         `json:"correlationId"`
}

// PartitionKey returns the key used to serialize delivery. Events sharing a
// correlation id are handed to a subscriber in publish order.
func (e Event) PartitionKey() string {
	if e.CorrelationId != "" {
		return e.CorrelationId
	}
	return e.Id
}
