package model

import "time"

type DeliveryStatus string

const DELIVERY_PENDING DeliveryStatus = "pending"
const DELIVERY_DELIVERED DeliveryStatus = "delivered"
const DELIVERY_FAILED DeliveryStatus = "failed"

// WebhookEvent is the durable record of one external delivery obligation. It
// is never deleted, only transitioned; RetryCount bounds the backoff schedule.
type WebhookEvent struct {
	Id           string         `json:"id"`
	TeamId       string         `json:"teamId"`
	Platform     string         `json:"platform"`
	EventType    string         `json:"eventType"`
	Payload      map[string]any `json:"payload"`
	Endpoint     string         `json:"endpoint"`
	Status       DeliveryStatus `json:"status"`
	RetryCount   int            `json:"retryCount"`
	ProcessedAt  *time.Time     `json:"processedAt,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// WebhookBody is the wire shape POSTed to receivers. Receivers must treat
// delivery as idempotent on Id.
type WebhookBody struct {
	Id        string         `json:"id"`
	TeamId    string         `json:"team_id"`
	Platform  string         `json:"platform"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Attempt   int            `json:"attempt"`
}
