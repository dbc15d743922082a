package model

import (
	"encoding/json"
	"time"
)

// Event is a domain event recorded in the outbox within the writing transaction.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	AgencyID      string
	RoutingKey    string
	Payload       json.RawMessage
	OccurredAt    time.Time
}

type Activity struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"event_id"`
	AgencyID   string    `json:"agency_id"`
	ClientID   string    `json:"client_id"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}
