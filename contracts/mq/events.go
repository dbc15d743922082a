package mq

import (
	"encoding/json"
	"time"
)

// Routing keys published on the events exchange.
const (
	ClientCreated        = "client.created"
	ProjectCreated       = "project.created"
	ProjectPhaseAdvanced = "project.phase_advanced"
	ProjectCompleted     = "project.completed"
	KeywordsGenerated    = "keywords.generated"
	CompetitorAdded      = "competitor.added"
)

// RoutingKeys lists every key the worker binds a queue to.
var RoutingKeys = []string{
	ClientCreated,
	ProjectCreated,
	ProjectPhaseAdvanced,
	ProjectCompleted,
	KeywordsGenerated,
	CompetitorAdded,
}

// Envelope wraps every payload. EventID is the outbox row id and doubles as
// the deduplication key on the consumer side.
type Envelope struct {
	EventID    string          `json:"event_id"`
	RoutingKey string          `json:"routing_key"`
	AgencyID   string          `json:"agency_id"`
	ClientID   string          `json:"client_id"`
	TraceID    string          `json:"trace_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type ClientCreatedPayload struct {
	ClientID     string `json:"client_id"`
	BusinessName string `json:"business_name"`
	ServiceType  string `json:"service_type"`
	Location     string `json:"location"`
}

type ProjectCreatedPayload struct {
	ProjectID string `json:"project_id"`
	ClientID  string `json:"client_id"`
}

type PhaseAdvancedPayload struct {
	ProjectID string `json:"project_id"`
	From      int    `json:"from"`
	To        int    `json:"to"`
	PhaseName string `json:"phase_name"`
}

type ProjectCompletedPayload struct {
	ProjectID   string    `json:"project_id"`
	CompletedAt time.Time `json:"completed_at"`
}

type KeywordsGeneratedPayload struct {
	Count       int    `json:"count"`
	ServiceType string `json:"service_type"`
	Location    string `json:"location"`
}

type CompetitorAddedPayload struct {
	CompetitorID string `json:"competitor_id"`
	BusinessName string `json:"business_name"`
}
