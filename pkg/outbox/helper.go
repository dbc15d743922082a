package outbox

import (
	"encoding/json"
	"time"
)

// NewPendingEvent 构造一条待发送的 outbox 事件，由各存储后端在业务事务内写入
func NewPendingEvent(
	id string,
	aggregateType string,
	aggregateID string,
	agencyID string,
	routingKey string,
	payload json.RawMessage,
	at time.Time,
) *Event {
	return &Event{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		AgencyID:      agencyID,
		RoutingKey:    routingKey,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}
