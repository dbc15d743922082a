package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"localrank/pkg/metrics"
	"localrank/pkg/util"

	"go.uber.org/zap"
)

// LocalBus delivers events to in-process handlers synchronously. It stands in
// for RabbitMQ when the service runs without a broker.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string][]MessageHandler
	logger   *zap.Logger
}

func NewLocalBus(logger *zap.Logger) *LocalBus {
	return &LocalBus{
		handlers: make(map[string][]MessageHandler),
		logger:   logger,
	}
}

func (b *LocalBus) Subscribe(routingKey string, h MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[routingKey] = append(b.handlers[routingKey], h)
}

// Publish runs every handler bound to routingKey. A retryable handler error
// is returned so the outbox keeps the event pending; anything else is logged
// and dropped like a dead-lettered message.
func (b *LocalBus) Publish(ctx context.Context, routingKey string, body []byte) error {
	b.mu.RLock()
	handlers := b.handlers[routingKey]
	b.mu.RUnlock()

	for _, h := range handlers {
		err := h(ctx, json.RawMessage(body))
		if err == nil {
			metrics.IncrementMQHandle(routingKey, "ack")
			continue
		}
		if retryable, reason := util.IsRetryableError(err); retryable {
			metrics.IncrementMQHandle(routingKey, "requeue")
			return fmt.Errorf("handler for %s (%s): %w", routingKey, reason, err)
		}
		metrics.IncrementMQHandle(routingKey, "dead_letter")
		b.logger.Error("Dropping event after non-retryable handler error",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
	return nil
}
