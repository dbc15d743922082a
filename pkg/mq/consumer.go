package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"localrank/pkg/metrics"
	"localrank/pkg/otel"
	"localrank/pkg/trace"
	"localrank/pkg/util"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

// AttemptCounter counts deliveries of one message across requeues.
type AttemptCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	deadLetter *Publisher
	attempts   AttemptCounter
	maxAttempt int64
	logger     *zap.Logger
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	// one unacked message at a time per consumer
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// SetDeadLetter routes messages that fail with a non-retryable error to the DLQ.
func (c *Consumer) SetDeadLetter(p *Publisher) {
	c.deadLetter = p
}

// SetRetryLimit bounds requeues of retryable failures: the max-th failed
// delivery of the same event goes to the DLQ instead. max <= 0 disables it.
func (c *Consumer) SetRetryLimit(counter AttemptCounter, max int) {
	if counter == nil || max <= 0 {
		c.attempts, c.maxAttempt = nil, 0
		return
	}
	c.attempts = counter
	c.maxAttempt = int64(max)
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until ctx is done or the delivery channel closes.
// Every message is acked or nacked exactly once.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"",
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", c.queue.Name)
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(parent context.Context, msg amqp091.Delivery) {
	start := time.Now()
	ctx := otel.GetTextMapPropagator().Extract(parent, otel.MQHeaderCarrier(msg.Headers))
	if traceID, ok := msg.Headers[trace.HeaderName].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx, span := otel.MQConsumeSpan(ctx, c.routingKey, c.queue.Name)
	defer span.End()
	defer func() {
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, time.Since(start))
	}()

	logger := c.logger.With(
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.String("trace_id", trace.FromContext(ctx)),
	)
	logger.Debug("Received message", zap.Int("message_size", len(msg.Body)))

	// Panic 恢复：确保即使 handler panic 也能正确处理消息
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panic recovered", zap.Any("panic", r))
			c.deadLetterOrDrop(ctx, logger, msg, fmt.Sprintf("panic: %v", r))
		}
	}()

	retryKey := c.retryKey(msg)
	err := c.handler(ctx, msg.Body)
	if err == nil {
		if retryKey != "" {
			if err := c.attempts.Reset(ctx, retryKey); err != nil {
				logger.Warn("Failed to reset retry count", zap.String("retry_key", retryKey), zap.Error(err))
			}
		}
		metrics.IncrementMQHandle(c.routingKey, "ack")
		if err := msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", zap.Error(err))
		}
		return
	}

	retryable, reason := util.IsRetryableError(err)
	logger.Error("Handler error",
		zap.Bool("retryable", retryable),
		zap.String("reason", reason),
		zap.Error(err),
	)
	if retryable && retryKey != "" {
		n, cerr := c.attempts.IncrementAndGet(ctx, retryKey)
		if cerr != nil {
			logger.Warn("Retry count unavailable, requeueing", zap.String("retry_key", retryKey), zap.Error(cerr))
		} else if n >= c.maxAttempt {
			logger.Warn("Retries exhausted, dead-lettering", zap.String("retry_key", retryKey), zap.Int64("attempts", n))
			_ = c.attempts.Reset(ctx, retryKey)
			c.deadLetterOrDrop(ctx, logger, msg, fmt.Sprintf("retries exhausted after %d attempts: %v", n, err))
			return
		}
	}
	if retryable {
		// 可重试 → 重新入队，让 MQ 重试
		metrics.IncrementMQHandle(c.routingKey, "requeue")
		if err := msg.Nack(false, true); err != nil {
			logger.Error("Failed to nack message", zap.Error(err))
		}
		return
	}
	c.deadLetterOrDrop(ctx, logger, msg, err.Error())
}

// retryKey 取事件 id 作为计数 key；未启用重试上限或消息无 id 时为空
func (c *Consumer) retryKey(msg amqp091.Delivery) string {
	if c.attempts == nil {
		return ""
	}
	id := msg.MessageId
	if id == "" {
		var env struct {
			EventID string `json:"event_id"`
		}
		if json.Unmarshal(msg.Body, &env) == nil {
			id = env.EventID
		}
	}
	if id == "" {
		return ""
	}
	return util.FormatRetryKey(c.queue.Name, id)
}

// deadLetterOrDrop 把消息转入 DLQ 并确认；DLQ 写入失败时重新入队
func (c *Consumer) deadLetterOrDrop(ctx context.Context, logger *zap.Logger, msg amqp091.Delivery, reason string) {
	if c.deadLetter != nil {
		if err := c.deadLetter.PublishToDLQ(ctx, c.routingKey, msg.Body, reason, c.queue.Name); err != nil {
			logger.Error("Failed to publish to DLQ, requeueing", zap.Error(err))
			metrics.IncrementMQHandle(c.routingKey, "requeue")
			_ = msg.Nack(false, true)
			return
		}
	}
	metrics.IncrementMQHandle(c.routingKey, "dead_letter")
	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack dead-lettered message", zap.Error(err))
	}
}
