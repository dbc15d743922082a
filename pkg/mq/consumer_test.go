package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ackLog records how each delivery was settled.
type ackLog struct {
	acks, requeues, rejects int
}

func (a *ackLog) Ack(uint64, bool) error {
	a.acks++
	return nil
}

func (a *ackLog) Nack(_ uint64, _ bool, requeue bool) error {
	if requeue {
		a.requeues++
	} else {
		a.rejects++
	}
	return nil
}

func (a *ackLog) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

type memCounter struct {
	counts map[string]int64
	err    error
}

func (m *memCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memCounter) Reset(_ context.Context, key string) error {
	delete(m.counts, key)
	return nil
}

func newTestConsumer(h MessageHandler) *Consumer {
	return &Consumer{
		queue:      amqp091.Queue{Name: "activity.test.q"},
		routingKey: "client.created",
		handler:    h,
		logger:     zap.NewNop(),
	}
}

func delivery(acks *ackLog, body string) amqp091.Delivery {
	return amqp091.Delivery{Acknowledger: acks, DeliveryTag: 1, Body: []byte(body)}
}

func TestConsumerDeadLettersAfterRetryLimit(t *testing.T) {
	calls := 0
	c := newTestConsumer(func(context.Context, json.RawMessage) error {
		calls++
		return context.DeadlineExceeded
	})
	counter := &memCounter{counts: map[string]int64{}}
	c.SetRetryLimit(counter, 3)

	acks := &ackLog{}
	for i := 0; i < 5; i++ {
		c.handle(context.Background(), delivery(acks, `{"event_id":"ev-1"}`))
	}

	// deliveries 1-2 requeue, the 3rd is dead-lettered and the count starts over
	assert.Equal(t, 5, calls)
	assert.Equal(t, 1, acks.acks)
	assert.Equal(t, 4, acks.requeues)
	assert.Equal(t, int64(2), counter.counts["retry:activity.test.q:ev-1"])
}

func TestConsumerSuccessClearsRetryCount(t *testing.T) {
	fail := true
	c := newTestConsumer(func(context.Context, json.RawMessage) error {
		if fail {
			return context.DeadlineExceeded
		}
		return nil
	})
	counter := &memCounter{counts: map[string]int64{}}
	c.SetRetryLimit(counter, 3)

	acks := &ackLog{}
	c.handle(context.Background(), delivery(acks, `{"event_id":"ev-2"}`))
	require.Equal(t, int64(1), counter.counts["retry:activity.test.q:ev-2"])

	fail = false
	c.handle(context.Background(), delivery(acks, `{"event_id":"ev-2"}`))
	assert.Empty(t, counter.counts)
	assert.Equal(t, 1, acks.acks)
	assert.Equal(t, 1, acks.requeues)
}

func TestConsumerRequeuesWithoutRetryLimit(t *testing.T) {
	c := newTestConsumer(func(context.Context, json.RawMessage) error {
		return context.DeadlineExceeded
	})

	acks := &ackLog{}
	for i := 0; i < 10; i++ {
		c.handle(context.Background(), delivery(acks, `{"event_id":"ev-3"}`))
	}
	assert.Equal(t, 10, acks.requeues)
	assert.Zero(t, acks.acks)
}

func TestConsumerRequeuesWhenCounterUnavailable(t *testing.T) {
	c := newTestConsumer(func(context.Context, json.RawMessage) error {
		return context.DeadlineExceeded
	})
	c.SetRetryLimit(&memCounter{err: errors.New("redis down")}, 1)

	acks := &ackLog{}
	c.handle(context.Background(), delivery(acks, `{"event_id":"ev-4"}`))
	assert.Equal(t, 1, acks.requeues)
}

func TestConsumerPermanentErrorSkipsRetryCount(t *testing.T) {
	c := newTestConsumer(func(_ context.Context, data json.RawMessage) error {
		var v struct{}
		return json.Unmarshal([]byte(`{`), &v)
	})
	counter := &memCounter{counts: map[string]int64{}}
	c.SetRetryLimit(counter, 3)

	acks := &ackLog{}
	c.handle(context.Background(), delivery(acks, `{"event_id":"ev-5"}`))
	assert.Equal(t, 1, acks.acks, "dead-lettered on the first delivery")
	assert.Empty(t, counter.counts)
}

func TestDialRejectsBadBrokerURL(t *testing.T) {
	_, err := NewPublisher("http://not-amqp.test/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to RabbitMQ")

	_, err = NewConsumer("http://not-amqp.test/", "q", "client.created", zap.NewNop())
	assert.Error(t, err)
}
