package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// 领域事件与其死信共用 routing key，分属两个 topic exchange
const (
	ExchangeName    = "events"
	DLQExchangeName = "events.dlq"
)

// dial 连接 RabbitMQ，打开 channel 并声明事件拓扑。
// 任一步失败都会关闭已打开的资源。
func dial(url string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// DeclareTopology declares the durable events exchange and its dead letter
// exchange. Declaring is idempotent, so publishers and consumers both do it.
func DeclareTopology(ch *amqp091.Channel) error {
	for _, name := range []string{ExchangeName, DLQExchangeName} {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return nil
}
