package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"notification-service/pkg/otel"
)

const (
	DLQExchangeName = "notification.dlq"
)

// DeclareDLQExchange declares the dead letter exchange.
func DeclareDLQExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		DLQExchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// DeclareDLQQueue declares "<queue>.dlq" and binds it to the dead letter
// exchange with routingKey.
func DeclareDLQQueue(ch *amqp091.Channel, queue, routingKey string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		fmt.Sprintf("%s.dlq", queue),
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}
	return q, nil
}

// PublishToDLQ publishes a raw message to the dead letter exchange with the
// failure reason in its headers.
func (p *Publisher) PublishToDLQ(ctx context.Context, routingKey string, payload []byte, reason string) error {
	headers := amqp091.Table{
		"x-original-error": reason,
		"x-failed-at":      p.source,
		"x-failed-time":    time.Now().UTC().Format(time.RFC3339),
	}

	ctx, span := otel.MQPublishSpan(ctx, DLQExchangeName, routingKey)
	defer span.End()
	otel.InjectHeaders(ctx, headers)

	return p.channel.PublishWithContext(
		ctx,
		DLQExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
}
