package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/otcdesk/rfq-settler/pkg/logger"
	"github.com/otcdesk/rfq-settler/pkg/models"
)

const (
	exchangeName = "settlement"
	queueName    = "settlement.jobs"
	routingKey   = "settlement.job"

	publishRetries    = 3
	publishRetryDelay = 100 * time.Millisecond
)

// RabbitQueue is the production Queue backed by RabbitMQ
type RabbitQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  logger.Logger
}

var _ Queue = (*RabbitQueue)(nil)

// NewRabbitQueue connects to the broker and declares the settlement
// exchange and queue
func NewRabbitQueue(amqpURL string, log logger.Logger) (*RabbitQueue, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &RabbitQueue{conn: conn, channel: channel, logger: log}
	if err := q.setup(); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	return q, nil
}

// setup declares the exchange, queue, and binding
func (q *RabbitQueue) setup() error {
	err := q.channel.ExchangeDeclare(
		exchangeName,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := q.channel.QueueBind(queueName, routingKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

func (q *RabbitQueue) Enqueue(ctx context.Context, groupKey, dedupeKey string, payload models.QueuePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < publishRetries; attempt++ {
		lastErr = q.channel.PublishWithContext(
			ctx,
			exchangeName,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				MessageId:    dedupeKey,
				Headers:      amqp.Table{"group-key": groupKey},
				Timestamp:    time.Now(),
			},
		)
		if lastErr == nil {
			return nil
		}

		q.logger.Notice("Publish attempt %d failed for %s: %v", attempt+1, payload.OrderHash, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(publishRetryDelay * time.Duration(1<<attempt)):
		}
	}

	return fmt.Errorf("failed to publish %s after %d attempts: %w", payload.OrderHash, publishRetries, lastErr)
}

func (q *RabbitQueue) Consume(ctx context.Context, handle func(ctx context.Context, payload models.QueuePayload) error) error {
	deliveries, err := q.channel.Consume(
		queueName,
		"settler-"+uuid.NewString(), // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			var payload models.QueuePayload
			if err := json.Unmarshal(delivery.Body, &payload); err != nil {
				q.logger.Error("Dropping malformed payload: %v", err)
				delivery.Nack(false, false)
				continue
			}

			if err := handle(ctx, payload); err != nil {
				q.logger.Error("Handler failed for %s: %v", payload.OrderHash, err)
				// Requeue on first failure only; redelivered messages drop
				delivery.Nack(false, !delivery.Redelivered)
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (q *RabbitQueue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
