package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const forwardMessageType = "forward"

// RabbitMQConsumer feeds forward deliveries to a handler. Malformed
// deliveries and handler failures are dead-lettered, never requeued.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx ends, resubscribing with backoff whenever the
// channel or connection drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	var wait time.Duration
	for {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}

		wait = nextBackoff(wait)
		c.logger.Warn("forward subscription dropped, resubscribing",
			zap.String("queue", queue),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.settle(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// settle runs the handler for one delivery and acks or dead-letters it. Only
// a failed ack/nack is returned, since that means the channel is gone.
func (c *RabbitMQConsumer) settle(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeDelivery(d)
	if err != nil {
		c.logger.Warn("dead-lettering malformed forward delivery",
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		return d.Nack(false, false)
	}

	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	if err := handler(ctx, msg); err != nil {
		c.logger.Error("dead-lettering forward message",
			zap.Error(err),
			zap.String("contactId", msg.Job.ContactID),
			zap.String("recipient", msg.Recipient),
			zap.Bool("redelivered", d.Redelivered),
		)
		return d.Nack(false, false)
	}

	return d.Ack(false)
}

// decodeDelivery parses and validates a forward delivery. The AMQP
// correlation id wins over an empty one in the body.
func decodeDelivery(d amqp.Delivery) (ForwardMessage, error) {
	if d.Type != "" && d.Type != forwardMessageType {
		return ForwardMessage{}, fmt.Errorf("unexpected message type %q", d.Type)
	}

	var msg ForwardMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return ForwardMessage{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return ForwardMessage{}, err
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}
	return msg, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
