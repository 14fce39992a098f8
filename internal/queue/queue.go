package queue

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes forward messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg ForwardMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. A returned error
// dead-letters the delivery.
type MessageHandler func(ctx context.Context, msg ForwardMessage) error

// Consumer consumes forward messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// ForwardQueue carries one message per manager recipient of a reply.
	ForwardQueue = "outreach.forwards"
	dlqPrefix    = "dlq."
)

// DLQName returns the dead-letter queue for a work queue.
func DLQName(queue string) string {
	return dlqPrefix + queue
}

// WorkQueueNames returns the declared work queues.
func WorkQueueNames() []string {
	return []string{ForwardQueue}
}

type queueDecl struct {
	name    string
	args    amqp.Table
	bindDLX string
}

// topology lists each work queue after its dead-letter queue, so a work
// queue's dead-letter target always exists when it is declared.
func topology() []queueDecl {
	var decls []queueDecl
	for _, name := range WorkQueueNames() {
		decls = append(decls,
			queueDecl{name: DLQName(name), bindDLX: name},
			queueDecl{name: name, args: amqp.Table{
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": name,
			}},
		)
	}
	return decls
}
