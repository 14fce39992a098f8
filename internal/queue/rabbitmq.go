package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName = "outreach.dlx"
	dialTimeout     = 15 * time.Second
	minRedialWait   = time.Second
	maxRedialWait   = 30 * time.Second
)

// nextBackoff doubles a wait up to maxRedialWait.
func nextBackoff(wait time.Duration) time.Duration {
	if wait < minRedialWait {
		return minRedialWait
	}
	wait *= 2
	if wait > maxRedialWait {
		return maxRedialWait
	}
	return wait
}

// RabbitMQ owns one broker connection shared by the forward publisher and
// workers. The forward topology is declared once per connection.
type RabbitMQ struct {
	url string

	mu       sync.Mutex
	conn     *amqp.Connection
	declared bool
}

func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	r := &RabbitMQ{url: url}
	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Connected reports whether the broker connection is currently open.
func (r *RabbitMQ) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// connection returns the open connection, redialing with backoff until ctx
// ends when it has dropped.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	var wait time.Duration
	for {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.conn = conn
			r.declared = false
			return conn, nil
		}

		wait = nextBackoff(wait)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
	}
}

// channel opens a channel on the current connection, declaring the forward
// topology first if this connection has not declared it yet.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			// The connection died between the check and the open; drop it and redial once.
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			continue
		}

		if err := r.ensureTopology(conn, ch); err != nil {
			_ = ch.Close()
			return nil, err
		}
		return ch, nil
	}
	return nil, fmt.Errorf("failed to open rabbitmq channel after redial")
}

func (r *RabbitMQ) ensureTopology(conn *amqp.Connection, ch *amqp.Channel) error {
	r.mu.Lock()
	done := r.declared && r.conn == conn
	r.mu.Unlock()
	if done {
		return nil
	}

	if err := declareTopology(ch); err != nil {
		return err
	}

	r.mu.Lock()
	if r.conn == conn {
		r.declared = true
	}
	r.mu.Unlock()
	return nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, q := range topology() {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", q.name, err)
		}
		if q.bindDLX != "" {
			if err := ch.QueueBind(q.name, q.bindDLX, dlxExchangeName, false, nil); err != nil {
				return fmt.Errorf("failed to bind queue %q: %w", q.name, err)
			}
		}
	}
	return nil
}
