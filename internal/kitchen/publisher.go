// Package kitchen publishes print tickets for newly staged lines to a
// RabbitMQ queue consumed by the kitchen printer bridge. Publishing is
// fire-and-forget from the caller's point of view: a broker failure is
// logged by the service, never surfaced to the staff device.
package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"pesanaja/backend/internal/domain"
)

const ticketQueue = "kitchen_tickets"

type Publisher interface {
	PublishTicket(ctx context.Context, ticket domain.KitchenTicket) error
	Close() error
}

// NoopPublisher is used when no AMQP broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishTicket(context.Context, domain.KitchenTicket) error { return nil }
func (NoopPublisher) Close() error                                              { return nil }

type AMQPPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	acks <-chan amqp.Confirmation
	mu   sync.Mutex // serializes publishes while waiting for confirms
}

func Dial(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(ticketQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &AMQPPublisher{conn: conn, ch: ch, acks: acks}, nil
}

func (p *AMQPPublisher) Ping() error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// PublishTicket sends the ticket and waits for the broker ack.
func (p *AMQPPublisher) PublishTicket(ctx context.Context, ticket domain.KitchenTicket) error {
	body, err := json.Marshal(ticket)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(
		ctx,
		"",          // default exchange
		ticketQueue, // routing key
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now(),
			Body:         body,
		},
	); err != nil {
		return err
	}

	select {
	case conf := <-p.acks:
		if conf.Ack {
			return nil
		}
		return errors.New("publish NACK from broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
