package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/cdr/cdr/internal/platform/metrics"
)

// AMQPPublisher publishes events to a durable topic exchange with publisher
// confirms, so an acknowledged Publish means the broker has the message.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	confirms chan amqp.Confirmation
	mu       sync.Mutex
}

// NewAMQPPublisher dials the broker, declares the durable topic exchange and
// enables publisher confirms.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	p := &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}

	log.Info().Str("exchange", exchange).Msg("connected to event broker")
	return p, nil
}

// Publish wraps the payload in an Envelope, routes it by topic and waits for
// the broker confirm.
func (p *AMQPPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	body, err := json.Marshal(NewEnvelope(topic, payload))
	if err != nil {
		metrics.RecordEventPublished(topic, false)
		return fmt.Errorf("marshal event: %w", err)
	}

	// Confirms arrive in publish order; serialize so each Publish waits for
	// its own ack.
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, topic, false, false, msg); err != nil {
		metrics.RecordEventPublished(topic, false)
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	select {
	case confirmed := <-p.confirms:
		if !confirmed.Ack {
			metrics.RecordEventPublished(topic, false)
			return fmt.Errorf("publish %s: broker did not confirm", topic)
		}
	case <-ctx.Done():
		metrics.RecordEventPublished(topic, false)
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}

	metrics.RecordEventPublished(topic, true)
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
