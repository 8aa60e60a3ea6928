package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher pushes event envelopes onto the topic space.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// Broker wraps an AMQP connection with a durable topic exchange. Both the
// outbox publisher and the gateway fanout go through it.
type Broker struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// Connect dials AMQP and declares the topic exchange.
func Connect(url, exchange string) (*Broker, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Broker{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish sends a persistent JSON message on the given topic.
func (b *Broker) Publish(ctx context.Context, topic string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.ch.PublishWithContext(ctx, b.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Subscribe binds an exclusive queue to the given patterns and invokes handler
// for every delivery until ctx is done. Each subscriber gets its own channel so
// a slow consumer does not stall publishes.
func (b *Broker) Subscribe(ctx context.Context, patterns []string, handler func(topic string, body []byte)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}

	for _, pattern := range patterns {
		if err := ch.QueueBind(q.Name, pattern, b.exchange, false, nil); err != nil {
			ch.Close()
			return fmt.Errorf("bind %s: %w", pattern, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				handler(d.RoutingKey, d.Body)
			}
		}
	}()

	return nil
}

// Close tears down the channel and connection.
func (b *Broker) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
