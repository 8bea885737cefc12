package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"roadassist/pkg/logger"
)

// ErrPermanent marks a delivery that will never succeed; it is dropped
// instead of requeued.
var ErrPermanent = errors.New("permanent delivery failure")

// Handler processes the data of one envelope.
type Handler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	keys     []string
	log      logger.ILogger
}

func NewConsumer(url, exchange, queue string, keys []string, log logger.ILogger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, rk := range keys {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("bind %s: %w", rk, err)
		}
	}
	return &Consumer{conn: conn, ch: ch, exchange: exchange, queue: q.Name, keys: keys, log: log}, nil
}

func (c *Consumer) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

// Run dispatches deliveries by routing key until ctx ends or the channel
// closes. Unknown keys are acked and ignored.
func (c *Consumer) Run(ctx context.Context, handlers map[string]Handler) error {
	msgs, err := c.Deliveries(ctx)
	if err != nil {
		return err
	}
	for d := range msgs {
		c.handle(ctx, d, handlers)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, handlers map[string]Handler) {
	h, ok := handlers[d.RoutingKey]
	if !ok {
		_ = d.Ack(false)
		return
	}
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		c.log.Warning("mq: unmarshal envelope", logger.String("key", d.RoutingKey), logger.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if err := h(ctx, env.Data); err != nil {
		requeue := !errors.Is(err, ErrPermanent)
		c.log.Warning("mq: handler failed", logger.String("key", d.RoutingKey), logger.Bool("requeue", requeue), logger.Error(err))
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
