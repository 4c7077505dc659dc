package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/config"
)

// Consumer reads upload notifications from a durable AMQP queue.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	handler *Handler
	logger  *zap.Logger
}

// NewConsumer connects to the broker, sets the prefetch count and declares the queue.
func NewConsumer(cfg config.EventsConfig, handler *Handler, logger *zap.Logger) (*Consumer, error) {
	if cfg.AMQPURI == "" {
		return nil, errors.New("amqp uri is not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(cfg.AMQPURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}

	return &Consumer{
		conn:    conn,
		channel: ch,
		queue:   cfg.Queue,
		handler: handler,
		logger:  logger,
	}, nil
}

// Run consumes notifications until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.channel.ConsumeWithContext(ctx,
		c.queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}
	c.logger.Info("consuming upload notifications", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed by broker")
			}
			c.process(ctx, d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	settle(d, c.handler.Handle(ctx, d.Body, d.Redelivered), c.logger)
}

func settle(d amqp.Delivery, disposition Disposition, logger *zap.Logger) {
	var err error
	switch disposition {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		logger.Error("failed to settle delivery",
			zap.Uint64("tag", d.DeliveryTag),
			zap.String("disposition", disposition.String()),
			zap.Error(err))
	}
}

// Close closes the channel and the connection.
func (c *Consumer) Close() error {
	if err := c.channel.Close(); err != nil {
		c.logger.Warn("error closing channel", zap.Error(err))
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("error closing broker connection: %w", err)
	}
	return nil
}
