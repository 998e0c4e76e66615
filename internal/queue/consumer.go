package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one decoded event.
type Handler func(ctx context.Context, ev EmailEvent) error

// Consumer drains the email queue.  Dial is a seam for tests.
type Consumer struct {
	URL     string
	Queue   string
	Handle  Handler
	Log     *slog.Logger
	Timeout time.Duration

	Dial func(url string) (*amqp.Connection, error)
}

// StartEmailConsumer runs a Consumer until ctx is cancelled.
func StartEmailConsumer(ctx context.Context, url, queue string, handle Handler, log *slog.Logger) error {
	c := &Consumer{URL: url, Queue: queue, Handle: handle, Log: log}
	return c.Run(ctx)
}

// Run connects to the broker, declares the queue and consumes messages.  It
// keeps reconnecting with exponential backoff and returns only when ctx is
// done.  A message that fails to decode or send is rejected without requeue
// to avoid tight redelivery loops.
func (c *Consumer) Run(ctx context.Context) error {
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	dial := c.Dial
	if dial == nil {
		dial = amqp.Dial
	}

	backoff := time.Second
	for {
		conn, err := dial(c.URL)
		if err != nil {
			c.Log.Warn("email-consumer: failed to dial broker", "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn("email-consumer: consume loop ended, reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		c.Log.Warn("email-consumer: set QoS failed", "err", err)
	}
	if err := declare(ch, c.Queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.Log.Info("email-consumer: consuming", "queue", c.Queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				c.Log.Error("email-consumer: handle message failed", "err", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var ev EmailEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Template == "" || ev.To == "" {
		return errors.New("event without template or recipient")
	}
	// A message already taken off the queue is finished even when shutdown
	// starts; only the per-message timeout bounds it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.Timeout)
	defer cancel()
	return c.Handle(ctx, ev)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
