package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"
)

// ScanTask is the message carried on the scan queue. The payload is a
// reference, not the work itself; the worker loads everything else from the
// database.
type ScanTask struct {
	ScanID string `json:"scan_id"`
}

// TaskHandler processes one scan task. A nil return acknowledges the
// delivery; an error leaves it unacked so the broker redelivers it.
type TaskHandler func(ctx context.Context, task ScanTask) error

// Publisher enqueues scan tasks. Satisfied by *Client and by test stubs.
type Publisher interface {
	Publish(task ScanTask) error
}

// Client talks to a RabbitMQ broker. It holds no connection state: Publish
// dials per call and the consumer loop manages its own connection, so a
// Client is safe for concurrent use.
type Client struct {
	url   string
	qName string
}

// New builds a queue client for the given broker URL and queue name. No
// connection is made until Publish or ListenWithRetry.
func New(url, qName string) *Client {
	return &Client{url: url, qName: qName}
}

// declare ensures the scan queue exists. Durable so tasks survive a broker
// restart; deliveries are published persistent to match.
func (c *Client) declare(ch *amqp.Channel) (amqp.Queue, error) {
	return ch.QueueDeclare(
		c.qName, // name
		true,    // durable
		false,   // auto-delete
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
}

// Publish enqueues a scan task with persistent delivery.
func (c *Client) Publish(task ScanTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal scan task: %w", err)
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := c.declare(ch)
	if err != nil {
		return fmt.Errorf("declare queue '%s': %w", c.qName, err)
	}

	err = ch.Publish(
		"",     // exchange
		q.Name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish to '%s': %w", c.qName, err)
	}

	slog.Debug("Enqueued scan task", "queue", c.qName, "scan_id", task.ScanID)
	return nil
}

// ListenWithRetry consumes scan tasks until ctx is cancelled, reconnecting
// with exponential backoff (1s → 30s cap) whenever the broker drops the
// connection. Deliveries are acked only after the handler returns, so a
// worker crash mid-scan redelivers the task.
func (c *Client) ListenWithRetry(ctx context.Context, prefetch int, handler TaskHandler) {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		if ctx.Err() != nil {
			slog.Info("Listener shutting down (context cancelled)", "queue", c.qName)
			return
		}

		err := c.listenOnce(ctx, prefetch, handler)
		if ctx.Err() != nil {
			slog.Info("Listener stopped", "queue", c.qName)
			return
		}

		if err != nil {
			slog.Warn("Listener error, retrying", "queue", c.qName, "error", err, "backoff", backoff)
		} else {
			// Channel closed without error (e.g. broker restart) — reset backoff
			slog.Info("Listener disconnected, reconnecting", "queue", c.qName)
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// listenOnce connects, consumes, and processes tasks until the connection
// drops or ctx is cancelled. Returns an error on connection/channel failures;
// returns nil when the delivery channel closes cleanly.
func (c *Client) listenOnce(ctx context.Context, prefetch int, handler TaskHandler) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	q, err := c.declare(ch)
	if err != nil {
		return fmt.Errorf("declare queue '%s': %w", c.qName, err)
	}

	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack: ack manually after the handler finishes
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("register consumer on '%s': %w", c.qName, err)
	}

	slog.Info("Connected to queue", "queue", c.qName)

	connCloseCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-connCloseCh:
			if amqpErr != nil {
				return fmt.Errorf("connection closed: %s", amqpErr.Error())
			}
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil // delivery channel closed
			}
			c.dispatch(ctx, msg, handler)
		}
	}
}

// dispatch decodes and handles one delivery. Malformed payloads are acked
// and dropped; there is nothing to retry. Handler errors leave the delivery
// unacked for redelivery.
func (c *Client) dispatch(ctx context.Context, msg amqp.Delivery, handler TaskHandler) {
	var task ScanTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		slog.Warn("Dropping malformed scan task", "queue", c.qName, "error", err)
		if ackErr := msg.Ack(false); ackErr != nil {
			slog.Warn("Failed to ack malformed task", "error", ackErr)
		}
		return
	}

	if err := handler(ctx, task); err != nil {
		slog.Error("Scan task handler failed", "scan_id", task.ScanID, "error", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			slog.Warn("Failed to nack task", "scan_id", task.ScanID, "error", nackErr)
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		slog.Warn("Failed to ack task", "scan_id", task.ScanID, "error", err)
	}
}
