// Package queue is the AMQP boundary of the ingest pipeline: external
// services publish job submissions onto a queue the worker listens on, and
// the worker publishes job lifecycle events for interested consumers.
//
// Deliveries are handed to the processor synchronously, in delivery order.
// Job processing itself is queued behind the runner's single worker, so the
// processor must only validate and enqueue; it must never block on the job.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"
)

// MessageProcessor handles one message body.
type MessageProcessor func(msg string)

// Listen consumes qName at url and processes messages until the connection
// drops. It returns an error on connection or consume failures; a cleanly
// closed delivery channel returns nil.
func Listen(ctx context.Context, url, qName string, processor MessageProcessor) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("connect to amqp broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(qName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", qName, err)
	}

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer on %q: %w", qName, err)
	}

	slog.Info("Listening on queue", "queue", qName)

	connClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-connClose:
			if amqpErr != nil {
				return fmt.Errorf("connection closed: %s", amqpErr.Error())
			}
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			// synchronous on purpose: submissions must reach the runner
			// in delivery order
			processor(string(msg.Body))
		}
	}
}

// ListenWithRetry runs Listen in a loop with exponential backoff (1s to a
// 30s cap), reconnecting whenever the broker drops the connection. It
// returns when ctx is cancelled.
func ListenWithRetry(ctx context.Context, url, qName string, processor MessageProcessor) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			slog.Info("Queue listener stopping", "queue", qName)
			return
		}

		err := Listen(ctx, url, qName, processor)
		if ctx.Err() != nil {
			slog.Info("Queue listener stopped", "queue", qName)
			return
		}
		if err != nil {
			slog.Warn("Queue listener error, retrying", "queue", qName, "error", err, "backoff", backoff)
		} else {
			slog.Info("Queue listener disconnected, reconnecting", "queue", qName)
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

// Publish sends one JSON message to qName at url.
func Publish(url, qName string, body []byte) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("connect to amqp broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(qName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", qName, err)
	}

	err = ch.Publish("", q.Name, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish to %q: %w", qName, err)
	}

	slog.Debug("Published message", "queue", qName, "bytes", len(body))
	return nil
}
