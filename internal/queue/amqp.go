package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"reviewhooks/internal/model"
)

var _ Queue = (*AMQPQueue)(nil)

// DefaultAMQPQueue is the queue name declared when none is configured.
const DefaultAMQPQueue = "reviewhooks.deliveries"

// AMQPQueue publishes tasks to a durable RabbitMQ queue and consumes them
// with manual acknowledgement.
type AMQPQueue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	name   string
	logger *slog.Logger

	consumeOnce sync.Once
	deliveries  <-chan amqp.Delivery
	consumeErr  error
}

// DialAMQP connects to url and declares the durable queue name.
func DialAMQP(url, name string, logger *slog.Logger) (*AMQPQueue, error) {
	if name == "" {
		name = DefaultAMQPQueue
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue/amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue/amqp: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue/amqp: declare %s: %w", name, err)
	}
	// One unacked delivery per consumer keeps redelivery bounded.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue/amqp: qos: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, name: name, logger: logger}, nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, task *model.DeliveryTask) error {
	if q.conn.IsClosed() {
		return ErrClosed
	}
	data, err := encodeTask(task)
	if err != nil {
		return err
	}
	err = q.ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Timestamp:    task.CreatedAt,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("queue/amqp: publish: %w", err)
	}
	return nil
}

// Dequeue acknowledges a message once it decodes into a task. Malformed
// messages are rejected without requeue.
func (q *AMQPQueue) Dequeue(ctx context.Context) (*model.DeliveryTask, error) {
	q.consumeOnce.Do(func() {
		q.deliveries, q.consumeErr = q.ch.Consume(q.name, "", false, false, false, false, nil)
	})
	if q.consumeErr != nil {
		return nil, fmt.Errorf("queue/amqp: consume: %w", q.consumeErr)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-q.deliveries:
			if !ok {
				return nil, ErrClosed
			}
			task, err := decodeTask(d.Body)
			if err != nil {
				q.logger.Warn("skipping malformed task",
					slog.String("queue", q.name),
					slog.String("message_id", d.MessageId),
					slog.String("error", err.Error()),
				)
				_ = d.Nack(false, false)
				continue
			}
			if err := d.Ack(false); err != nil {
				q.logger.Error("ack failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
			}
			return task, nil
		}
	}
}

func (q *AMQPQueue) Close() error {
	if q.conn.IsClosed() {
		return nil
	}
	_ = q.ch.Close()
	if err := q.conn.Close(); err != nil {
		return fmt.Errorf("queue/amqp: close: %w", err)
	}
	return nil
}
