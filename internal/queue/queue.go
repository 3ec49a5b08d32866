// Package queue hands delivery tasks from the dispatcher to the worker pool
// when dispatch runs in async mode.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"reviewhooks/internal/model"
)

var (
	// ErrQueueFull is returned by Enqueue when a bounded queue has no room.
	ErrQueueFull = errors.New("queue: full")
	// ErrClosed is returned once a queue has been closed.
	ErrClosed = errors.New("queue: closed")
)

// Queue is a FIFO of delivery tasks.
type Queue interface {
	Enqueue(ctx context.Context, task *model.DeliveryTask) error
	// Dequeue blocks until a task is available, ctx is done, or the queue
	// is closed.
	Dequeue(ctx context.Context) (*model.DeliveryTask, error)
	Close() error
}

// DefaultSize is the MemoryQueue capacity used when none is configured.
const DefaultSize = 1024

// MemoryQueue is a bounded in-process queue on a buffered channel.
type MemoryQueue struct {
	ch   chan *model.DeliveryTask
	done chan struct{}
	once sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = DefaultSize
	}
	return &MemoryQueue{
		ch:   make(chan *model.DeliveryTask, size),
		done: make(chan struct{}),
	}
}

// Enqueue never blocks: a full queue returns ErrQueueFull so the caller
// can shed load.
func (q *MemoryQueue) Enqueue(ctx context.Context, task *model.DeliveryTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue drains buffered tasks before reporting ErrClosed.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*model.DeliveryTask, error) {
	select {
	case task := <-q.ch:
		return task, nil
	default:
	}
	select {
	case task := <-q.ch:
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		select {
		case task := <-q.ch:
			return task, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Len reports the number of buffered tasks.
func (q *MemoryQueue) Len() int { return len(q.ch) }

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

// encodeTask serializes task for an external broker. Target credentials
// are left out; workers restore them from the target store.
func encodeTask(task *model.DeliveryTask) ([]byte, error) {
	wire := *task
	wire.Target.Credentials = nil
	data, err := json.Marshal(&wire)
	if err != nil {
		return nil, fmt.Errorf("queue: encode task %s: %w", task.ID, err)
	}
	return data, nil
}

func decodeTask(data []byte) (*model.DeliveryTask, error) {
	var task model.DeliveryTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("queue: decode task: %w", err)
	}
	return &task, nil
}
