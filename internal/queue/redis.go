package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"reviewhooks/internal/model"
)

var _ Queue = (*RedisQueue)(nil)

const (
	// DefaultRedisKey is the list holding pending tasks.
	DefaultRedisKey = "reviewhooks:deliveries"

	defaultPollTimeout = time.Second
	defaultRetryDelay  = time.Second
)

// RedisQueue is a FIFO on a redis list: LPUSH on enqueue, BRPOP on
// dequeue. Tasks travel as JSON.
type RedisQueue struct {
	client      redis.Cmdable
	key         string
	pollTimeout time.Duration
	retryDelay  time.Duration
	logger      *slog.Logger
	closed      atomic.Bool
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithPollTimeout bounds each BRPOP so cancellation is noticed.
func WithPollTimeout(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.pollTimeout = d
		}
	}
}

// WithLogger sets the logger used for skipped entries and redis errors.
func WithLogger(l *slog.Logger) RedisOption {
	return func(q *RedisQueue) { q.logger = l }
}

// NewRedisQueue creates a queue on key. The caller owns client.
func NewRedisQueue(client redis.Cmdable, key string, opts ...RedisOption) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	q := &RedisQueue{
		client:      client,
		key:         key,
		pollTimeout: defaultPollTimeout,
		retryDelay:  defaultRetryDelay,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, task *model.DeliveryTask) error {
	if q.closed.Load() {
		return ErrClosed
	}
	data, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("queue/redis: enqueue: %w", err)
	}
	return nil
}

// Dequeue pops the oldest task. Entries that fail to decode are logged and
// dropped; redis errors are logged and retried after a short delay.
func (q *RedisQueue) Dequeue(ctx context.Context) (*model.DeliveryTask, error) {
	for {
		if q.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			q.logger.Error("redis dequeue failed", slog.String("key", q.key), slog.String("error", err.Error()))
			if err := sleepCtx(ctx, q.retryDelay); err != nil {
				return nil, err
			}
			continue
		}

		// result is [key, value]
		if len(result) < 2 {
			continue
		}
		task, err := decodeTask([]byte(result[1]))
		if err != nil {
			q.logger.Warn("skipping malformed task", slog.String("key", q.key), slog.String("error", err.Error()))
			continue
		}
		return task, nil
	}
}

// Len reports the number of pending tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close stops the queue. The redis client is left open.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
