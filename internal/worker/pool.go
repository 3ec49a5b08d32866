// Package worker drains a delivery queue with a fixed number of goroutines.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
	"reviewhooks/internal/queue"
)

// DefaultSize is the number of workers started when none is configured.
const DefaultSize = 5

// Deliverer runs one task to completion.
type Deliverer interface {
	Deliver(ctx context.Context, task *model.DeliveryTask) model.DeliveryResult
}

// CredentialSource restores target credentials that a queue does not
// carry.
type CredentialSource interface {
	Credentials(ctx context.Context, hookID hooks.HookID, targetID string) (*model.Credentials, error)
}

// Pool runs Size workers, each taking tasks from a queue and handing them
// to a Deliverer.
type Pool struct {
	size     int
	queue    queue.Queue
	engine   Deliverer
	logger   *slog.Logger
	onResult func(model.DeliveryResult)
	creds    CredentialSource

	mu             sync.Mutex
	running        bool
	wg             sync.WaitGroup
	stopDequeue    context.CancelFunc
	cancelDelivery context.CancelFunc
}

// Option configures a Pool.
type Option func(*Pool)

// WithSize sets the number of workers.
func WithSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithLogger sets the pool's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithResultHook calls fn after every finished delivery.
func WithResultHook(fn func(model.DeliveryResult)) Option {
	return func(p *Pool) { p.onResult = fn }
}

// WithCredentials restores credentials from src for tasks that arrive
// without them.
func WithCredentials(src CredentialSource) Option {
	return func(p *Pool) { p.creds = src }
}

func NewPool(q queue.Queue, engine Deliverer, opts ...Option) *Pool {
	p := &Pool{
		size:   DefaultSize,
		queue:  q,
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers and returns. Deliveries run under ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	deliverCtx, cancelDelivery := context.WithCancel(ctx)
	dequeueCtx, stopDequeue := context.WithCancel(deliverCtx)
	p.cancelDelivery = cancelDelivery
	p.stopDequeue = stopDequeue

	for i := range p.size {
		p.wg.Add(1)
		go p.worker(dequeueCtx, deliverCtx, i)
	}
	p.logger.Info("worker pool started", slog.Int("workers", p.size))
}

// Stop stops taking new tasks and waits for in-flight deliveries. When ctx
// expires first, in-flight deliveries are abandoned and ctx's error is
// returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.stopDequeue()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, abandoning deliveries")
		p.cancelDelivery()
		<-done
		err = ctx.Err()
	}
	p.cancelDelivery()
	return err
}

func (p *Pool) worker(dequeueCtx, deliverCtx context.Context, id int) {
	defer p.wg.Done()
	for {
		task, err := p.queue.Dequeue(dequeueCtx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || dequeueCtx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", slog.Int("worker", id), slog.String("error", err.Error()))
			if !pause(dequeueCtx, 100*time.Millisecond) {
				return
			}
			continue
		}
		p.process(deliverCtx, id, task)
	}
}

func (p *Pool) process(ctx context.Context, id int, task *model.DeliveryTask) {
	p.logger.Debug("processing task",
		slog.Int("worker", id),
		slog.String("task_id", task.ID),
		slog.String("endpoint", task.Target.Endpoint),
	)
	if p.creds != nil && task.Target.Credentials == nil {
		creds, err := p.creds.Credentials(ctx, task.HookID, task.Target.ID)
		if err != nil {
			p.logger.Warn("delivering without stored credentials",
				slog.String("task_id", task.ID),
				slog.String("target_id", task.Target.ID),
				slog.String("error", err.Error()),
			)
		}
		task.Target.Credentials = creds
	}
	res := p.engine.Deliver(ctx, task)
	if p.onResult != nil {
		p.onResult(res)
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
