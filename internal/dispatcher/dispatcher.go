// Package dispatcher turns a domain event into one delivery per subscribed
// target. Failures of any kind end in a log entry and never reach the code
// that fired the event.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"reviewhooks/internal/event"
	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
	"reviewhooks/internal/payload"
	"reviewhooks/internal/queue"
)

// Sink receives domain events from the host application.
type Sink interface {
	Notify(ctx context.Context, ev event.Event)
}

// Resolver returns the enabled targets subscribed to a hook.
type Resolver interface {
	Resolve(ctx context.Context, hookID hooks.HookID) []model.Target
}

// Deliverer runs one delivery task to completion.
type Deliverer interface {
	Deliver(ctx context.Context, task *model.DeliveryTask) model.DeliveryResult
}

// Mode selects where deliveries run.
type Mode string

const (
	// ModeSync delivers to every target concurrently and returns once all
	// deliveries have finished.
	ModeSync Mode = "sync"
	// ModeAsync enqueues one task per target for the worker pool.
	ModeAsync Mode = "async"
)

// Report summarizes one dispatch.
type Report struct {
	HookID  hooks.HookID
	Targets int
	// Results holds one entry per delivered target in sync mode.
	Results []model.DeliveryResult
	// Enqueued counts tasks handed to the queue in async mode.
	Enqueued int
	// Skipped counts targets whose body could not be rendered or whose task
	// could not be enqueued.
	Skipped int
}

// Succeeded counts successful deliveries.
func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

var _ Sink = (*Dispatcher)(nil)

// Dispatcher orchestrates payload building, target resolution and delivery.
type Dispatcher struct {
	resolver Resolver
	engine   Deliverer
	renderer payload.Renderer
	queue    queue.Queue
	mode     Mode
	attempts int
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAttempts sets the per-target attempt budget. Values below one mean a
// single attempt.
func WithAttempts(n int) Option {
	return func(d *Dispatcher) { d.attempts = n }
}

// WithRenderer sets the options used for Slack and CIA bodies.
func WithRenderer(r payload.Renderer) Option {
	return func(d *Dispatcher) { d.renderer = r }
}

// WithQueue switches the dispatcher to async mode on q.
func WithQueue(q queue.Queue) Option {
	return func(d *Dispatcher) {
		d.queue = q
		if q != nil {
			d.mode = ModeAsync
		}
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher in sync mode unless WithQueue is given.
func New(resolver Resolver, engine Deliverer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver: resolver,
		engine:   engine,
		mode:     ModeSync,
		attempts: 1,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.attempts < 1 {
		d.attempts = 1
	}
	return d
}

// Mode reports where deliveries run.
func (d *Dispatcher) Mode() Mode { return d.mode }

// Notify dispatches ev and discards the report.
func (d *Dispatcher) Notify(ctx context.Context, ev event.Event) {
	d.Dispatch(ctx, ev)
}

// Dispatch delivers ev to every enabled target subscribed to its hook. In
// sync mode it returns after all deliveries finish.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) (report Report) {
	if ev == nil {
		return report
	}
	report.HookID = ev.HookID()
	log := d.logger.With(slog.String("hook_id", string(report.HookID)))

	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	targets := d.resolver.Resolve(ctx, report.HookID)
	report.Targets = len(targets)
	if len(targets) == 0 {
		log.Debug("no targets for hook")
		return report
	}

	p := payload.Build(ev)
	bodies := newBodyCache(d.renderer, ev, p)

	tasks := make([]*model.DeliveryTask, 0, len(targets))
	for _, t := range targets {
		body, err := bodies.get(t.EffectiveKind(), t.EffectiveFormat())
		if err != nil {
			report.Skipped++
			log.Error("could not build payload",
				slog.String("target_id", t.ID),
				slog.String("endpoint", t.Endpoint),
				slog.String("error", model.NewError(model.ErrSerialization, err).Error()),
			)
			continue
		}
		tasks = append(tasks, d.newTask(report.HookID, t, body))
	}

	if d.mode == ModeAsync {
		for _, task := range tasks {
			if err := d.queue.Enqueue(ctx, task); err != nil {
				report.Skipped++
				log.Error("could not enqueue delivery",
					slog.String("target_id", task.Target.ID),
					slog.String("task_id", task.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			report.Enqueued++
		}
		return report
	}

	report.Results = d.deliverAll(ctx, tasks)
	return report
}

func (d *Dispatcher) newTask(hookID hooks.HookID, t model.Target, body payload.Body) *model.DeliveryTask {
	return &model.DeliveryTask{
		ID:                uuid.NewString(),
		HookID:            hookID,
		Target:            t,
		Payload:           body.Data,
		ContentType:       body.ContentType,
		MaxAttempts:       d.attempts,
		AttemptsRemaining: d.attempts,
		State:             model.StatePending,
		CreatedAt:         d.now(),
	}
}

// deliverAll runs one goroutine per task. A panic in one delivery is
// contained to its own result.
func (d *Dispatcher) deliverAll(ctx context.Context, tasks []*model.DeliveryTask) []model.DeliveryResult {
	results := make([]model.DeliveryResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err := model.NewError(model.ErrTransport, fmt.Errorf("panic: %v", r))
					results[i] = model.DeliveryResult{
						TaskID:    task.ID,
						TargetID:  task.Target.ID,
						Endpoint:  task.Target.Endpoint,
						LastError: err,
					}
					d.logger.Error("delivery panicked",
						slog.String("hook_id", string(task.HookID)),
						slog.String("task_id", task.ID),
						slog.Any("panic", r),
					)
				}
			}()
			results[i] = d.engine.Deliver(ctx, task)
		}()
	}
	wg.Wait()
	return results
}

type bodyKey struct {
	kind   model.TargetKind
	format model.BodyFormat
}

type bodyResult struct {
	body payload.Body
	err  error
}

// bodyCache renders each kind/format once per event. Bodies are shared
// read-only between tasks.
type bodyCache struct {
	renderer payload.Renderer
	ev       event.Event
	p        payload.Payload
	rendered map[bodyKey]bodyResult
}

func newBodyCache(r payload.Renderer, ev event.Event, p payload.Payload) *bodyCache {
	return &bodyCache{renderer: r, ev: ev, p: p, rendered: map[bodyKey]bodyResult{}}
}

func (c *bodyCache) get(kind model.TargetKind, format model.BodyFormat) (payload.Body, error) {
	key := bodyKey{kind, format}
	if r, ok := c.rendered[key]; ok {
		return r.body, r.err
	}
	body, err := c.renderer.Render(c.ev, c.p, kind, format)
	c.rendered[key] = bodyResult{body, err}
	return body, err
}
