// Package delivery sends one serialized payload to one target with a
// bounded number of attempts. Failures never escape Deliver: they are
// recorded in the returned result and logged.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"reviewhooks/internal/backoff"
	"reviewhooks/internal/model"
)

// DefaultTimeout bounds a single HTTP attempt.
const DefaultTimeout = 10 * time.Second

// Transport performs one outbound call for a task.
type Transport interface {
	Send(ctx context.Context, task *model.DeliveryTask) error
}

// Engine delivers tasks through the transport registered for each target
// kind, retrying failed attempts until the task's budget is spent.
type Engine struct {
	transports map[model.TargetKind]Transport
	backoff    backoff.Strategy
	limiter    *rate.Limiter
	mws        []Middleware
	mw         Middleware
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransport registers t for targets of the given kind.
func WithTransport(kind model.TargetKind, t Transport) Option {
	return func(e *Engine) { e.transports[kind] = t }
}

// WithBackoff sets the delay strategy between attempts. The default
// retries immediately.
func WithBackoff(s backoff.Strategy) Option {
	return func(e *Engine) { e.backoff = s }
}

// WithRateLimit caps outbound attempts across all targets. A non-positive
// rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Engine) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMiddleware wraps every attempt with the given middleware.
func WithMiddleware(mws ...Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, mws...) }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine. Webhook and Slack targets default to an
// HTTP transport with DefaultTimeout, XML-RPC targets to XMLRPCTransport.
func NewEngine(opts ...Option) *Engine {
	httpTransport := NewHTTPTransport(&http.Client{Timeout: DefaultTimeout})
	e := &Engine{
		transports: map[model.TargetKind]Transport{
			model.KindWebhook: httpTransport,
			model.KindSlack:   httpTransport,
			model.KindXMLRPC:  NewXMLRPCTransport(nil, DefaultTimeout),
		},
		backoff: backoff.None{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.mw = Chain(append([]Middleware{Recover(e.logger)}, e.mws...)...)
	return e
}

// Deliver attempts task until it succeeds, its attempts run out, a
// non-retryable error occurs, or ctx is done.
func (e *Engine) Deliver(ctx context.Context, task *model.DeliveryTask) model.DeliveryResult {
	res := model.DeliveryResult{
		TaskID:   task.ID,
		TargetID: task.Target.ID,
		Endpoint: task.Target.Endpoint,
	}
	log := e.logger.With(
		slog.String("hook_id", string(task.HookID)),
		slog.String("endpoint", task.Target.Endpoint),
		slog.String("target_id", task.Target.ID),
		slog.String("task_id", task.ID),
	)

	if task.MaxAttempts < 1 {
		task.MaxAttempts = 1
	}
	if task.AttemptsRemaining <= 0 || task.AttemptsRemaining > task.MaxAttempts {
		task.AttemptsRemaining = task.MaxAttempts
	}
	task.State = model.StatePending

	transport, err := e.preflight(task)
	if err != nil {
		res.LastError = err
		task.LastError = err.Error()
		task.State = model.StateExhausted
		log.Error("skipping misconfigured target", slog.String("error", err.Error()))
		return res
	}

	for task.AttemptsRemaining > 0 {
		if err := e.waitTurn(ctx); err != nil {
			return e.abandon(log, task, res, err)
		}

		attempt := task.Attempt()
		sendErr := e.mw(ctx, task, func(ctx context.Context) error {
			return transport.Send(ctx, task)
		})
		res.Attempts++

		if sendErr == nil {
			task.State = model.StateSucceeded
			res.Success = true
			res.LastError = nil
			log.Info("notification delivered", slog.Int("attempt", attempt))
			return res
		}

		if ctx.Err() != nil {
			return e.abandon(log, task, res, ctx.Err())
		}

		task.AttemptsRemaining--
		derr := classify(sendErr)
		res.LastError = derr
		task.LastError = derr.Error()

		log.Info("delivery attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("attempts_remaining", task.AttemptsRemaining),
			slog.String("error", derr.Error()),
		)

		if derr.Kind != model.ErrTransport {
			break
		}
		if task.AttemptsRemaining > 0 {
			if err := sleep(ctx, e.backoff.Delay(attempt)); err != nil {
				return e.abandon(log, task, res, err)
			}
		}
	}

	task.State = model.StateExhausted
	log.Warn("giving up on notification",
		slog.Int("attempts", res.Attempts),
		slog.String("error", task.LastError),
	)
	return res
}

func (e *Engine) preflight(task *model.DeliveryTask) (Transport, *model.DeliveryError) {
	kind := task.Target.EffectiveKind()
	transport, ok := e.transports[kind]
	if !ok {
		return nil, model.NewError(model.ErrConfiguration, fmt.Errorf("no transport for target kind %q", kind))
	}
	if err := validateEndpoint(task.Target.Endpoint); err != nil {
		return nil, model.NewError(model.ErrConfiguration, err)
	}
	return transport, nil
}

func (e *Engine) waitTurn(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	return e.limiter.Wait(ctx)
}

func (e *Engine) abandon(log *slog.Logger, task *model.DeliveryTask, res model.DeliveryResult, cause error) model.DeliveryResult {
	res.LastError = model.NewError(model.ErrCanceled, cause)
	task.State = model.StateAbandoned
	task.LastError = res.LastError.Error()
	log.Info("delivery abandoned",
		slog.Int("attempts", res.Attempts),
		slog.String("error", cause.Error()),
	)
	return res
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("missing endpoint")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: want an absolute http(s) URL", endpoint)
	}
	return nil
}

// classify wraps plain errors as transport errors.
func classify(err error) *model.DeliveryError {
	var derr *model.DeliveryError
	if errors.As(err, &derr) {
		return derr
	}
	return model.NewError(model.ErrTransport, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
