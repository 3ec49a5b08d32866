package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"reviewhooks/internal/model"
)

// Handler performs one delivery attempt.
type Handler func(ctx context.Context) error

// Middleware wraps a delivery attempt. It must call next unless it
// short-circuits with an error.
type Middleware func(ctx context.Context, task *model.DeliveryTask, next Handler) error

// Chain composes middleware; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, task *model.DeliveryTask, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, task, prev)
			}
		}
		return h(ctx)
	}
}

// Recover turns a panicking attempt into a transport error.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, task *model.DeliveryTask, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("delivery attempt panicked",
					slog.String("hook_id", string(task.HookID)),
					slog.String("endpoint", task.Target.Endpoint),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = model.NewError(model.ErrTransport, fmt.Errorf("panic: %v", r))
			}
		}()
		return next(ctx)
	}
}
