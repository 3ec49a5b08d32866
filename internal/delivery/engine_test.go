package delivery_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewhooks/internal/backoff"
	"reviewhooks/internal/delivery"
	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
)

// recordingHandler captures log records for assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) error
}

func (f *fakeTransport) Send(_ context.Context, _ *model.DeliveryTask) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n)
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTask(attempts int) *model.DeliveryTask {
	return &model.DeliveryTask{
		ID:     "task-1",
		HookID: hooks.ReviewRequestClosed,
		Target: model.Target{
			ID:       "target-1",
			HookID:   hooks.ReviewRequestClosed,
			Endpoint: "http://hooks.example.com/notify",
			Enabled:  true,
		},
		Payload:     []byte(`{"review_request_id":42}`),
		ContentType: "application/json",
		MaxAttempts: attempts,
	}
}

func newEngine(t *testing.T, tr delivery.Transport, opts ...delivery.Option) (*delivery.Engine, *recordingHandler) {
	t.Helper()
	logs := &recordingHandler{}
	opts = append([]delivery.Option{
		delivery.WithTransport(model.KindWebhook, tr),
		delivery.WithLogger(slog.New(logs)),
	}, opts...)
	return delivery.NewEngine(opts...), logs
}

func TestDeliver_ExhaustsAttemptBudget(t *testing.T) {
	tr := &fakeTransport{fn: func(int) error { return errors.New("connection refused") }}
	engine, logs := newEngine(t, tr)
	task := newTask(3)

	res := engine.Deliver(context.Background(), task)

	assert.False(t, res.Success)
	assert.Equal(t, 3, tr.Calls())
	assert.Equal(t, 3, res.Attempts)
	require.NotNil(t, res.LastError)
	assert.Equal(t, model.ErrTransport, res.LastError.Kind)
	assert.Equal(t, model.StateExhausted, task.State)
	assert.Equal(t, 0, task.AttemptsRemaining)
	assert.Equal(t, 1, logs.count(slog.LevelWarn))
	assert.Equal(t, 3, logs.count(slog.LevelInfo))
}

func TestDeliver_StopsOnFirstSuccess(t *testing.T) {
	tr := &fakeTransport{fn: func(call int) error {
		if call < 2 {
			return errors.New("timeout")
		}
		return nil
	}}
	engine, logs := newEngine(t, tr)
	task := newTask(5)

	res := engine.Deliver(context.Background(), task)

	assert.True(t, res.Success)
	assert.Nil(t, res.LastError)
	assert.Equal(t, 2, tr.Calls())
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, model.StateSucceeded, task.State)
	assert.Equal(t, 0, logs.count(slog.LevelWarn))
}

func TestDeliver_DefaultsToSingleAttempt(t *testing.T) {
	tr := &fakeTransport{fn: func(int) error { return errors.New("boom") }}
	engine, _ := newEngine(t, tr)

	res := engine.Deliver(context.Background(), newTask(0))

	assert.False(t, res.Success)
	assert.Equal(t, 1, tr.Calls())
}

func TestDeliver_ConfigurationErrorsAreNotAttempted(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.DeliveryTask)
	}{
		{"missing endpoint", func(task *model.DeliveryTask) { task.Target.Endpoint = "" }},
		{"relative endpoint", func(task *model.DeliveryTask) { task.Target.Endpoint = "/notify" }},
		{"bad scheme", func(task *model.DeliveryTask) { task.Target.Endpoint = "ftp://example.com" }},
		{"unknown kind", func(task *model.DeliveryTask) { task.Target.Kind = "pager" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{fn: func(int) error { return nil }}
			engine, logs := newEngine(t, tr)
			task := newTask(3)
			tt.mutate(task)

			res := engine.Deliver(context.Background(), task)

			assert.False(t, res.Success)
			assert.Zero(t, tr.Calls())
			require.NotNil(t, res.LastError)
			assert.Equal(t, model.ErrConfiguration, res.LastError.Kind)
			assert.Equal(t, 1, logs.count(slog.LevelError))
		})
	}
}

func TestDeliver_NonTransportErrorStopsRetrying(t *testing.T) {
	tr := &fakeTransport{fn: func(int) error {
		return model.NewError(model.ErrConfiguration, errors.New("bad request url"))
	}}
	engine, _ := newEngine(t, tr)

	res := engine.Deliver(context.Background(), newTask(4))

	assert.Equal(t, 1, tr.Calls())
	assert.Equal(t, model.ErrConfiguration, res.LastError.Kind)
}

func TestDeliver_RecoversFromPanics(t *testing.T) {
	tr := &fakeTransport{fn: func(int) error { panic("nil map") }}
	engine, _ := newEngine(t, tr)

	var res model.DeliveryResult
	require.NotPanics(t, func() {
		res = engine.Deliver(context.Background(), newTask(2))
	})
	assert.False(t, res.Success)
	assert.Equal(t, 2, tr.Calls())
	assert.Contains(t, res.LastError.Error(), "panic")
}

func TestDeliver_CancelDuringBackoffAbandons(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &fakeTransport{fn: func(int) error {
		cancel()
		return errors.New("unreachable")
	}}
	engine, _ := newEngine(t, tr, delivery.WithBackoff(backoff.Constant{Interval: time.Hour}))
	task := newTask(3)

	res := engine.Deliver(ctx, task)

	assert.False(t, res.Success)
	assert.Equal(t, 1, tr.Calls())
	require.NotNil(t, res.LastError)
	assert.Equal(t, model.ErrCanceled, res.LastError.Kind)
	assert.Equal(t, model.StateAbandoned, task.State)
}

func TestDeliver_RateLimitHonorsContext(t *testing.T) {
	tr := &fakeTransport{fn: func(int) error { return nil }}
	engine, _ := newEngine(t, tr, delivery.WithRateLimit(1, 1))

	res := engine.Deliver(context.Background(), newTask(1))
	assert.True(t, res.Success)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	abandoned := newTask(1)
	res = engine.Deliver(ctx, abandoned)
	assert.False(t, res.Success)
	assert.Equal(t, model.ErrCanceled, res.LastError.Kind)
	assert.Equal(t, model.StateAbandoned, abandoned.State)
	assert.Equal(t, 1, tr.Calls())
}

func TestDeliver_MiddlewareWrapsEachAttempt(t *testing.T) {
	var seen []int
	record := func(ctx context.Context, task *model.DeliveryTask, next delivery.Handler) error {
		seen = append(seen, task.Attempt())
		return next(ctx)
	}
	tr := &fakeTransport{fn: func(int) error { return errors.New("down") }}
	engine, _ := newEngine(t, tr, delivery.WithMiddleware(record))

	engine.Deliver(context.Background(), newTask(3))

	assert.Equal(t, []int{1, 2, 3}, seen)
}
