package dispatcher_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewhooks/internal/delivery"
	"reviewhooks/internal/dispatcher"
	"reviewhooks/internal/event"
	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
	"reviewhooks/internal/queue"
	"reviewhooks/internal/registry"
)

type hit struct {
	body string
	auth bool
	user string
}

type endpoint struct {
	*httptest.Server
	mu   sync.Mutex
	hits []hit
}

func newEndpoint(t *testing.T, status int) *endpoint {
	t.Helper()
	e := &endpoint{}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, _, ok := r.BasicAuth()
		e.mu.Lock()
		e.hits = append(e.hits, hit{body: string(body), auth: ok, user: user})
		e.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(e.Close)
	return e
}

func (e *endpoint) Hits() []hit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]hit(nil), e.hits...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher(targets []model.Target, opts ...dispatcher.Option) *dispatcher.Dispatcher {
	reg := registry.New(registry.NewMemoryStore(targets...), hooks.Default(), quietLogger())
	engine := delivery.NewEngine(delivery.WithLogger(quietLogger()))
	opts = append([]dispatcher.Option{dispatcher.WithLogger(quietLogger())}, opts...)
	return dispatcher.New(reg, engine, opts...)
}

func closedEvent() event.ReviewRequestClosed {
	return event.ReviewRequestClosed{
		Actor:         &event.User{Username: "alice"},
		ReviewRequest: event.ReviewRequest{ID: 42},
		CloseType:     event.CloseSubmitted,
	}
}

func TestDispatch_ClosedEventReachesEnabledTargets(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	other := newEndpoint(t, http.StatusOK)
	d := newDispatcher([]model.Target{
		{ID: "a", HookID: hooks.ReviewRequestClosed, Endpoint: ep.URL + "/a", Enabled: true},
		{ID: "b", HookID: hooks.ReviewRequestClosed, Endpoint: ep.URL + "/b", Enabled: true},
		{ID: "c", HookID: hooks.ReviewRequestClosed, Endpoint: other.URL, Enabled: false},
		{ID: "d", HookID: hooks.ReviewPublished, Endpoint: other.URL, Enabled: true},
	})

	report := d.Dispatch(context.Background(), closedEvent())

	hits := ep.Hits()
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.JSONEq(t, `{"review_request_id": 42, "type": "submitted", "user": "alice"}`, h.body)
	}
	assert.Empty(t, other.Hits())
	assert.Equal(t, 2, report.Targets)
	assert.Equal(t, 2, report.Succeeded())
}

func TestDispatch_NoTargetsMakesNoCalls(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	d := newDispatcher([]model.Target{
		{ID: "a", HookID: hooks.ReviewPublished, Endpoint: ep.URL, Enabled: true},
	})

	report := d.Dispatch(context.Background(), closedEvent())

	assert.Empty(t, ep.Hits())
	assert.Zero(t, report.Targets)
	assert.Empty(t, report.Results)
}

func TestDispatch_FailingTargetDoesNotAffectOthers(t *testing.T) {
	bad := newEndpoint(t, http.StatusInternalServerError)
	good := newEndpoint(t, http.StatusOK)
	d := newDispatcher([]model.Target{
		{ID: "bad", HookID: hooks.ReviewRequestClosed, Endpoint: bad.URL, Enabled: true},
		{ID: "good", HookID: hooks.ReviewRequestClosed, Endpoint: good.URL, Enabled: true},
	}, dispatcher.WithAttempts(3))

	report := d.Dispatch(context.Background(), closedEvent())

	assert.Len(t, bad.Hits(), 3)
	assert.Len(t, good.Hits(), 1)
	require.Len(t, report.Results, 2)
	byTarget := map[string]model.DeliveryResult{}
	for _, r := range report.Results {
		byTarget[r.TargetID] = r
	}
	assert.False(t, byTarget["bad"].Success)
	assert.Equal(t, 3, byTarget["bad"].Attempts)
	assert.True(t, byTarget["good"].Success)
	assert.Equal(t, 1, byTarget["good"].Attempts)
}

func TestDispatch_BasicAuthOnlyWhenConfigured(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	d := newDispatcher([]model.Target{
		{ID: "anon", HookID: hooks.ReviewRequestClosed, Endpoint: ep.URL + "/anon", Enabled: true},
		{
			ID: "auth", HookID: hooks.ReviewRequestClosed, Endpoint: ep.URL + "/auth", Enabled: true,
			Credentials: &model.Credentials{Username: "hookbot", Password: "pw"},
		},
	})

	d.Dispatch(context.Background(), closedEvent())

	hits := ep.Hits()
	require.Len(t, hits, 2)
	var withAuth, without int
	for _, h := range hits {
		if h.auth {
			withAuth++
			assert.Equal(t, "hookbot", h.user)
		} else {
			without++
		}
	}
	assert.Equal(t, 1, withAuth)
	assert.Equal(t, 1, without)
}

func TestDispatch_LegacyFormTargets(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	d := newDispatcher([]model.Target{
		{ID: "form", HookID: hooks.ReviewRequestClosed, Endpoint: ep.URL, Enabled: true, Format: model.FormatForm},
	})

	d.Dispatch(context.Background(), closedEvent())

	hits := ep.Hits()
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].body, "payload=")
}

func TestDispatch_UnsupportedKindIsSkipped(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	d := newDispatcher([]model.Target{
		{ID: "pager", HookID: hooks.ReviewRequestClosed, Endpoint: ep.URL, Enabled: true, Kind: "pager"},
		{ID: "ok", HookID: hooks.ReviewRequestClosed, Endpoint: ep.URL, Enabled: true},
	})

	report := d.Dispatch(context.Background(), closedEvent())

	assert.Len(t, ep.Hits(), 1)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Succeeded())
}

func TestDispatch_AsyncEnqueuesTasks(t *testing.T) {
	q := queue.NewMemoryQueue(8)
	d := newDispatcher([]model.Target{
		{ID: "a", HookID: hooks.ReviewRequestClosed, Endpoint: "http://a.example.com", Enabled: true},
		{ID: "b", HookID: hooks.ReviewRequestClosed, Endpoint: "http://b.example.com", Enabled: true},
	}, dispatcher.WithQueue(q), dispatcher.WithAttempts(4))

	report := d.Dispatch(context.Background(), closedEvent())

	assert.Equal(t, dispatcher.ModeAsync, d.Mode())
	assert.Equal(t, 2, report.Enqueued)
	assert.Empty(t, report.Results)

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hooks.ReviewRequestClosed, task.HookID)
	assert.Equal(t, 4, task.MaxAttempts)
	assert.Equal(t, 4, task.AttemptsRemaining)
	assert.NotEmpty(t, task.ID)
	assert.JSONEq(t, `{"review_request_id": 42, "type": "submitted", "user": "alice"}`, string(task.Payload))
}

type failingQueue struct{ queue.Queue }

func (failingQueue) Enqueue(context.Context, *model.DeliveryTask) error {
	return errors.New("broker down")
}

func TestDispatch_EnqueueFailureIsContained(t *testing.T) {
	d := newDispatcher([]model.Target{
		{ID: "a", HookID: hooks.ReviewRequestClosed, Endpoint: "http://a.example.com", Enabled: true},
	}, dispatcher.WithQueue(failingQueue{}))

	var report dispatcher.Report
	require.NotPanics(t, func() { report = d.Dispatch(context.Background(), closedEvent()) })
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Enqueued)
}

type panickyEngine struct{}

func (panickyEngine) Deliver(context.Context, *model.DeliveryTask) model.DeliveryResult {
	panic("engine bug")
}

func TestNotify_NeverPanics(t *testing.T) {
	reg := registry.New(registry.NewMemoryStore(
		model.Target{ID: "a", HookID: hooks.ReviewRequestClosed, Endpoint: "http://a.example.com", Enabled: true},
	), hooks.Default(), quietLogger())
	d := dispatcher.New(reg, panickyEngine{}, dispatcher.WithLogger(quietLogger()))

	require.NotPanics(t, func() { d.Notify(context.Background(), closedEvent()) })
	require.NotPanics(t, func() { d.Notify(context.Background(), nil) })
}

func TestNotify_CanceledContextAbandonsDeliveries(t *testing.T) {
	ep := newEndpoint(t, http.StatusServiceUnavailable)
	d := newDispatcher([]model.Target{
		{ID: "a", HookID: hooks.ReviewRequestClosed, Endpoint: ep.URL, Enabled: true},
	}, dispatcher.WithAttempts(1000))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan dispatcher.Report, 1)
	go func() { done <- d.Dispatch(ctx, closedEvent()) }()

	select {
	case report := <-done:
		require.Len(t, report.Results, 1)
		assert.False(t, report.Results[0].Success)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}
}
