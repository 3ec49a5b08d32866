// Package handler exposes the dispatcher over HTTP so a host application
// can fire events without linking the Go API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"reviewhooks/internal/dispatcher"
	"reviewhooks/internal/event"
	"reviewhooks/internal/hooks"
)

// maxEventSize caps inbound event bodies.
const maxEventSize = 1 << 20

// NotifyHandler accepts events on POST /events/{hookID} and hands them to
// a Sink.
type NotifyHandler struct {
	sink   dispatcher.Sink
	vocab  *hooks.Vocabulary
	logger *slog.Logger
	base   context.Context
}

// Option configures a NotifyHandler.
type Option func(*NotifyHandler)

// WithDeliveryContext runs deliveries under ctx instead of the request
// context, so they survive the response but stop on shutdown.
func WithDeliveryContext(ctx context.Context) Option {
	return func(h *NotifyHandler) { h.base = ctx }
}

func NewNotifyHandler(sink dispatcher.Sink, vocab *hooks.Vocabulary, logger *slog.Logger, opts ...Option) *NotifyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &NotifyHandler{sink: sink, vocab: vocab, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a mux with the event, hook listing and health routes.
func (h *NotifyHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/events/{hookID}", h)
	mux.HandleFunc("GET /hooks", h.listHooks)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}

func (h *NotifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	hookID := hooks.HookID(r.PathValue("hookID"))
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	ev, err := event.Decode(h.vocab, hookID, body)
	switch {
	case errors.Is(err, event.ErrUnknownHook):
		writeError(w, http.StatusNotFound, "unknown hook "+string(hookID))
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := h.base
	if ctx == nil {
		ctx = context.WithoutCancel(r.Context())
	}
	h.sink.Notify(ctx, ev)

	h.logger.Debug("event accepted", slog.String("hook_id", string(hookID)))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"hook_id": string(hookID),
	})
}

type hookView struct {
	ID    hooks.HookID `json:"id"`
	Label string       `json:"label"`
}

func (h *NotifyHandler) listHooks(w http.ResponseWriter, _ *http.Request) {
	all := h.vocab.All()
	out := make([]hookView, 0, len(all))
	for _, hk := range all {
		out = append(out, hookView{ID: hk.ID, Label: hk.Label})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
