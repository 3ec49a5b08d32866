// Package registry resolves which notification targets are subscribed to
// a hook id. Targets are owned by an administrative store; the registry only
// reads them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
)

var ErrTargetNotFound = errors.New("registry: target not found")

// Store lists the targets registered for a hook id in insertion order,
// enabled or not.
type Store interface {
	ListTargets(ctx context.Context, hookID hooks.HookID) ([]model.Target, error)
}

// Writer is the administrative side of a store. The dispatcher never uses
// it; the CLI and config seeding do.
type Writer interface {
	// SaveTarget inserts t, or updates it in place when its ID exists.
	// An empty ID is replaced with a generated one.
	SaveTarget(ctx context.Context, t *model.Target) error
	DeleteTarget(ctx context.Context, id string) error
	AllTargets(ctx context.Context) ([]model.Target, error)
}

// ReadWriter is a store with both sides.
type ReadWriter interface {
	Store
	Writer
}

// Registry resolves hook ids to the enabled targets subscribed to them.
type Registry struct {
	store  Store
	vocab  *hooks.Vocabulary
	logger *slog.Logger
}

// New creates a Registry reading from store. Hook ids outside vocab never
// resolve to any target.
func New(store Store, vocab *hooks.Vocabulary, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, vocab: vocab, logger: logger}
}

// Resolve returns the enabled targets for hookID in store order. Unknown
// hooks and store failures yield an empty result.
func (r *Registry) Resolve(ctx context.Context, hookID hooks.HookID) []model.Target {
	if !r.vocab.Known(hookID) {
		r.logger.Debug("ignoring unknown hook", slog.String("hook_id", string(hookID)))
		return nil
	}

	all, err := r.store.ListTargets(ctx, hookID)
	if err != nil {
		r.logger.Error("failed to list targets",
			slog.String("hook_id", string(hookID)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	enabled := make([]model.Target, 0, len(all))
	for _, t := range all {
		if t.Enabled && t.HookID == hookID {
			enabled = append(enabled, t)
		}
	}
	return enabled
}

// Credentials returns the stored credentials of target id subscribed to
// hookID, enabled or not. Workers use it to restore credentials that are
// never written to a queue.
func (r *Registry) Credentials(ctx context.Context, hookID hooks.HookID, id string) (*model.Credentials, error) {
	all, err := r.store.ListTargets(ctx, hookID)
	if err != nil {
		return nil, fmt.Errorf("registry: listing targets for %s: %w", hookID, err)
	}
	for _, t := range all {
		if t.ID == id {
			return t.Credentials, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
}
