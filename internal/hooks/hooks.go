// Package hooks defines the vocabulary of hook ids that notification
// targets subscribe to. Each id names a class of domain event and is
// registered together with a human-readable label.
package hooks

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrEmptyHook     = errors.New("hooks: empty hook id")
	ErrDuplicateHook = errors.New("hooks: hook already registered")
)

// HookID identifies a class of domain event, e.g. "review_request_published".
// The convention is to name each hook after the host signal it mirrors.
type HookID string

// Built-in hook ids.
const (
	ReviewRequestPublished HookID = "review_request_published"
	ReviewRequestClosed    HookID = "review_request_closed"
	ReviewRequestReopened  HookID = "review_request_reopened"
	ReviewPublished        HookID = "review_published"
	ReplyPublished         HookID = "reply_published"
)

// Hook pairs an id with its label.
type Hook struct {
	ID    HookID `json:"id"`
	Label string `json:"label"`
}

// Vocabulary is the set of recognized hook ids. It is safe for
// concurrent use.
type Vocabulary struct {
	mu     sync.RWMutex
	hooks  []Hook
	labels map[HookID]string
}

// NewVocabulary returns an empty vocabulary.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{labels: make(map[HookID]string)}
}

// Default returns a vocabulary holding the built-in review hooks.
func Default() *Vocabulary {
	v := NewVocabulary()
	for _, h := range []Hook{
		{ReviewRequestPublished, "Review Request published"},
		{ReviewRequestClosed, "Review Request closed"},
		{ReviewRequestReopened, "Review Request reopened"},
		{ReviewPublished, "Review published"},
		{ReplyPublished, "Reply published"},
	} {
		_ = v.Register(h.ID, h.Label)
	}
	return v
}

// Register adds a hook id and its label. When label is empty the id
// itself is used.
func (v *Vocabulary) Register(id HookID, label string) error {
	if id == "" {
		return ErrEmptyHook
	}
	if label == "" {
		label = string(id)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.labels[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHook, id)
	}
	v.labels[id] = label
	v.hooks = append(v.hooks, Hook{ID: id, Label: label})
	return nil
}

// Known reports whether id has been registered.
func (v *Vocabulary) Known(id HookID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.labels[id]
	return ok
}

// Label returns the label for id, or "" when unknown.
func (v *Vocabulary) Label(id HookID) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.labels[id]
}

// All returns the registered hooks in registration order.
func (v *Vocabulary) All() []Hook {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Hook, len(v.hooks))
	copy(out, v.hooks)
	return out
}
