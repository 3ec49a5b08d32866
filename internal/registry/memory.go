package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
)

var _ ReadWriter = (*MemoryStore)(nil)

// MemoryStore keeps targets in process memory, in insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	targets []model.Target
}

// NewMemoryStore creates a store seeded with targets. Seed targets without
// an ID get a generated one.
func NewMemoryStore(targets ...model.Target) *MemoryStore {
	s := &MemoryStore{}
	for i := range targets {
		t := targets[i]
		_ = s.SaveTarget(context.Background(), &t)
	}
	return s
}

func (s *MemoryStore) ListTargets(_ context.Context, hookID hooks.HookID) ([]model.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Target
	for _, t := range s.targets {
		if t.HookID == hookID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveTarget(_ context.Context, t *model.Target) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.targets {
		if s.targets[i].ID == t.ID {
			s.targets[i] = *t
			return nil
		}
	}
	s.targets = append(s.targets, *t)
	return nil
}

func (s *MemoryStore) DeleteTarget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.targets {
		if s.targets[i].ID == id {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTargetNotFound, id)
}

func (s *MemoryStore) AllTargets(_ context.Context) ([]model.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Target, len(s.targets))
	copy(out, s.targets)
	return out, nil
}
