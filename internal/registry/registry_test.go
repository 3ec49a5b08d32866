package registry_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
	"reviewhooks/internal/registry"
)

type failingStore struct{}

func (failingStore) ListTargets(context.Context, hooks.HookID) ([]model.Target, error) {
	return nil, errors.New("connection refused")
}

func TestResolve_FiltersDisabledAndKeepsOrder(t *testing.T) {
	store := registry.NewMemoryStore(
		model.Target{ID: "a", HookID: hooks.ReviewRequestClosed, Endpoint: "http://a", Enabled: true},
		model.Target{ID: "b", HookID: hooks.ReviewRequestClosed, Endpoint: "http://b", Enabled: false},
		model.Target{ID: "c", HookID: hooks.ReviewPublished, Endpoint: "http://c", Enabled: true},
		model.Target{ID: "d", HookID: hooks.ReviewRequestClosed, Endpoint: "http://d", Enabled: true},
	)
	reg := registry.New(store, hooks.Default(), slog.Default())

	got := reg.Resolve(context.Background(), hooks.ReviewRequestClosed)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "d", got[1].ID)
}

func TestResolve_UnmatchedHookIsEmpty(t *testing.T) {
	store := registry.NewMemoryStore(
		model.Target{HookID: hooks.ReviewPublished, Endpoint: "http://c", Enabled: true},
	)
	reg := registry.New(store, hooks.Default(), nil)

	assert.Empty(t, reg.Resolve(context.Background(), hooks.ReplyPublished))
	assert.Empty(t, reg.Resolve(context.Background(), "not_a_hook"))
}

func TestResolve_StoreErrorIsEmpty(t *testing.T) {
	reg := registry.New(failingStore{}, hooks.Default(), nil)
	assert.Empty(t, reg.Resolve(context.Background(), hooks.ReviewPublished))
}

func TestCredentials_LooksUpByTarget(t *testing.T) {
	creds := &model.Credentials{Username: "rb", Password: "pw"}
	store := registry.NewMemoryStore(
		model.Target{ID: "a", HookID: hooks.ReviewPublished, Endpoint: "http://a", Enabled: false, Credentials: creds},
		model.Target{ID: "b", HookID: hooks.ReviewPublished, Endpoint: "http://b", Enabled: true},
	)
	reg := registry.New(store, hooks.Default(), nil)
	ctx := context.Background()

	got, err := reg.Credentials(ctx, hooks.ReviewPublished, "a")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	got, err = reg.Credentials(ctx, hooks.ReviewPublished, "b")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = reg.Credentials(ctx, hooks.ReviewPublished, "gone")
	assert.ErrorIs(t, err, registry.ErrTargetNotFound)

	_, err = registry.New(failingStore{}, hooks.Default(), nil).Credentials(ctx, hooks.ReviewPublished, "a")
	assert.Error(t, err)
}

func TestMemoryStore_Contract(t *testing.T) {
	testStoreContract(t, registry.NewMemoryStore())
}

// testStoreContract exercises the read and write side of a store.
func testStoreContract(t *testing.T, s registry.ReadWriter) {
	t.Helper()
	ctx := context.Background()

	first := &model.Target{HookID: hooks.ReviewRequestPublished, Endpoint: "http://one", Enabled: true}
	second := &model.Target{
		HookID:      hooks.ReviewRequestPublished,
		Endpoint:    "http://two",
		Kind:        model.KindSlack,
		Description: "chat",
		Credentials: &model.Credentials{Username: "u", Password: "p"},
	}
	other := &model.Target{HookID: hooks.ReviewPublished, Endpoint: "http://three", Enabled: true}

	for _, tgt := range []*model.Target{first, second, other} {
		require.NoError(t, s.SaveTarget(ctx, tgt))
		require.NotEmpty(t, tgt.ID)
	}

	got, err := s.ListTargets(ctx, hooks.ReviewRequestPublished)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, *second, got[1])

	// Updating in place keeps the insertion position.
	first.Enabled = false
	require.NoError(t, s.SaveTarget(ctx, first))
	got, err = s.ListTargets(ctx, hooks.ReviewRequestPublished)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.False(t, got[0].Enabled)

	// Moving a target to another hook.
	second.HookID = hooks.ReviewPublished
	require.NoError(t, s.SaveTarget(ctx, second))
	got, err = s.ListTargets(ctx, hooks.ReviewPublished)
	require.NoError(t, err)
	require.Len(t, got, 2)

	all, err := s.AllTargets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID)

	require.NoError(t, s.DeleteTarget(ctx, other.ID))
	assert.ErrorIs(t, s.DeleteTarget(ctx, other.ID), registry.ErrTargetNotFound)

	all, err = s.AllTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
