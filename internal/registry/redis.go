package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
)

var _ ReadWriter = (*RedisStore)(nil)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "reviewhooks:"

// RedisStore keeps each target in a hash and preserves insertion order with
// one list per hook id plus a list of every target id.
//
// Keys:
//
//	{prefix}target:{id}    hash of target fields
//	{prefix}hook:{hookID}  list of target ids subscribed to the hook
//	{prefix}targets        list of all target ids
type RedisStore struct {
	client redis.Cmdable
	prefix string
	logger *slog.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisLogger sets the logger used for skipped entries.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(s *RedisStore) { s.logger = l }
}

// NewRedisStore creates a store on client. The caller owns the client.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultRedisPrefix, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) targetKey(id string) string { return s.prefix + "target:" + id }
func (s *RedisStore) hookKey(id hooks.HookID) string {
	return s.prefix + "hook:" + string(id)
}
func (s *RedisStore) allKey() string { return s.prefix + "targets" }

// Ping verifies the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) ListTargets(ctx context.Context, hookID hooks.HookID) ([]model.Target, error) {
	ids, err := s.client.LRange(ctx, s.hookKey(hookID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("registry/redis: list targets: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *RedisStore) AllTargets(ctx context.Context) ([]model.Target, error) {
	ids, err := s.client.LRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("registry/redis: all targets: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *RedisStore) load(ctx context.Context, ids []string) ([]model.Target, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.targetKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("registry/redis: load targets: %w", err)
	}

	targets := make([]model.Target, 0, len(ids))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			s.logger.Warn("dangling target id", slog.String("target_id", ids[i]))
			continue
		}
		targets = append(targets, mapToTarget(vals))
	}
	return targets, nil
}

func (s *RedisStore) SaveTarget(ctx context.Context, t *model.Target) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	key := s.targetKey(t.ID)

	prevHook, err := s.client.HGet(ctx, key, "hook_id").Result()
	exists := err == nil
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("registry/redis: save target: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, targetToMap(t))
	switch {
	case !exists:
		pipe.RPush(ctx, s.allKey(), t.ID)
		pipe.RPush(ctx, s.hookKey(t.HookID), t.ID)
	case hooks.HookID(prevHook) != t.HookID:
		pipe.LRem(ctx, s.hookKey(hooks.HookID(prevHook)), 0, t.ID)
		pipe.RPush(ctx, s.hookKey(t.HookID), t.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry/redis: save target: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteTarget(ctx context.Context, id string) error {
	key := s.targetKey(id)
	hookID, err := s.client.HGet(ctx, key, "hook_id").Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("registry/redis: delete target: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.LRem(ctx, s.hookKey(hooks.HookID(hookID)), 0, id)
	pipe.LRem(ctx, s.allKey(), 0, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry/redis: delete target: %w", err)
	}
	return nil
}

func targetToMap(t *model.Target) map[string]any {
	m := map[string]any{
		"id":          t.ID,
		"hook_id":     string(t.HookID),
		"endpoint":    t.Endpoint,
		"kind":        string(t.Kind),
		"format":      string(t.Format),
		"enabled":     boolString(t.Enabled),
		"description": t.Description,
	}
	if c := t.Credentials; c != nil {
		m["username"] = c.Username
		m["password"] = c.Password
		m["secret"] = c.Secret
	}
	return m
}

func mapToTarget(m map[string]string) model.Target {
	t := model.Target{
		ID:          m["id"],
		HookID:      hooks.HookID(m["hook_id"]),
		Endpoint:    m["endpoint"],
		Kind:        model.TargetKind(m["kind"]),
		Format:      model.BodyFormat(m["format"]),
		Enabled:     m["enabled"] == "1",
		Description: m["description"],
	}
	if m["username"] != "" || m["password"] != "" || m["secret"] != "" {
		t.Credentials = &model.Credentials{
			Username: m["username"],
			Password: m["password"],
			Secret:   m["secret"],
		}
	}
	return t
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
