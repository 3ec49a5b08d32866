package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"reviewhooks/internal/config"
	"reviewhooks/internal/delivery"
	"reviewhooks/internal/dispatcher"
	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
	"reviewhooks/internal/queue"
	"reviewhooks/internal/registry"
)

// app holds everything built from one Config. close releases it in
// reverse order of construction.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	vocab   *hooks.Vocabulary
	store   registry.ReadWriter
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: newLogger(cfg.Log, logOut)}

	vocab, err := cfg.Vocabulary()
	if err != nil {
		return nil, err
	}
	a.vocab = vocab

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.seedTargets(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case "redis":
		client := newRedisClient(a.cfg.Store.Redis)
		a.closers = append(a.closers, client.Close)
		s := registry.NewRedisStore(client, registry.WithRedisLogger(a.logger))
		if err := s.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to redis store at %s: %w", a.cfg.Store.Redis.Addr, err)
		}
		a.store = s
	case "postgres":
		db, err := registry.OpenPostgres(a.cfg.Store.Postgres.DSN)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		s := registry.NewGormStore(db)
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		a.store = s
	default:
		a.store = registry.NewMemoryStore()
	}
	return nil
}

// seedTargets saves the inline targets. Existing targets with the same id
// are overwritten so the config file stays authoritative for them.
func (a *app) seedTargets(ctx context.Context) error {
	for _, t := range a.cfg.InlineTargets() {
		if !a.vocab.Known(t.HookID) {
			a.logger.Warn("target subscribes to an unknown hook",
				slog.String("target_id", t.ID),
				slog.String("hook_id", string(t.HookID)),
			)
		}
		if err := a.store.SaveTarget(ctx, &t); err != nil {
			return fmt.Errorf("seeding target %s: %w", t.ID, err)
		}
	}
	return nil
}

func (a *app) registry() *registry.Registry {
	return registry.New(a.store, a.vocab, a.logger)
}

func (a *app) engine() (*delivery.Engine, error) {
	strategy, err := a.cfg.BackoffStrategy()
	if err != nil {
		return nil, err
	}
	httpTransport := delivery.NewHTTPTransport(&http.Client{Timeout: a.cfg.HTTPTimeout})
	return delivery.NewEngine(
		delivery.WithTransport(model.KindWebhook, httpTransport),
		delivery.WithTransport(model.KindSlack, httpTransport),
		delivery.WithTransport(model.KindXMLRPC, delivery.NewXMLRPCTransport(nil, a.cfg.HTTPTimeout)),
		delivery.WithBackoff(strategy),
		delivery.WithRateLimit(a.cfg.RateLimit.PerSecond, a.cfg.RateLimit.Burst),
		delivery.WithMiddleware(delivery.Tracing(), delivery.Metrics()),
		delivery.WithLogger(a.logger),
	), nil
}

func (a *app) openQueue(ctx context.Context) (queue.Queue, error) {
	var q queue.Queue
	switch a.cfg.Queue.Backend {
	case "redis":
		client := newRedisClient(a.cfg.Queue.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis queue at %s: %w", a.cfg.Queue.Redis.Addr, err)
		}
		a.closers = append(a.closers, client.Close)
		q = queue.NewRedisQueue(client, a.cfg.Queue.Redis.Key, queue.WithLogger(a.logger))
	case "amqp":
		aq, err := queue.DialAMQP(a.cfg.Queue.AMQP.URL, a.cfg.Queue.AMQP.Queue, a.logger)
		if err != nil {
			return nil, err
		}
		q = aq
	default:
		q = queue.NewMemoryQueue(a.cfg.Queue.Size)
	}
	a.closers = append(a.closers, q.Close)
	return q, nil
}

func (a *app) dispatcher(engine dispatcher.Deliverer, q queue.Queue) *dispatcher.Dispatcher {
	opts := []dispatcher.Option{
		dispatcher.WithAttempts(a.cfg.Attempts),
		dispatcher.WithRenderer(a.cfg.Renderer()),
		dispatcher.WithLogger(a.logger),
	}
	if q != nil {
		opts = append(opts, dispatcher.WithQueue(q))
	}
	return dispatcher.New(a.registry(), engine, opts...)
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
	})
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
