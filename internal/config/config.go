// Package config loads the process configuration from a YAML file and
// REVIEWHOOKS_* environment variables. A Config is built once at startup
// and passed down explicitly.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"reviewhooks/internal/backoff"
	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
	"reviewhooks/internal/payload"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REVIEWHOOKS_"

// DefaultFile is read when no path is given.
const DefaultFile = "reviewhooks.yaml"

// Config is the full process configuration.
type Config struct {
	ListenAddr  string             `yaml:"listen_addr"`
	Attempts    int                `yaml:"attempts"`
	Mode        string             `yaml:"mode"`
	Workers     int                `yaml:"workers"`
	HTTPTimeout time.Duration      `yaml:"http_timeout"`
	Backoff     BackoffConfig      `yaml:"backoff"`
	RateLimit   RateLimitConfig    `yaml:"rate_limit"`
	Credentials *model.Credentials `yaml:"credentials,omitempty"`
	Store       StoreConfig        `yaml:"store"`
	Queue       QueueConfig        `yaml:"queue"`
	Hooks       []HookConfig       `yaml:"hooks,omitempty"`
	Targets     []TargetConfig     `yaml:"targets,omitempty"`
	Slack       SlackConfig        `yaml:"slack"`
	CIA         CIAConfig          `yaml:"cia"`
	SiteURL     string             `yaml:"site_url"`
	Log         LogConfig          `yaml:"log"`
}

type BackoffConfig struct {
	Strategy string        `yaml:"strategy"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key,omitempty"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type StoreConfig struct {
	// Backend is memory, redis or postgres.
	Backend  string         `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type QueueConfig struct {
	// Backend is memory, redis or amqp. Only used in async mode.
	Backend string      `yaml:"backend"`
	Size    int         `yaml:"size"`
	Redis   RedisConfig `yaml:"redis"`
	AMQP    AMQPConfig  `yaml:"amqp"`
}

// HookConfig registers an extra hook id next to the built-in ones.
type HookConfig struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// TargetConfig declares a target inline. Inline targets are seeded into
// the store at startup.
type TargetConfig struct {
	ID          string             `yaml:"id"`
	Hook        string             `yaml:"hook"`
	Endpoint    string             `yaml:"endpoint"`
	Kind        string             `yaml:"kind"`
	Format      string             `yaml:"format"`
	Enabled     *bool              `yaml:"enabled"`
	Description string             `yaml:"description"`
	Credentials *model.Credentials `yaml:"credentials,omitempty"`
}

type SlackConfig struct {
	Username string `yaml:"username"`
	IconURL  string `yaml:"icon_url"`
	Channel  string `yaml:"channel"`
	Color    string `yaml:"color"`
}

// CIAConfig enables commit-style announcements to a CIA hub. When Server
// is set, XML-RPC targets are added for published review requests and
// reviews.
type CIAConfig struct {
	Project string `yaml:"project"`
	Module  string `yaml:"module"`
	Server  string `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file exists: one attempt,
// sync mode, in-memory store and queue.
func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		Attempts:    1,
		Mode:        "sync",
		Workers:     5,
		HTTPTimeout: 10 * time.Second,
		Backoff:     BackoffConfig{Strategy: "none"},
		Store:       StoreConfig{Backend: "memory"},
		Queue:       QueueConfig{Backend: "memory", Size: 1024},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over Default, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from REVIEWHOOKS_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	num("ATTEMPTS", &c.Attempts)
	str("MODE", &c.Mode)
	num("WORKERS", &c.Workers)
	dur("HTTP_TIMEOUT", &c.HTTPTimeout)
	str("BACKOFF", &c.Backoff.Strategy)
	str("SITE_URL", &c.SiteURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	str("STORE_BACKEND", &c.Store.Backend)
	str("STORE_REDIS_ADDR", &c.Store.Redis.Addr)
	str("STORE_REDIS_PASSWORD", &c.Store.Redis.Password)
	str("POSTGRES_DSN", &c.Store.Postgres.DSN)

	str("QUEUE_BACKEND", &c.Queue.Backend)
	str("QUEUE_REDIS_ADDR", &c.Queue.Redis.Addr)
	str("QUEUE_REDIS_PASSWORD", &c.Queue.Redis.Password)
	str("AMQP_URL", &c.Queue.AMQP.URL)
	str("CIA_SERVER", &c.CIA.Server)

	user, hasUser := lookup(EnvPrefix + "USERNAME")
	pass, hasPass := lookup(EnvPrefix + "PASSWORD")
	if hasUser || hasPass {
		if c.Credentials == nil {
			c.Credentials = &model.Credentials{}
		}
		if hasUser {
			c.Credentials.Username = user
		}
		if hasPass {
			c.Credentials.Password = pass
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate reports every problem found, wrapped in ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	if c.Attempts < 0 {
		errs = append(errs, fmt.Errorf("attempts must be >= 0, got %d", c.Attempts))
	}
	switch c.Mode {
	case "sync", "async":
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q (valid: sync, async)", c.Mode))
	}
	if c.Mode == "async" && c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1 in async mode, got %d", c.Workers))
	}
	if _, err := c.BackoffStrategy(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q (valid: memory, redis, postgres)", c.Store.Backend))
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	case "amqp":
		if c.Mode == "async" && c.Queue.AMQP.URL == "" {
			errs = append(errs, errors.New("queue.amqp.url is required for the amqp queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue backend %q (valid: memory, redis, amqp)", c.Queue.Backend))
	}
	if c.CIA.Server != "" {
		if u, err := url.Parse(c.CIA.Server); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("cia.server %q must be an absolute URL", c.CIA.Server))
		}
		if c.CIA.Project == "" {
			errs = append(errs, errors.New("cia.project is required when cia.server is set"))
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (valid: text, json)", c.Log.Format))
	}

	seen := map[string]bool{}
	for i, t := range c.Targets {
		where := fmt.Sprintf("targets[%d]", i)
		if t.ID != "" {
			if seen[t.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate id %q", where, t.ID))
			}
			seen[t.ID] = true
		}
		if t.Hook == "" {
			errs = append(errs, fmt.Errorf("%s: hook is required", where))
		}
		if u, err := url.Parse(t.Endpoint); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("%s: endpoint %q must be an absolute http(s) URL", where, t.Endpoint))
		}
		switch model.TargetKind(t.Kind) {
		case "", model.KindWebhook, model.KindSlack, model.KindXMLRPC:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown kind %q", where, t.Kind))
		}
		switch model.BodyFormat(t.Format) {
		case "", model.FormatJSON, model.FormatForm:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown format %q", where, t.Format))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// BackoffStrategy builds the configured retry delay strategy.
func (c Config) BackoffStrategy() (backoff.Strategy, error) {
	s, err := backoff.Parse(c.Backoff.Strategy, c.Backoff.Initial, c.Backoff.Max)
	if err != nil {
		return nil, fmt.Errorf("backoff: %w", err)
	}
	return s, nil
}

// Vocabulary returns the built-in hooks plus any configured ones.
func (c Config) Vocabulary() (*hooks.Vocabulary, error) {
	v := hooks.Default()
	for _, h := range c.Hooks {
		if err := v.Register(hooks.HookID(h.ID), h.Label); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return v, nil
}

// InlineTargets converts the configured targets. Targets without their own
// credentials inherit the default credentials; enabled defaults to true.
// A missing id is derived from hook and endpoint so reseeding a persistent
// store updates the same target.
func (c Config) InlineTargets() []model.Target {
	out := make([]model.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		enabled := true
		if t.Enabled != nil {
			enabled = *t.Enabled
		}
		creds := t.Credentials
		if creds == nil && c.Credentials != nil {
			cp := *c.Credentials
			creds = &cp
		}
		id := t.ID
		if id == "" {
			id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(t.Hook+" "+t.Endpoint)).String()
		}
		out = append(out, model.Target{
			ID:          id,
			HookID:      hooks.HookID(t.Hook),
			Endpoint:    t.Endpoint,
			Kind:        model.TargetKind(t.Kind),
			Format:      model.BodyFormat(t.Format),
			Enabled:     enabled,
			Description: t.Description,
			Credentials: creds,
		})
	}
	if c.CIA.Server != "" {
		for _, h := range []hooks.HookID{hooks.ReviewRequestPublished, hooks.ReviewPublished} {
			out = append(out, model.Target{
				ID:          "cia-" + string(h),
				HookID:      h,
				Endpoint:    c.CIA.Server,
				Kind:        model.KindXMLRPC,
				Enabled:     true,
				Description: "CIA hub",
			})
		}
	}
	return out
}

// Renderer returns the payload renderer options for Slack and CIA bodies.
func (c Config) Renderer() payload.Renderer {
	return payload.Renderer{
		Slack: payload.SlackOptions{
			Username: c.Slack.Username,
			IconURL:  c.Slack.IconURL,
			Channel:  c.Slack.Channel,
			Color:    c.Slack.Color,
			SiteURL:  c.SiteURL,
		},
		CIA: payload.CIAOptions{
			Project: c.CIA.Project,
			Module:  c.CIA.Module,
		},
	}
}
