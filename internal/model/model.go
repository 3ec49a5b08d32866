package model

import (
	"fmt"
	"time"

	"reviewhooks/internal/hooks"
)

// TargetKind selects the outbound integration used for a target.
type TargetKind string

const (
	KindWebhook TargetKind = "webhook"
	KindSlack   TargetKind = "slack"
	KindXMLRPC  TargetKind = "xmlrpc"
)

// BodyFormat selects how a webhook payload is put on the wire.
type BodyFormat string

const (
	FormatJSON BodyFormat = "json"
	// FormatForm wraps the JSON document in a form-encoded "payload" field.
	FormatForm BodyFormat = "form"
)

// Credentials authenticate outbound calls to a target.
type Credentials struct {
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password"`
	// Secret signs webhook bodies with HMAC-SHA256.
	Secret string `json:"secret,omitempty" yaml:"secret"`
}

// HasBasicAuth reports whether a username is configured.
func (c *Credentials) HasBasicAuth() bool {
	return c != nil && c.Username != ""
}

// Target is an administrator-configured endpoint notified for one hook id.
type Target struct {
	ID          string       `json:"id"`
	HookID      hooks.HookID `json:"hook_id"`
	Endpoint    string       `json:"endpoint"`
	Kind        TargetKind   `json:"kind,omitempty"`
	Format      BodyFormat   `json:"format,omitempty"`
	Enabled     bool         `json:"enabled"`
	Description string       `json:"description,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// EffectiveKind returns the target kind, defaulting to webhook.
func (t Target) EffectiveKind() TargetKind {
	if t.Kind == "" {
		return KindWebhook
	}
	return t.Kind
}

// EffectiveFormat returns the body format, defaulting to JSON.
func (t Target) EffectiveFormat() BodyFormat {
	if t.Format == "" {
		return FormatJSON
	}
	return t.Format
}

// DeliveryState is the transient state of one delivery task.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateSucceeded DeliveryState = "succeeded"
	StateExhausted DeliveryState = "exhausted"
	// StateAbandoned marks a task whose context ended before it finished.
	StateAbandoned DeliveryState = "abandoned"
)

// DeliveryTask carries one serialized payload to one target together with
// its retry budget. Tasks are JSON-encoded when they travel through a queue.
type DeliveryTask struct {
	ID                string        `json:"id"`
	HookID            hooks.HookID  `json:"hook_id"`
	Target            Target        `json:"target"`
	Payload           []byte        `json:"payload"`
	ContentType       string        `json:"content_type"`
	MaxAttempts       int           `json:"max_attempts"`
	AttemptsRemaining int           `json:"attempts_remaining"`
	State             DeliveryState `json:"state"`
	LastError         string        `json:"last_error,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Attempt returns the 1-indexed number of the attempt about to run.
func (t *DeliveryTask) Attempt() int {
	return t.MaxAttempts - t.AttemptsRemaining + 1
}

// ErrorKind classifies delivery failures.
type ErrorKind string

const (
	ErrTransport     ErrorKind = "transport"
	ErrConfiguration ErrorKind = "configuration"
	ErrSerialization ErrorKind = "serialization"
	ErrCanceled      ErrorKind = "canceled"
)

// DeliveryError is a classified delivery failure.
type DeliveryError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error: status %d: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NewError builds a DeliveryError of the given kind.
func NewError(kind ErrorKind, err error) *DeliveryError {
	return &DeliveryError{Kind: kind, Err: err}
}

// DeliveryResult is the outcome of delivering one task.
type DeliveryResult struct {
	TaskID    string
	TargetID  string
	Endpoint  string
	Success   bool
	Attempts  int
	LastError *DeliveryError
}
