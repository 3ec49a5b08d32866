package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"reviewhooks/internal/model"
)

// Headers set on outbound webhook requests.
const (
	EventHeader     = "X-ReviewBoard-Event"
	DeliveryHeader  = "X-ReviewBoard-Delivery"
	SignatureHeader = "X-ReviewBoard-Signature"
	UserAgent       = "reviewhooks/1.0"
)

// HTTPTransport POSTs the task payload to the target endpoint.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport using client. A nil client gets
// DefaultTimeout.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPTransport{client: client}
}

// Send performs one POST. Any non-2xx response is a transport error.
func (t *HTTPTransport) Send(ctx context.Context, task *model.DeliveryTask) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.Target.Endpoint, bytes.NewReader(task.Payload))
	if err != nil {
		return model.NewError(model.ErrConfiguration, err)
	}

	if task.ContentType != "" {
		req.Header.Set("Content-Type", task.ContentType)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(EventHeader, string(task.HookID))
	if task.ID != "" {
		req.Header.Set(DeliveryHeader, task.ID)
	}
	if c := task.Target.Credentials; c != nil {
		if c.HasBasicAuth() {
			req.SetBasicAuth(c.Username, c.Password)
		}
		if c.Secret != "" {
			req.Header.Set(SignatureHeader, "sha256="+Sign(c.Secret, task.Payload))
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return model.NewError(model.ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &model.DeliveryError{
			Kind:       model.ErrTransport,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response %s", resp.Status),
		}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
