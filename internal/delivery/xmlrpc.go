package delivery

import (
	"context"
	"net/http"
	"time"

	"github.com/kolo/xmlrpc"

	"reviewhooks/internal/model"
)

// DefaultXMLRPCMethod is the remote method CIA hubs expose.
const DefaultXMLRPCMethod = "hub.deliver"

// XMLRPCTransport calls a remote XML-RPC method with the payload as its
// single string argument.
type XMLRPCTransport struct {
	base    http.RoundTripper
	method  string
	timeout time.Duration
}

// NewXMLRPCTransport creates a transport on base. A nil base uses
// http.DefaultTransport. Each call is bounded by timeout; zero disables
// the bound.
func NewXMLRPCTransport(base http.RoundTripper, timeout time.Duration) *XMLRPCTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &XMLRPCTransport{base: base, method: DefaultXMLRPCMethod, timeout: timeout}
}

// WithMethod returns a copy calling method instead of hub.deliver.
func (t *XMLRPCTransport) WithMethod(method string) *XMLRPCTransport {
	c := *t
	c.method = method
	return &c
}

func (t *XMLRPCTransport) Send(ctx context.Context, task *model.DeliveryTask) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	client, err := xmlrpc.NewClient(task.Target.Endpoint, &requestDecorator{
		base:  t.base,
		ctx:   ctx,
		creds: task.Target.Credentials,
	})
	if err != nil {
		return model.NewError(model.ErrConfiguration, err)
	}
	defer client.Close()

	var reply any
	if err := client.Call(t.method, string(task.Payload), &reply); err != nil {
		return model.NewError(model.ErrTransport, err)
	}
	return nil
}

// requestDecorator binds outgoing XML-RPC requests to the delivery context
// and adds basic auth when the target has credentials.
type requestDecorator struct {
	base  http.RoundTripper
	ctx   context.Context
	creds *model.Credentials
}

func (d *requestDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(d.ctx)
	req.Header.Set("User-Agent", UserAgent)
	if d.creds.HasBasicAuth() {
		req.SetBasicAuth(d.creds.Username, d.creds.Password)
	}
	return d.base.RoundTrip(req)
}
