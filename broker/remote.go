package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/ragmesh/core"
)

// Transport delivers messages to agents living behind a network address.
// Delivery is at-most-once: a transport error means the message may or may
// not have been processed, and the broker does not retry.
type Transport interface {
	Send(ctx context.Context, address string, msg core.Message) error
}

// HTTPTransportOptions configures an HTTPTransport.
type HTTPTransportOptions struct {
	// Client used for outbound requests.
	Client *http.Client
	// Timeout bounds a single delivery when Client has none.
	Timeout time.Duration
}

// HTTPTransport posts messages in their wire JSON shape to
// <address>/messages. It makes no delivery guarantee beyond the HTTP
// response: a 2xx status means the remote accepted the message, nothing
// more.
type HTTPTransport struct {
	client *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport constructs an HTTPTransport with optional overrides.
func NewHTTPTransport(optFns ...func(o *HTTPTransportOptions)) *HTTPTransport {
	opts := HTTPTransportOptions{
		Timeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPTransport{client: client}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, address string, msg core.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote delivery failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote agent returned status %d", resp.StatusCode)
	}
	return nil
}
