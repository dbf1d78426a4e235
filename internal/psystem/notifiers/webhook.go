package notifiers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/daniacca/membranedb/internal/psystem"
)

const (
	headerEnvironment = "X-Membranedb-Environment"
	headerStep        = "X-Membranedb-Step"
	headerHalted      = "X-Membranedb-Halted"
)

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) WebhookOption {
	return func(wn *WebhookNotifier) { wn.headers.Set(key, value) }
}

// WithHaltedOnly restricts delivery to steps that leave the system halted.
func WithHaltedOnly() WebhookOption {
	return func(wn *WebhookNotifier) { wn.haltedOnly = true }
}

// WithTimeout sets the per-request timeout. The default is 5s.
func WithTimeout(d time.Duration) WebhookOption {
	return func(wn *WebhookNotifier) {
		if d > 0 {
			wn.client.Timeout = d
		}
	}
}

// WebhookNotifier POSTs step events as JSON to a URL. Each request also
// carries the environment, step and halted flag as headers so receivers
// can route without decoding the body.
type WebhookNotifier struct {
	id         string
	url        string
	client     *http.Client
	headers    http.Header
	haltedOnly bool
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(id, url string, opts ...WebhookOption) *WebhookNotifier {
	wn := &WebhookNotifier{
		id:      id,
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(wn)
	}
	return wn
}

// SetHeader sets a custom header to include in webhook requests
func (wn *WebhookNotifier) SetHeader(key, value string) {
	wn.headers.Set(key, value)
}

func (wn *WebhookNotifier) ID() string   { return wn.id }
func (wn *WebhookNotifier) Type() string { return "webhook" }
func (wn *WebhookNotifier) URL() string  { return wn.url }

// HaltedOnly reports whether only halting steps are delivered.
func (wn *WebhookNotifier) HaltedOnly() bool { return wn.haltedOnly }

// Accepts reports whether the event is delivered by this notifier.
func (wn *WebhookNotifier) Accepts(event psystem.StepEvent) bool {
	return !wn.haltedOnly || event.Halted
}

func (wn *WebhookNotifier) newRequest(ctx context.Context, event psystem.StepEvent) (*http.Request, error) {
	body, err := event.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step %d: %w", event.Step, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range wn.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEnvironment, string(event.EnvironmentID))
	req.Header.Set(headerStep, strconv.Itoa(event.Step))
	req.Header.Set(headerHalted, strconv.FormatBool(event.Halted))
	return req, nil
}

// Notify posts the event. Events filtered out by WithHaltedOnly are
// dropped without error.
func (wn *WebhookNotifier) Notify(ctx context.Context, event psystem.StepEvent) error {
	if !wn.Accepts(event) {
		return nil
	}

	req, err := wn.newRequest(ctx, event)
	if err != nil {
		return err
	}

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: step %d: %w", wn.id, event.Step, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: step %d: status %d", wn.id, event.Step, resp.StatusCode)
	}
	return nil
}

// Close is a no-op for webhooks
func (wn *WebhookNotifier) Close() error {
	return nil
}
