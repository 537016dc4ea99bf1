package tool

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// IdempotencyHeader carries the request fingerprint so a retried call can
// be deduplicated server-side.
const IdempotencyHeader = "Idempotency-Key"

// HTTPTool invokes a JSON-over-HTTP endpoint. Input is validated against
// the input schema before the request, output against the output schema
// after. Retried invocations of identical input carry the same
// idempotency key.
type HTTPTool struct {
	name     string
	endpoint string
	method   string
	client   *http.Client
	input    *Schema
	output   *Schema
	headers  map[string]string
}

// HTTPOption configures an HTTPTool.
type HTTPOption func(*HTTPTool)

// WithClient overrides the HTTP client (the default has a 30s timeout).
func WithClient(c *http.Client) HTTPOption {
	return func(t *HTTPTool) { t.client = c }
}

// WithMethod overrides the HTTP method (default POST).
func WithMethod(m string) HTTPOption {
	return func(t *HTTPTool) { t.method = m }
}

// WithInputSchema validates arguments before each call.
func WithInputSchema(s *Schema) HTTPOption {
	return func(t *HTTPTool) { t.input = s }
}

// WithOutputSchema validates responses after each call.
func WithOutputSchema(s *Schema) HTTPOption {
	return func(t *HTTPTool) { t.output = s }
}

// WithHeader adds a static request header, e.g. an authorization token.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTool) { t.headers[key] = value }
}

// NewHTTPTool creates a tool calling the endpoint.
func NewHTTPTool(name, endpoint string, opts ...HTTPOption) *HTTPTool {
	t := &HTTPTool{
		name:     name,
		endpoint: endpoint,
		method:   http.MethodPost,
		client:   &http.Client{Timeout: 30 * time.Second},
		headers:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements Tool.
func (t *HTTPTool) Name() string { return t.name }

// Invoke implements Tool.
func (t *HTTPTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	if t.input != nil {
		if err := t.input.Validate(input); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, t.method, t.endpoint, bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("tool %s: build request: %w", t.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, idempotencyKey(t.name, input))
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", t.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("tool %s: read response: %w", t.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool %s: endpoint returned %d: %s", t.name, resp.StatusCode, truncate(body, 256))
	}
	if t.output != nil {
		if err := t.output.Validate(body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
	}
	return body, nil
}

// idempotencyKey fingerprints a call so retries are deduplicable: same
// tool plus same input yields the same key.
func idempotencyKey(name string, input []byte) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
