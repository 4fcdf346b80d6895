// Package httpexec implements the HTTP executor (spec §4.5): outbound
// request construction, retry with fixed/exponential backoff, a
// per-node-id circuit breaker persisted in ExecutionContext.System, and
// auth header resolution.
//
// Grounded in original_source/engine.py's _http_request/_with_resilience/
// _request_from_node and the teacher's cmd/workflow-runner/worker/
// http_worker.go for the net/http call mechanics.
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lyzr/workflowengine/internal/httpexec/security"
)

// Config is a single node's resolved HTTP request configuration.
type Config struct {
	Method                  string
	URL                     string
	Headers                 map[string]string
	Body                    any
	TimeoutMs               int
	RetryAttempts           int
	Backoff                 string // "fixed" | "exponential" (default)
	CircuitFailureThreshold int
	CircuitOpenMs           int
}

// Response is the normalized shape stored as system.last_response.
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body"`
	DurationMs int64             `json:"duration_ms"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	// RawBody holds the undecoded response bytes so pagination can
	// extract cursor/items/has_more fields with gjson (spec §11.2)
	// without round-tripping the already-decoded Body back through
	// json.Marshal. Not serialized onto node_output/last_response.
	RawBody []byte `json:"-"`
}

// Executor performs outbound HTTP calls on behalf of start_request,
// form_request, and paginate_request nodes.
type Executor struct {
	client    *http.Client
	validator *security.URLValidator
}

// New builds an Executor. The underlying http.Client has no fixed timeout;
// each request is bounded by its own context deadline (config.TimeoutMs),
// matching the per-call timeout the reference engine's urllib call uses.
func New() *Executor {
	return &Executor{
		client:    &http.Client{},
		validator: security.NewURLValidator(),
	}
}

// WithPrivateNetworksAllowed toggles the SSRF guard's loopback/private-IP
// block, for engines deployed against internal-only upstreams (and for
// tests exercising the executor against an httptest.Server).
func (e *Executor) WithPrivateNetworksAllowed(allow bool) *Executor {
	e.validator.AllowPrivateNetworks = allow
	return e
}

// Do issues a single HTTP call with no retry/circuit-breaker wrapping;
// callers needing resilience call WithResilience around this.
func (e *Executor) Do(ctx context.Context, cfg Config) (*Response, error) {
	if err := e.validator.Validate(cfg.URL); err != nil {
		return nil, fmt.Errorf("request url rejected: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bodyReader, contentType, err := encodeBody(cfg.Body)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(reqCtx, method, cfg.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", "workflow-engine/1.0")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var parsedBody any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") && len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &parsedBody); err != nil {
			parsedBody = string(rawBody)
		}
	} else if len(rawBody) > 0 {
		parsedBody = string(rawBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       parsedBody,
		RawBody:    rawBody,
		DurationMs: duration.Milliseconds(),
		URL:        cfg.URL,
		Method:     method,
	}, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(v), "", nil
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

// IsFailureStatus matches the reference engine's ">= 500 counts as a
// resilience failure" rule.
func IsFailureStatus(status int) bool {
	return status >= 500
}
