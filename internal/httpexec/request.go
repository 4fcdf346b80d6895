package httpexec

import (
	"context"
	"fmt"

	"github.com/lyzr/workflowengine/internal/execctx"
	"github.com/lyzr/workflowengine/internal/expr"
)

// NodeRequest builds and executes a single HTTP node's request (the
// reference engine's _request_from_node): templates the URL/headers/body,
// resolves authRef, merges extra_query, and runs the call through
// WithResilience. On completion it sets system.last_response and
// system.last_response_node_id.
func (e *Executor) NodeRequest(ctx context.Context, nodeID string, config map[string]any, c *execctx.Context, defs AuthDefinitions, evaluator *expr.Evaluator, extraQuery map[string]string, urlOverride string) (*Response, error) {
	method, _ := config["method"].(string)
	if method == "" {
		method = "GET"
	}

	timeoutMs := intConfig(config, "timeoutMs", 10000)
	retryAttempts := intConfig(config, "retryAttempts", 0)
	backoff, _ := config["backoff"].(string)
	if backoff == "" {
		backoff = "exponential"
	}
	threshold := intConfig(config, "circuitFailureThreshold", 5)
	openMs := intConfig(config, "circuitOpenMs", 30000)

	rawURL := urlOverride
	if rawURL == "" {
		urlTemplate, _ := config["url"].(string)
		rendered, err := evaluator.RenderTemplate(urlTemplate, c)
		if err != nil {
			return nil, fmt.Errorf("render url template: %w", err)
		}
		rawURL, _ = rendered.(string)
		if rawURL == "" {
			return nil, fmt.Errorf("node %q resolved to an empty url", nodeID)
		}
	}

	if len(extraQuery) > 0 {
		merged, err := MergeQuery(rawURL, extraQuery)
		if err != nil {
			return nil, err
		}
		rawURL = merged
	}

	headers := map[string]string{}
	if rawHeaders, ok := config["headers"].(map[string]any); ok {
		for k, v := range rawHeaders {
			rendered, err := evaluator.RenderTemplate(v, c)
			if err != nil {
				return nil, fmt.Errorf("render header %q: %w", k, err)
			}
			if rendered == nil {
				headers[k] = "None" // matches the reference engine's str(None) header stringification
			} else {
				headers[k] = fmt.Sprintf("%v", rendered)
			}
		}
	}

	if authRef, _ := config["authRef"].(string); authRef != "" {
		authHeaders, err := AuthHeaders(authRef, defs, c, evaluator.Evaluate)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		for k, v := range authHeaders {
			headers[k] = v
		}
	}

	var body any
	if rawBody, ok := config["body"]; ok {
		rendered, err := evaluator.RenderTemplate(rawBody, c)
		if err != nil {
			return nil, fmt.Errorf("render body: %w", err)
		}
		body = rendered
	}

	reqCfg := Config{
		Method:                  method,
		URL:                     rawURL,
		Headers:                 headers,
		Body:                    body,
		TimeoutMs:               timeoutMs,
		RetryAttempts:           retryAttempts,
		Backoff:                 backoff,
		CircuitFailureThreshold: threshold,
		CircuitOpenMs:           openMs,
	}

	resp, err := WithResilience(c.System, nodeID, retryAttempts, backoff, threshold, openMs, func() (*Response, error) {
		return e.Do(ctx, reqCfg)
	})

	if resp != nil {
		c.System["last_response"] = resp
		c.System["last_response_node_id"] = nodeID
	}

	return resp, err
}

func intConfig(config map[string]any, key string, def int) int {
	v, ok := config[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return def
	}
}
