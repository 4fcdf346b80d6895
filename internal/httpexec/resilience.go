package httpexec

import (
	"fmt"
	"math"
	"time"
)

// circuitState is the per-node-id breaker state stored at
// context.System["circuit_breakers"][node_id] (spec §4.5/§9).
type circuitState struct {
	Failures    int   `json:"failures"`
	OpenUntilMs int64 `json:"open_until_ms"`
}

// CircuitOpenError is returned when a node's breaker is currently open.
type CircuitOpenError struct {
	NodeID      string
	OpenUntilMs int64
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for node %q until %d", e.NodeID, e.OpenUntilMs)
}

func nowMs() int64 { return time.Now().UnixMilli() }

func circuitBreakers(system map[string]any) map[string]any {
	cb, ok := system["circuit_breakers"].(map[string]any)
	if !ok {
		cb = map[string]any{}
		system["circuit_breakers"] = cb
	}
	return cb
}

func loadState(cb map[string]any, nodeID string) *circuitState {
	raw, ok := cb[nodeID].(map[string]any)
	if !ok {
		return &circuitState{}
	}
	s := &circuitState{}
	switch f := raw["failures"].(type) {
	case float64:
		s.Failures = int(f)
	case int:
		s.Failures = f
	}
	switch o := raw["open_until_ms"].(type) {
	case float64:
		s.OpenUntilMs = int64(o)
	case int64:
		s.OpenUntilMs = o
	}
	return s
}

func storeState(cb map[string]any, nodeID string, s *circuitState) {
	cb[nodeID] = map[string]any{
		"failures":      s.Failures,
		"open_until_ms": s.OpenUntilMs,
	}
}

// backoffDuration reproduces the reference engine's sleep schedule: 0.2s
// fixed, or 0.2*2^(attempt-1)s exponential, capped at 2.5s.
func backoffDuration(backoff string, attempt int) time.Duration {
	var seconds float64
	if backoff == "fixed" {
		seconds = 0.2
	} else {
		seconds = 0.2 * math.Pow(2, float64(attempt-1))
	}
	if seconds > 2.5 {
		seconds = 2.5
	}
	return time.Duration(seconds * float64(time.Second))
}

// WithResilience wraps fn (a single HTTP attempt) with the per-node-id
// circuit breaker and retry/backoff loop described in spec §4.5: an open
// breaker fails fast; otherwise fn runs up to retryAttempts+1 times,
// sleeping between attempts (not after the last), resetting the breaker on
// success and tripping it once failures reach threshold.
func WithResilience(system map[string]any, nodeID string, retryAttempts int, backoff string, threshold int, openMs int, fn func() (*Response, error)) (*Response, error) {
	cb := circuitBreakers(system)
	state := loadState(cb, nodeID)

	if state.OpenUntilMs > nowMs() {
		return nil, &CircuitOpenError{NodeID: nodeID, OpenUntilMs: state.OpenUntilMs}
	}

	if retryAttempts < 0 {
		retryAttempts = 0
	}
	attemptsTotal := retryAttempts + 1

	var lastErr error
	for attempt := 1; attempt <= attemptsTotal; attempt++ {
		resp, err := fn()
		if err == nil && resp != nil && IsFailureStatus(resp.StatusCode) {
			err = fmt.Errorf("upstream returned status %d", resp.StatusCode)
		}

		if err == nil {
			state.Failures = 0
			state.OpenUntilMs = 0
			storeState(cb, nodeID, state)
			return resp, nil
		}

		lastErr = err
		state.Failures++
		if threshold > 0 && state.Failures >= threshold {
			open := int64(openMs)
			if open < 100 {
				open = 100
			}
			state.OpenUntilMs = nowMs() + open
		}
		storeState(cb, nodeID, state)

		if attempt < attemptsTotal {
			time.Sleep(backoffDuration(backoff, attempt))
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("request failed")
	}
	return nil, lastErr
}
