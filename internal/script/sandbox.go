// Package script hosts the sandboxed scripted-node runtime for
// python_request/start_python nodes (spec §4.10). The reference
// implementation hosts actual Python via a restricted exec() namespace; a
// Go engine has no embedded Python, so this package hosts the equivalent
// contract (one named function, JSON in/out, no I/O, no host access,
// bounded execution time) with github.com/dop251/goja, a pure-Go
// ECMAScript VM, the way the gorax example repo embeds it for sandboxed
// rule evaluation. Node authors write the function body in JavaScript
// instead of Python; the contract (a function receiving the serialized
// context and returning a JSON-compatible value) is unchanged.
package script

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// DefaultTimeout bounds a single scripted-node invocation.
const DefaultTimeout = 5 * time.Second

// ErrBlank is returned when a node's script body is empty.
var ErrBlank = fmt.Errorf("script is blank")

// Run compiles and executes code in a fresh, sandboxed goja VM, invoking
// functionName with the serialized context as its single argument, and
// returns the function's JSON-compatible return value.
func Run(code, functionName string, contextJSON map[string]any) (any, error) {
	if code == "" {
		return nil, ErrBlank
	}
	if functionName == "" {
		functionName = "run"
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	done := make(chan struct{})
	timer := time.AfterFunc(DefaultTimeout, func() {
		vm.Interrupt("script exceeded execution time limit")
	})
	defer func() {
		timer.Stop()
		close(done)
	}()

	if _, err := vm.RunString(code); err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}

	fnValue := vm.Get(functionName)
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, fmt.Errorf("script does not define a callable %q", functionName)
	}

	argValue := vm.ToValue(contextJSON)
	result, err := fn(goja.Undefined(), argValue)
	if err != nil {
		return nil, fmt.Errorf("execute script: %w", err)
	}

	exported := result.Export()
	return roundTripJSON(exported)
}

// roundTripJSON forces the goja-exported value through a JSON marshal/
// unmarshal cycle so the returned value is plain Go JSON types
// (map[string]any/[]any/float64/string/bool/nil), matching what the
// dispatcher expects from a node's output.
func roundTripJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal script result: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("unmarshal script result: %w", err)
	}
	return out, nil
}
