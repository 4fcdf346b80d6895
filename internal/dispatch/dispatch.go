// Package dispatch implements the per-node-type execution switch (spec
// §4.7), grounded line-for-line in original_source/engine.py's
// _execute_node.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lyzr/workflowengine/internal/execctx"
	"github.com/lyzr/workflowengine/internal/expr"
	"github.com/lyzr/workflowengine/internal/graph"
	"github.com/lyzr/workflowengine/internal/httpexec"
	"github.com/lyzr/workflowengine/internal/script"
)

// InvokeFunc runs a sub-workflow to completion and returns the
// invoke_workflow node's output (child_execution_id/child_workflow_version_id/
// child_final_context). Implemented by internal/engine to avoid an
// import cycle (engine depends on dispatch, not vice versa).
type InvokeFunc func(ctx context.Context, node *graph.Node, c *execctx.Context, callDepth int, correlationID string) (map[string]any, error)

// SaveOutputFunc persists a `save` node's key/value pair.
type SaveOutputFunc func(ctx context.Context, key string, value any) error

// Dispatcher executes a single node against a Context.
type Dispatcher struct {
	Evaluator  *expr.Evaluator
	HTTP       *httpexec.Executor
	AuthDefs   httpexec.AuthDefinitions
	Invoke     InvokeFunc
	SaveOutput SaveOutputFunc
}

// Execute runs node against c and returns its node_output payload (spec
// §4.7). Any returned error propagates to the run loop as a NODE_FAILED
// event, matching the reference engine's exception-bubbles-up contract.
func (d *Dispatcher) Execute(ctx context.Context, node *graph.Node, c *execctx.Context, callDepth int, correlationID string) (map[string]any, error) {
	switch node.NodeType {
	case graph.NodeAuth, graph.NodeParameters, graph.NodeStart:
		return map[string]any{"node_type": string(node.NodeType)}, nil

	case graph.NodeDelay:
		ms := intConfig(node.Config, "ms", 0)
		if ms < 0 {
			ms = 0
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return map[string]any{"slept_ms": ms}, nil

	case graph.NodeDefineVariable:
		return d.executeDefineVariable(node, c)

	case graph.NodeIf:
		return d.executeIf(node, c)

	case graph.NodeForEachParallel:
		return d.executeForEachParallel(node, c)

	case graph.NodeJoin:
		return d.executeJoin(node, c)

	case graph.NodeStartRequest, graph.NodeFormRequest:
		resp, err := d.HTTP.NodeRequest(ctx, node.ID, node.Config, c, d.AuthDefs, d.Evaluator, nil, "")
		if err != nil {
			return nil, err
		}
		return responseToMap(resp), nil

	case graph.NodePaginateRequest:
		result, err := d.HTTP.ExecutePaginateRequest(ctx, node.ID, node.Config, c, d.AuthDefs, d.Evaluator)
		if err != nil {
			return nil, err
		}
		b, _ := json.Marshal(result)
		var out map[string]any
		_ = json.Unmarshal(b, &out)
		return out, nil

	case graph.NodePythonRequest:
		return d.executePythonRequest(node, c)

	case graph.NodeStartPython:
		return d.executeStartPython(node, c)

	case graph.NodeInvokeWorkflow:
		return d.Invoke(ctx, node, c, callDepth, correlationID)

	case graph.NodeSave:
		return d.executeSave(ctx, node, c)

	case graph.NodeEnd:
		return map[string]any{"ended": true}, nil

	case graph.NodeRaiseError:
		return d.executeRaiseError(node, c)

	default:
		return nil, fmt.Errorf("unsupported node type: %s", node.NodeType)
	}
}

func responseToMap(resp *httpexec.Response) map[string]any {
	b, _ := json.Marshal(resp)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

func (d *Dispatcher) executeDefineVariable(node *graph.Node, c *execctx.Context) (map[string]any, error) {
	source, _ := node.Config["source"].(string)
	name, _ := node.Config["name"].(string)
	selector, _ := node.Config["selector"].(string)

	var base any
	switch source {
	case "last_response":
		base = c.System["last_response"]
	case "node_output":
		base = c.Nodes
	default:
		raw, err := c.ToJSON()
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		base = m
	}

	var value any
	if strings.TrimSpace(selector) == "" {
		value = base
	} else {
		v, _ := execctx.ResolvePath(base, selector)
		value = v
	}

	if value == nil {
		if def, ok := node.Config["defaultValue"]; ok && def != nil {
			value = def
		}
	}

	if name != "" {
		c.Vars[name] = value
	}

	return map[string]any{"name": name, "value": value}, nil
}

func (d *Dispatcher) executeIf(node *graph.Node, c *execctx.Context) (map[string]any, error) {
	expression, _ := node.Config["expression"].(string)
	if expression == "" {
		expression = "false"
	}
	result, err := d.Evaluator.EvaluateBool(expression, c)
	if err != nil {
		return nil, err
	}
	return map[string]any{"expression": expression, "result": result}, nil
}

func (d *Dispatcher) executeForEachParallel(node *graph.Node, c *execctx.Context) (map[string]any, error) {
	listExpr, _ := node.Config["listExpr"].(string)
	if listExpr == "" {
		listExpr = "vars.items"
	}
	itemName, _ := node.Config["itemName"].(string)
	if itemName == "" {
		itemName = "item"
	}

	raw, err := execctx.ResolveValue(listExpr, c, d.Evaluator.Evaluate)
	if err != nil {
		return nil, err
	}
	items := extractItems(raw)

	parallel, _ := c.System["parallel"].(map[string]any)
	if parallel == nil {
		parallel = map[string]any{}
		c.System["parallel"] = parallel
	}
	parallel[node.ID] = map[string]any{
		"item_name": itemName,
		"items":     items,
		"count":     len(items),
	}
	c.Vars[itemName+"_items"] = items

	return map[string]any{"item_name": itemName, "count": len(items)}, nil
}

func (d *Dispatcher) executeJoin(node *graph.Node, c *execctx.Context) (map[string]any, error) {
	strategy, _ := node.Config["mergeStrategy"].(string)
	if strategy == "" {
		strategy = "collect_list"
	}
	parallel, _ := c.System["parallel"].(map[string]any)
	if parallel == nil {
		parallel = map[string]any{}
	}

	var joined any
	switch strategy {
	case "merge_objects":
		flat := map[string]any{}
		for _, v := range parallel {
			if sub, ok := v.(map[string]any); ok {
				for k, vv := range sub {
					flat[k] = vv
				}
			}
		}
		joined = flat
	case "last_write_wins":
		cp := map[string]any{}
		for k, v := range parallel {
			cp[k] = v
		}
		joined = cp
	default: // collect_list
		joined = parallel
	}

	c.Vars["joined"] = joined
	return map[string]any{"merge_strategy": strategy, "joined": joined}, nil
}

func (d *Dispatcher) executePythonRequest(node *graph.Node, c *execctx.Context) (map[string]any, error) {
	result, err := d.runScript(node, c)
	if err != nil {
		return nil, err
	}

	if m, ok := result.(map[string]any); ok {
		if _, hasStatus := m["status_code"]; hasStatus {
			if _, hasBody := m["body"]; hasBody {
				c.System["last_response"] = m
				c.System["last_response_node_id"] = node.ID
				return m, nil
			}
		}
	}

	wrapped := map[string]any{"status_code": 200, "body": result}
	c.System["last_response"] = wrapped
	c.System["last_response_node_id"] = node.ID
	return wrapped, nil
}

func (d *Dispatcher) executeStartPython(node *graph.Node, c *execctx.Context) (map[string]any, error) {
	result, err := d.runScript(node, c)
	if err != nil {
		return nil, err
	}

	if m, ok := result.(map[string]any); ok {
		if varsSub, ok := m["vars"].(map[string]any); ok {
			for k, v := range varsSub {
				c.Vars[k] = v
			}
		} else {
			for k, v := range m {
				c.Vars[k] = v
			}
		}
	}

	return map[string]any{"result": result}, nil
}

func (d *Dispatcher) runScript(node *graph.Node, c *execctx.Context) (any, error) {
	code, _ := node.Config["code"].(string)
	functionName, _ := node.Config["functionName"].(string)
	if functionName == "" {
		functionName = "run"
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("node %q: script code is blank", node.ID)
	}

	raw, err := c.ToJSON()
	if err != nil {
		return nil, err
	}
	var ctxMap map[string]any
	if err := json.Unmarshal(raw, &ctxMap); err != nil {
		return nil, err
	}

	return script.Run(code, functionName, ctxMap)
}

func (d *Dispatcher) executeSave(ctx context.Context, node *graph.Node, c *execctx.Context) (map[string]any, error) {
	key, _ := node.Config["key"].(string)
	key = strings.TrimSpace(key)
	if key == "" {
		key = "result"
	}

	var value any
	from, _ := node.Config["from"].(string)
	if strings.TrimSpace(from) != "" {
		v, err := execctx.ResolveValue(from, c, d.Evaluator.Evaluate)
		if err != nil {
			return nil, err
		}
		value = v
	} else {
		value = c.System["last_response"]
	}

	if d.SaveOutput != nil {
		if err := d.SaveOutput(ctx, key, value); err != nil {
			return nil, err
		}
	}

	savedOutputs, _ := c.System["saved_outputs"].(map[string]any)
	if savedOutputs == nil {
		savedOutputs = map[string]any{}
		c.System["saved_outputs"] = savedOutputs
	}
	savedOutputs[key] = value

	return map[string]any{"key": key, "value": value}, nil
}

func (d *Dispatcher) executeRaiseError(node *graph.Node, c *execctx.Context) (map[string]any, error) {
	message, _ := node.Config["message"].(string)
	if message == "" {
		message = "raise_error node triggered"
	}
	rendered, err := d.Evaluator.RenderTemplate(message, c)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%v", rendered)
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
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

func extractItems(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return []any{}
	default:
		return []any{t}
	}
}
