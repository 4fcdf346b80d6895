// Package execctx implements the engine's mutable ExecutionContext (spec
// §4.3): three namespaces (vars/nodes/system), dotted-path resolution over
// heterogeneous JSON-like values, and the JSON round-trip used for
// final_context_json and snapshot context_json.
//
// Grounded in original_source/api-builder/backend/app/engine.py's
// ExecutionContext dataclass, DotValue wrapper, _split_path/_resolve_path.
package execctx

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Context is the engine's per-execution working state.
type Context struct {
	Vars   map[string]any
	Nodes  map[string]any
	System map[string]any
}

// New builds a fresh context for a top-level run, seeding vars with the
// caller's input both at the top level and under vars.input, matching
// run_execution's fresh-context construction in the reference engine.
func New(input map[string]any) *Context {
	if input == nil {
		input = map[string]any{}
	}
	vars := deepCopyMap(input)
	vars["input"] = deepCopyMap(input)
	return &Context{
		Vars:   vars,
		Nodes:  map[string]any{},
		System: map[string]any{},
	}
}

type serialized struct {
	Vars   map[string]any `json:"vars"`
	Nodes  map[string]any `json:"nodes"`
	System map[string]any `json:"system"`
}

// ToJSON serializes the context to its canonical {vars,nodes,system} shape.
func (c *Context) ToJSON() (json.RawMessage, error) {
	return json.Marshal(serialized{Vars: c.Vars, Nodes: c.Nodes, System: c.System})
}

// FromJSON reconstructs a context from a previously serialized payload,
// defensively coercing non-object sub-payloads to empty maps the way the
// reference implementation's from_json does.
func FromJSON(payload json.RawMessage) (*Context, error) {
	c := &Context{Vars: map[string]any{}, Nodes: map[string]any{}, System: map[string]any{}}
	if len(payload) == 0 {
		return c, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if v, ok := raw["vars"]; ok {
		c.Vars = coerceMap(v)
	}
	if v, ok := raw["nodes"]; ok {
		c.Nodes = coerceMap(v)
	}
	if v, ok := raw["system"]; ok {
		c.System = coerceMap(v)
	}
	return c, nil
}

func coerceMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// Root builds the template/expression evaluation root dict (spec §4.3):
// vars/nodes/system plus input and last_response conveniences.
func (c *Context) Root() map[string]any {
	input, _ := c.Vars["input"].(map[string]any)
	if input == nil {
		input = map[string]any{}
	}
	return map[string]any{
		"vars":          c.Vars,
		"nodes":         c.Nodes,
		"system":        c.System,
		"input":         input,
		"last_response": c.System["last_response"],
	}
}

// SplitPath strips a leading "$." or "$" and splits the remainder on ".",
// discarding empty segments.
func SplitPath(path string) []string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$.")
	p = strings.TrimPrefix(p, "$")
	if p == "" {
		return nil
	}
	parts := strings.Split(p, ".")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ResolvePath walks root through a dotted path, indexing maps by key and
// slices by numeric index. Any missing key, out-of-range index, or
// non-container intermediate yields (nil, false) rather than an error -
// absence is a value, not a failure, matching the reference resolver.
func ResolvePath(root any, path string) (any, bool) {
	parts := SplitPath(path)
	cur := root
	if len(parts) == 0 {
		return cur, true
	}
	for _, part := range parts {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// looksLikeExpression mirrors the reference _resolve_value heuristic:
// strings containing comparison/boolean-keyword/paren syntax are treated
// as expressions rather than plain dotted paths.
func looksLikeExpression(s string) bool {
	for _, tok := range []string{"==", "!=", ">=", "<=", " and ", " or ", " not ", "(", ")"} {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

// EvalFunc evaluates an expression string against a context, implemented
// by internal/expr. Kept as a function type here to avoid an import cycle
// between execctx and expr (expr depends on execctx, not vice versa).
type EvalFunc func(expression string, ctx *Context) (any, error)

// ResolveValue implements the reference engine's _resolve_value: decide
// between expression-evaluation and dotted-path resolution based on the
// text's shape, exactly as original_source/engine.py does for
// save.from/define_variable.selector free-form strings.
func ResolveValue(exprOrPath string, ctx *Context, eval EvalFunc) (any, error) {
	text := strings.TrimSpace(exprOrPath)
	if text == "" {
		return nil, nil
	}
	if looksLikeExpression(text) {
		return eval(text, ctx)
	}

	root := ctx.Root()
	switch {
	case strings.HasPrefix(text, "vars."), strings.HasPrefix(text, "nodes."),
		strings.HasPrefix(text, "system."), strings.HasPrefix(text, "input."),
		strings.HasPrefix(text, "last_response."):
		v, _ := ResolvePath(root, text)
		return v, nil
	case strings.HasPrefix(text, "$"):
		v, _ := ResolvePath(root, text)
		return v, nil
	default:
		full, err := ctx.ToJSON()
		if err != nil {
			return nil, err
		}
		var asMap map[string]any
		if err := json.Unmarshal(full, &asMap); err != nil {
			return nil, err
		}
		v, _ := ResolvePath(asMap, text)
		return v, nil
	}
}
