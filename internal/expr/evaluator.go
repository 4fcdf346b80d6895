// Package expr implements the sandboxed expression and template evaluator
// (spec §4.4), backed by google/cel-go the way the teacher's
// cmd/workflow-runner/condition/evaluator.go evaluates node conditions.
//
// CEL has no assignment, no attribute mutation, and no host access by
// construction, which satisfies the sandbox contract directly. An explicit
// AST-node-count cap additionally reproduces the reference engine's
// ast.walk(...) > 250 -> ExpressionTooComplex guard.
package expr

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/ast"

	"github.com/lyzr/workflowengine/internal/execctx"
)

// MaxASTNodes mirrors the reference engine's ast.walk() node-count cap.
const MaxASTNodes = 250

// ExpressionTooComplex is returned when a compiled expression's AST
// exceeds MaxASTNodes.
type ExpressionTooComplex struct {
	Expression string
	NodeCount  int
}

func (e *ExpressionTooComplex) Error() string {
	return fmt.Sprintf("expression is too complex (%d AST nodes, limit %d): %s", e.NodeCount, MaxASTNodes, e.Expression)
}

var templateRe = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Evaluator compiles and caches CEL programs for repeated evaluation of
// the same expression text across many node executions, exactly as the
// teacher's condition.Evaluator caches per-workflow condition programs.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// New builds an Evaluator with the template root's variable bindings
// (vars/nodes/system/input/last_response) and the spec's helper function
// set (len/min/max/sum/any/all/abs/int/float/str/bool) registered as CEL
// functions.
func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("vars", cel.DynType),
		cel.Variable("nodes", cel.DynType),
		cel.Variable("system", cel.DynType),
		cel.Variable("input", cel.DynType),
		cel.Variable("last_response", cel.DynType),
		helperFunctions()...,
	)
	if err != nil {
		return nil, fmt.Errorf("build cel environment: %w", err)
	}
	return &Evaluator{env: env, cache: map[string]cel.Program{}}, nil
}

// Evaluate runs a single CEL expression against a Context and returns the
// unwrapped Go value (spec §4.4's _eval_expression).
func (e *Evaluator) Evaluate(expression string, c *execctx.Context) (any, error) {
	prog, err := e.programFor(expression)
	if err != nil {
		return nil, err
	}

	root := c.Root()
	out, _, err := prog.Eval(map[string]any{
		"vars":          root["vars"],
		"nodes":         root["nodes"],
		"system":        root["system"],
		"input":         root["input"],
		"last_response": root["last_response"],
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expression, err)
	}
	return out.Value(), nil
}

// EvaluateBool evaluates an expression and coerces the result to bool the
// way the `if` node dispatcher does.
func (e *Evaluator) EvaluateBool(expression string, c *execctx.Context) (bool, error) {
	v, err := e.Evaluate(expression, c)
	if err != nil {
		return false, err
	}
	return CoerceBool(v), nil
}

// RenderTemplate recursively walks value, substituting each `{{ expr }}`
// segment of every string with its evaluated, stringified result. Maps and
// slices are rebuilt as new values (the input is not modified); non-template strings, numbers, and bools
// pass through unchanged.
func (e *Evaluator) RenderTemplate(value any, c *execctx.Context) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, sub := range v {
			rendered, err := e.RenderTemplate(sub, c)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, sub := range v {
			rendered, err := e.RenderTemplate(sub, c)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case string:
		if !strings.Contains(v, "{{") || !strings.Contains(v, "}}") {
			return v, nil
		}
		var evalErr error
		result := templateRe.ReplaceAllStringFunc(v, func(match string) string {
			sub := templateRe.FindStringSubmatch(match)
			if len(sub) != 2 {
				return ""
			}
			resolved, err := e.Evaluate(sub[1], c)
			if err != nil {
				evalErr = err
				return ""
			}
			return stringifyTemplateValue(resolved)
		})
		if evalErr != nil {
			return nil, evalErr
		}
		return result, nil
	default:
		return value, nil
	}
}

func stringifyTemplateValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return toJSONString(t)
	}
}

func (e *Evaluator) programFor(expression string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prog, ok := e.cache[expression]; ok {
		return prog, nil
	}

	checked, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, issues.Err())
	}

	if n := countASTNodes(checked); n > MaxASTNodes {
		return nil, &ExpressionTooComplex{Expression: expression, NodeCount: n}
	}

	prog, err := e.env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("build program for %q: %w", expression, err)
	}

	e.cache[expression] = prog
	return prog, nil
}

// ClearCache drops all compiled programs, mirroring the teacher's
// Evaluator.ClearCache.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = map[string]cel.Program{}
}

// CacheSize reports the number of cached programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// countASTNodes walks the compiled expression's AST and counts every node,
// mirroring Python's len(list(ast.walk(parsed))).
func countASTNodes(checked *cel.Ast) int {
	nat := checked.NativeRep()
	if nat == nil {
		return 0
	}
	return 1 + countExpr(nat.Expr())
}

func countExpr(e ast.Expr) int {
	if e == nil {
		return 0
	}
	count := 0
	switch e.Kind() {
	case ast.CallKind:
		call := e.AsCall()
		count++
		if call.Target() != nil {
			count += countExpr(call.Target())
		}
		for _, a := range call.Args() {
			count += countExpr(a)
		}
	case ast.ListKind:
		list := e.AsList()
		count++
		for _, el := range list.Elements() {
			count += countExpr(el)
		}
	case ast.MapKind:
		m := e.AsMap()
		count++
		for _, entry := range m.Entries() {
			me := entry.AsMapEntry()
			count += countExpr(me.Key())
			count += countExpr(me.Value())
		}
	case ast.StructKind:
		s := e.AsStruct()
		count++
		for _, f := range s.Fields() {
			sf := f.AsStructField()
			count += countExpr(sf.Value())
		}
	case ast.SelectKind:
		sel := e.AsSelect()
		count++
		count += countExpr(sel.Operand())
	case ast.ComprehensionKind:
		comp := e.AsComprehension()
		count++
		count += countExpr(comp.IterRange())
		count += countExpr(comp.AccuInit())
		count += countExpr(comp.LoopCondition())
		count += countExpr(comp.LoopStep())
		count += countExpr(comp.Result())
	default:
		count++
	}
	return count
}

// CoerceBool mirrors the reference engine's truthiness rules for values
// flowing out of `if.expression` evaluation.
func CoerceBool(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y":
			return true
		case "", "0", "false", "no", "n":
			return false
		default:
			return true
		}
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
