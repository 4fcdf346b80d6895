package execctx

import (
	"encoding/json"
	"testing"
)

func TestNew_SeedsVarsAndInput(t *testing.T) {
	c := New(map[string]any{"name": "ada"})
	if c.Vars["name"] != "ada" {
		t.Fatalf("vars.name = %v", c.Vars["name"])
	}
	input, ok := c.Vars["input"].(map[string]any)
	if !ok || input["name"] != "ada" {
		t.Fatalf("vars.input not seeded: %#v", c.Vars["input"])
	}

	// Mutating the caller's map afterward must not leak into the context.
	caller := map[string]any{"x": 1}
	c2 := New(caller)
	caller["x"] = 2
	if c2.Vars["x"] != 1 {
		t.Fatalf("expected deep copy isolation, got %v", c2.Vars["x"])
	}
}

func TestToJSON_FromJSON_RoundTrip(t *testing.T) {
	c := New(map[string]any{"a": 1})
	c.Nodes["n1"] = map[string]any{"status": "success"}
	c.System["execution_id"] = "abc"

	raw, err := c.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	c2, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if c2.System["execution_id"] != "abc" {
		t.Fatalf("system.execution_id = %v", c2.System["execution_id"])
	}
	node, ok := c2.Nodes["n1"].(map[string]any)
	if !ok || node["status"] != "success" {
		t.Fatalf("nodes.n1 not preserved: %#v", c2.Nodes["n1"])
	}
}

func TestFromJSON_EmptyAndMalformedSubPayloads(t *testing.T) {
	c, err := FromJSON(nil)
	if err != nil {
		t.Fatalf("FromJSON(nil): %v", err)
	}
	if c.Vars == nil || c.Nodes == nil || c.System == nil {
		t.Fatal("expected empty-but-non-nil maps")
	}

	// "vars" is a string, not an object - must coerce to empty map, not error.
	c2, err := FromJSON(json.RawMessage(`{"vars": "not-an-object", "nodes": {}, "system": {}}`))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if len(c2.Vars) != 0 {
		t.Fatalf("expected coerced-empty vars, got %#v", c2.Vars)
	}
}

func TestResolvePath_AbsenceIsNotError(t *testing.T) {
	root := map[string]any{
		"vars": map[string]any{"user": map[string]any{"name": "ada"}},
	}

	v, ok := ResolvePath(root, "vars.user.name")
	if !ok || v != "ada" {
		t.Fatalf("vars.user.name = %v, %v", v, ok)
	}

	v, ok = ResolvePath(root, "vars.user.missing")
	if ok || v != nil {
		t.Fatalf("expected (nil, false) for missing key, got (%v, %v)", v, ok)
	}

	v, ok = ResolvePath(root, "vars.user.name.nonsense")
	if ok || v != nil {
		t.Fatalf("expected (nil, false) indexing through a string, got (%v, %v)", v, ok)
	}
}

func TestResolvePath_ListIndexing(t *testing.T) {
	root := map[string]any{"items": []any{"a", "b", "c"}}
	v, ok := ResolvePath(root, "items.1")
	if !ok || v != "b" {
		t.Fatalf("items.1 = %v, %v", v, ok)
	}
	if _, ok := ResolvePath(root, "items.99"); ok {
		t.Fatal("expected out-of-range index to report absence")
	}
}

func TestResolveValue_DottedPathVsExpression(t *testing.T) {
	c := New(map[string]any{"count": 3})
	evalCalls := 0
	eval := func(expression string, ctx *Context) (any, error) {
		evalCalls++
		return true, nil
	}

	v, err := ResolveValue("vars.count", c, eval)
	if err != nil || v != 3 {
		t.Fatalf("vars.count = %v, %v", v, err)
	}
	if evalCalls != 0 {
		t.Fatalf("plain dotted path should not invoke eval, got %d calls", evalCalls)
	}

	v, err = ResolveValue("vars.count == 3", c, eval)
	if err != nil || v != true {
		t.Fatalf("expression form = %v, %v", v, err)
	}
	if evalCalls != 1 {
		t.Fatalf("expected 1 eval call, got %d", evalCalls)
	}
}

func TestResolveValue_BareNameFallsBackToFullContext(t *testing.T) {
	c := New(nil)
	c.System["foo"] = "bar"
	eval := func(expression string, ctx *Context) (any, error) { return nil, nil }

	v, err := ResolveValue("system.foo", c, eval)
	if err != nil || v != "bar" {
		t.Fatalf("system.foo = %v, %v", v, err)
	}

	v, err = ResolveValue("system", c, eval)
	sys, ok := v.(map[string]any)
	if err != nil || !ok || sys["foo"] != "bar" {
		t.Fatalf("system = %v, %v", v, err)
	}
}

func TestResolveValue_EmptyString(t *testing.T) {
	c := New(nil)
	eval := func(expression string, ctx *Context) (any, error) { return "should not be called", nil }
	v, err := ResolveValue("   ", c, eval)
	if err != nil || v != nil {
		t.Fatalf("expected (nil, nil) for blank input, got (%v, %v)", v, err)
	}
}
