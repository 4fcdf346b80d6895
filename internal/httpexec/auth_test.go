package httpexec

import (
	"encoding/base64"
	"testing"

	"github.com/lyzr/workflowengine/internal/execctx"
	"github.com/lyzr/workflowengine/internal/graph"
)

func noopEval(expression string, ctx *execctx.Context) (any, error) { return nil, nil }

func TestResolveAuthDefinitions_ExplicitList(t *testing.T) {
	nodes := map[string]*graph.Node{
		"auth1": {
			ID:       "auth1",
			NodeType: graph.NodeAuth,
			Config: map[string]any{
				"authList": []any{
					map[string]any{"name": "svc", "authType": "bearer", "tokenVar": "vars.svc_token"},
				},
			},
		},
		"other": {ID: "other", NodeType: graph.NodeStart, Config: map[string]any{}},
	}
	defs := ResolveAuthDefinitions(nodes)
	if _, ok := defs["other"]; ok {
		t.Fatal("non-auth node should not be indexed")
	}
	entry, ok := defs["auth1"]["svc"]
	if !ok {
		t.Fatal("expected entry 'svc'")
	}
	if entry["authType"] != "bearer" {
		t.Fatalf("authType = %v", entry["authType"])
	}
}

func TestResolveAuthDefinitions_SynthesizesDefault(t *testing.T) {
	nodes := map[string]*graph.Node{
		"auth1": {
			ID:       "auth1",
			NodeType: graph.NodeAuth,
			Config:   map[string]any{"authType": "api_key", "headerName": "X-Api-Key"},
		},
	}
	defs := ResolveAuthDefinitions(nodes)
	entry, ok := defs["auth1"]["default"]
	if !ok {
		t.Fatal("expected synthesized 'default' entry")
	}
	if entry["headerName"] != "X-Api-Key" {
		t.Fatalf("headerName = %v", entry["headerName"])
	}
}

func TestAuthHeaders_Bearer(t *testing.T) {
	defs := AuthDefinitions{"auth1": {"default": AuthEntry{"authType": "bearer"}}}
	c := execctx.New(map[string]any{"token": "abc123"})

	headers, err := AuthHeaders("auth1::default", defs, c, noopEval)
	if err != nil {
		t.Fatalf("AuthHeaders: %v", err)
	}
	if headers["Authorization"] != "Bearer abc123" {
		t.Fatalf("Authorization = %q", headers["Authorization"])
	}
}

func TestAuthHeaders_BearerAlreadyPrefixed(t *testing.T) {
	defs := AuthDefinitions{"auth1": {"default": AuthEntry{"authType": "bearer"}}}
	c := execctx.New(map[string]any{"token": "Bearer abc123"})

	headers, err := AuthHeaders("auth1::default", defs, c, noopEval)
	if err != nil {
		t.Fatalf("AuthHeaders: %v", err)
	}
	if headers["Authorization"] != "Bearer abc123" {
		t.Fatalf("Authorization = %q", headers["Authorization"])
	}
}

func TestAuthHeaders_ApiKey(t *testing.T) {
	defs := AuthDefinitions{"auth1": {"default": AuthEntry{"authType": "api_key", "headerName": "X-Api-Key"}}}
	c := execctx.New(map[string]any{"token": "secret"})

	headers, err := AuthHeaders("auth1::default", defs, c, noopEval)
	if err != nil {
		t.Fatalf("AuthHeaders: %v", err)
	}
	if headers["X-Api-Key"] != "secret" {
		t.Fatalf("X-Api-Key = %q", headers["X-Api-Key"])
	}
}

func TestAuthHeaders_Basic(t *testing.T) {
	defs := AuthDefinitions{"auth1": {"default": AuthEntry{"authType": "basic"}}}
	c := execctx.New(map[string]any{"username": "ada", "password": "lovelace"})

	headers, err := AuthHeaders("auth1::default", defs, c, noopEval)
	if err != nil {
		t.Fatalf("AuthHeaders: %v", err)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("ada:lovelace"))
	if headers["Authorization"] != want {
		t.Fatalf("Authorization = %q, want %q", headers["Authorization"], want)
	}
}

func TestAuthHeaders_UnknownTypeFallsBackToRawToken(t *testing.T) {
	defs := AuthDefinitions{"auth1": {"default": AuthEntry{"authType": "mystery"}}}
	c := execctx.New(map[string]any{"token": "raw-value"})

	headers, err := AuthHeaders("auth1::default", defs, c, noopEval)
	if err != nil {
		t.Fatalf("AuthHeaders: %v", err)
	}
	if headers["Authorization"] != "raw-value" {
		t.Fatalf("Authorization = %q", headers["Authorization"])
	}
}

func TestAuthHeaders_MalformedRef(t *testing.T) {
	defs := AuthDefinitions{}
	c := execctx.New(nil)
	if _, err := AuthHeaders("no-separator", defs, c, noopEval); err == nil {
		t.Fatal("expected error for malformed authRef")
	}
}

func TestAuthHeaders_UnknownNodeOrEntry(t *testing.T) {
	defs := AuthDefinitions{"auth1": {"default": AuthEntry{"authType": "bearer"}}}
	c := execctx.New(map[string]any{"token": "x"})

	if _, err := AuthHeaders("missing::default", defs, c, noopEval); err == nil {
		t.Fatal("expected error for unknown node")
	}
	if _, err := AuthHeaders("auth1::missing", defs, c, noopEval); err == nil {
		t.Fatal("expected error for unknown entry")
	}
}

func TestAuthHeaders_EmptyRefReturnsNoHeaders(t *testing.T) {
	headers, err := AuthHeaders("", AuthDefinitions{}, execctx.New(nil), noopEval)
	if err != nil || headers != nil {
		t.Fatalf("expected (nil, nil) for empty authRef, got (%v, %v)", headers, err)
	}
}
