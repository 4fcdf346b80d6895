package graph

import (
	"encoding/json"
	"testing"
)

func TestNormalize_AuthoredShape(t *testing.T) {
	raw := json.RawMessage(`{
		"entry_node_id": "n1",
		"nodes": [
			{"id": "n1", "data": {"nodeType": "start", "config": {}}},
			{"id": "n2", "data": {"nodeType": "if", "label": "check", "config": {"expression": "vars.x > 1"}}},
			{"id": "n3", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "n1", "target": "n2"},
			{"id": "e2", "source": "n2", "target": "n3", "data": {"condition": "true"}},
			{"id": "e3", "source": "n2", "target": "n3", "data": {"condition": "false"}}
		]
	}`)

	g, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if g.EntryNodeID != "n1" {
		t.Fatalf("entry node id = %q", g.EntryNodeID)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(g.Nodes))
	}
	if g.Nodes["n2"].NodeType != NodeIf {
		t.Fatalf("n2 node type = %q", g.Nodes["n2"].NodeType)
	}
	if len(g.Outgoing["n2"]) != 2 {
		t.Fatalf("expected 2 outgoing edges from n2, got %d", len(g.Outgoing["n2"]))
	}
}

func TestNormalize_LegacyShape(t *testing.T) {
	raw := json.RawMessage(`{
		"entry_node_id": "n1",
		"nodes": [
			{"id": "n1", "type": "start", "config": {}},
			{"id": "n2", "type": "end", "config": {}}
		],
		"edges": [
			{"id": "e1", "source": "n1", "target": "n2", "sourceHandle": "true"}
		]
	}`)

	g, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if g.Nodes["n1"].NodeType != NodeStart {
		t.Fatalf("n1 node type = %q", g.Nodes["n1"].NodeType)
	}
	edge := g.Outgoing["n1"][0]
	if edge.Condition != CondTrue {
		t.Fatalf("expected sourceHandle fallback to set condition true, got %q", edge.Condition)
	}
}

func TestNormalize_MissingNodeID(t *testing.T) {
	raw := json.RawMessage(`{"nodes": [{"type": "start"}], "edges": []}`)
	if _, err := Normalize(raw); err == nil {
		t.Fatal("expected error for node missing id")
	}
}

func TestNormalize_EdgeMissingEndpoints(t *testing.T) {
	raw := json.RawMessage(`{"nodes": [{"id": "n1", "type": "start"}], "edges": [{"id": "e1", "source": "n1"}]}`)
	if _, err := Normalize(raw); err == nil {
		t.Fatal("expected error for edge missing target")
	}
}

func TestSelectNextEdge_NonIfAlwaysFirst(t *testing.T) {
	g := &Graph{
		Nodes: map[string]*Node{"n1": {ID: "n1", NodeType: NodeSave}},
		Outgoing: map[string][]*Edge{
			"n1": {{ID: "e1", Source: "n1", Target: "a"}, {ID: "e2", Source: "n1", Target: "b"}},
		},
	}
	edge := g.SelectNextEdge(g.Nodes["n1"], true)
	if edge.Target != "a" {
		t.Fatalf("expected first edge for non-if node, got target %q", edge.Target)
	}
}

func TestSelectNextEdge_IfMatchesConditionOrFallsBack(t *testing.T) {
	g := &Graph{
		Nodes: map[string]*Node{"n1": {ID: "n1", NodeType: NodeIf}},
		Outgoing: map[string][]*Edge{
			"n1": {
				{ID: "e1", Source: "n1", Target: "on-true", Condition: CondTrue},
				{ID: "e2", Source: "n1", Target: "on-false", Condition: CondFalse},
			},
		},
	}
	if got := g.SelectNextEdge(g.Nodes["n1"], true); got.Target != "on-true" {
		t.Fatalf("true branch: got target %q", got.Target)
	}
	if got := g.SelectNextEdge(g.Nodes["n1"], false); got.Target != "on-false" {
		t.Fatalf("false branch: got target %q", got.Target)
	}

	// No matching edge at all: falls back to the first outgoing edge.
	g2 := &Graph{
		Nodes: map[string]*Node{"n1": {ID: "n1", NodeType: NodeIf}},
		Outgoing: map[string][]*Edge{
			"n1": {{ID: "e1", Source: "n1", Target: "only"}},
		},
	}
	if got := g2.SelectNextEdge(g2.Nodes["n1"], true); got.Target != "only" {
		t.Fatalf("fallback: got target %q", got.Target)
	}
}

func TestSelectNextEdge_NoOutgoing(t *testing.T) {
	g := &Graph{Nodes: map[string]*Node{"n1": {ID: "n1", NodeType: NodeEnd}}, Outgoing: map[string][]*Edge{}}
	if edge := g.SelectNextEdge(g.Nodes["n1"], false); edge != nil {
		t.Fatalf("expected nil edge, got %+v", edge)
	}
}
