// Package graph normalizes an authored workflow graph (spec §3/§4.2) into
// the engine's internal Node/Edge/Graph shape, accepting either the
// "authored" shape (data.nodeType/data.config) or the "legacy" shape
// (type/config) a graph may arrive in.
//
// Grounded in original_source/engine.py's _node_from_graph/_normalize_edge/
// _index_graph, and in the teacher's cmd/workflow-runner/compiler/ir.go for
// the general shape of a compiled IR with dependency indexing.
package graph

import (
	"encoding/json"
	"fmt"
)

// NodeType enumerates the node kinds the dispatcher understands (spec §3).
type NodeType string

const (
	NodeStart            NodeType = "start"
	NodeAuth              NodeType = "auth"
	NodeParameters        NodeType = "parameters"
	NodeDelay             NodeType = "delay"
	NodeDefineVariable    NodeType = "define_variable"
	NodeIf                NodeType = "if"
	NodeForEachParallel   NodeType = "for_each_parallel"
	NodeJoin              NodeType = "join"
	NodeStartRequest      NodeType = "start_request"
	NodeFormRequest       NodeType = "form_request"
	NodePaginateRequest   NodeType = "paginate_request"
	NodePythonRequest     NodeType = "python_request"
	NodeStartPython       NodeType = "start_python"
	NodeInvokeWorkflow    NodeType = "invoke_workflow"
	NodeSave              NodeType = "save"
	NodeEnd               NodeType = "end"
	NodeRaiseError        NodeType = "raise_error"
)

// Node is one vertex of a normalized graph.
type Node struct {
	ID       string
	NodeType NodeType
	Label    string
	Config   map[string]any
}

// EdgeCondition is the typed branch label an `if` node's outgoing edges
// carry; nil/"" means unconditional.
type EdgeCondition string

const (
	CondTrue  EdgeCondition = "true"
	CondFalse EdgeCondition = "false"
	CondNone  EdgeCondition = ""
)

// Edge is one directed connection between two nodes.
type Edge struct {
	ID         string
	Source     string
	Target     string
	Condition  EdgeCondition
	Breakpoint bool
}

// Graph is a normalized, indexed workflow graph.
type Graph struct {
	EntryNodeID string
	Nodes       map[string]*Node
	Outgoing    map[string][]*Edge // preserves authoring edge-array order
}

// rawGraph mirrors the on-wire shape: a node/edge array plus an entry id.
type rawGraph struct {
	Nodes       []json.RawMessage `json:"nodes"`
	Edges       []json.RawMessage `json:"edges"`
	EntryNodeID string            `json:"entry_node_id"`
}

// Normalize parses graph_json and builds an indexed Graph, accepting both
// the authored (data.nodeType/data.config) and legacy (type/config) shapes
// per node/edge.
func Normalize(graphJSON json.RawMessage) (*Graph, error) {
	var raw rawGraph
	if err := json.Unmarshal(graphJSON, &raw); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}

	g := &Graph{
		EntryNodeID: raw.EntryNodeID,
		Nodes:       map[string]*Node{},
		Outgoing:    map[string][]*Edge{},
	}

	for _, rawNode := range raw.Nodes {
		node, err := normalizeNode(rawNode)
		if err != nil {
			return nil, err
		}
		g.Nodes[node.ID] = node
	}

	for _, rawEdge := range raw.Edges {
		edge, err := normalizeEdge(rawEdge)
		if err != nil {
			return nil, err
		}
		g.Outgoing[edge.Source] = append(g.Outgoing[edge.Source], edge)
	}

	return g, nil
}

type wireNode struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Config json.RawMessage `json:"config"`
	Label  string          `json:"label"`
	Data   *struct {
		NodeType string          `json:"nodeType"`
		Config   json.RawMessage `json:"config"`
		Label    string          `json:"label"`
	} `json:"data"`
}

func normalizeNode(raw json.RawMessage) (*Node, error) {
	var wn wireNode
	if err := json.Unmarshal(raw, &wn); err != nil {
		return nil, fmt.Errorf("parse node: %w", err)
	}
	if wn.ID == "" {
		return nil, fmt.Errorf("node missing id")
	}

	var nodeType, label string
	var configRaw json.RawMessage
	if wn.Data != nil && wn.Data.NodeType != "" {
		nodeType = wn.Data.NodeType
		label = wn.Data.Label
		configRaw = wn.Data.Config
	} else {
		nodeType = wn.Type
		label = wn.Label
		configRaw = wn.Config
	}

	config := map[string]any{}
	if len(configRaw) > 0 {
		if err := json.Unmarshal(configRaw, &config); err != nil {
			return nil, fmt.Errorf("parse node %q config: %w", wn.ID, err)
		}
	}

	return &Node{
		ID:       wn.ID,
		NodeType: NodeType(nodeType),
		Label:    label,
		Config:   config,
	}, nil
}

type wireEdge struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	SourceHandle  string `json:"sourceHandle"`
	Data          *struct {
		Condition  string `json:"condition"`
		Breakpoint bool   `json:"breakpoint"`
	} `json:"data"`
}

func normalizeEdge(raw json.RawMessage) (*Edge, error) {
	var we wireEdge
	if err := json.Unmarshal(raw, &we); err != nil {
		return nil, fmt.Errorf("parse edge: %w", err)
	}
	if we.Source == "" || we.Target == "" {
		return nil, fmt.Errorf("edge %q missing source/target", we.ID)
	}

	cond := CondNone
	breakpoint := false
	if we.Data != nil {
		switch we.Data.Condition {
		case "true":
			cond = CondTrue
		case "false":
			cond = CondFalse
		}
		breakpoint = we.Data.Breakpoint
	}
	if cond == CondNone {
		switch we.SourceHandle {
		case "true":
			cond = CondTrue
		case "false":
			cond = CondFalse
		}
	}

	return &Edge{
		ID:         we.ID,
		Source:     we.Source,
		Target:     we.Target,
		Condition:  cond,
		Breakpoint: breakpoint,
	}, nil
}

// SelectNextEdge picks the outgoing edge to follow after a node completes
// (spec §4.7/§4.8): for `if` nodes, the edge whose condition matches the
// boolean result, falling back to the first edge; otherwise always the
// first outgoing edge in authoring order.
func (g *Graph) SelectNextEdge(node *Node, result bool) *Edge {
	edges := g.Outgoing[node.ID]
	if len(edges) == 0 {
		return nil
	}
	if node.NodeType != NodeIf {
		return edges[0]
	}

	want := CondFalse
	if result {
		want = CondTrue
	}
	for _, e := range edges {
		if e.Condition == want {
			return e
		}
	}
	return edges[0]
}
