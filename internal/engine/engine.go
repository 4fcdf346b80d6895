// Package engine implements the run loop (spec §4.8), the sub-workflow
// invoker (§4.9), and the resume controller (§4.11) — the synchronous,
// single-process interpreter at the heart of the engine. Grounded in
// original_source/engine.py's run_execution/continue_execution_from_pause.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflowengine/common/logger"
	"github.com/lyzr/workflowengine/internal/dispatch"
	"github.com/lyzr/workflowengine/internal/execctx"
	"github.com/lyzr/workflowengine/internal/expr"
	"github.com/lyzr/workflowengine/internal/graph"
	"github.com/lyzr/workflowengine/internal/httpexec"
	"github.com/lyzr/workflowengine/internal/models"
	"github.com/lyzr/workflowengine/internal/store"
)

// DurationRecorder is the ambient timing hook the run loop calls around
// every node dispatch (common/telemetry.Telemetry satisfies this); a nil
// recorder (the default) skips the call entirely.
type DurationRecorder interface {
	RecordDuration(operation string, start time.Time)
}

// MaxCallDepthExceeded is returned when a run (top-level or nested) would
// exceed the configured max_call_depth.
type MaxCallDepthExceeded struct {
	Depth int
	Max   int
}

func (e *MaxCallDepthExceeded) Error() string {
	return fmt.Sprintf("call depth %d exceeds max_call_depth %d", e.Depth, e.Max)
}

// Engine runs workflow graphs against a Store.
type Engine struct {
	Store            store.Store
	Evaluator        *expr.Evaluator
	HTTP             *httpexec.Executor
	SnapshotInterval int
	MaxCallDepth     int
	Log              *logger.Logger
	Telemetry        DurationRecorder
}

// WithTelemetry attaches a DurationRecorder; nil is safe and is the default.
func (e *Engine) WithTelemetry(t DurationRecorder) *Engine {
	e.Telemetry = t
	return e
}

// New builds an Engine with the given collaborators.
func New(st store.Store, evaluator *expr.Evaluator, http *httpexec.Executor, snapshotInterval, maxCallDepth int, log *logger.Logger) *Engine {
	return &Engine{
		Store:            st,
		Evaluator:        evaluator,
		HTTP:             http,
		SnapshotInterval: snapshotInterval,
		MaxCallDepth:     maxCallDepth,
		Log:              log,
	}
}

// RunOptions parameterizes a single run_execution invocation.
type RunOptions struct {
	CallDepth         int
	ParentExecutionID *uuid.UUID
	CorrelationID     string
	StartNodeID       string
	ContextOverride   *execctx.Context
	IsResume          bool
	// Input seeds vars/vars.input on a fresh (non-override) context; ignored
	// when ContextOverride is set.
	Input map[string]any
}

// Run interprets wfVersion's graph for execution, starting at
// opts.StartNodeID (or the graph's entry node on a fresh run), returning
// once the execution reaches a terminal or paused state, or an error on
// an unrecoverable engine-level failure. Per-node failures are recorded as
// NODE_FAILED events and surfaced as a returned error (the reference
// engine's exception-propagates-to-caller contract); the caller (control
// plane or a parent invoker) decides what to do with it.
func (e *Engine) Run(ctx context.Context, executionID uuid.UUID, wfVersion *models.WorkflowVersion, opts RunOptions) error {
	if opts.CallDepth > e.MaxCallDepth {
		return &MaxCallDepthExceeded{Depth: opts.CallDepth, Max: e.MaxCallDepth}
	}

	g, err := graph.Normalize(wfVersion.GraphJSON)
	if err != nil {
		return fmt.Errorf("normalize graph: %w", err)
	}

	currentNodeID := opts.StartNodeID
	if currentNodeID == "" {
		currentNodeID = g.EntryNodeID
	}
	if currentNodeID == "" || g.Nodes[currentNodeID] == nil {
		return e.failMissingEntry(ctx, executionID)
	}

	var ec *execctx.Context
	if opts.ContextOverride != nil {
		ec = opts.ContextOverride
	} else {
		ec = execctx.New(opts.Input)
		ec.System["execution_id"] = executionID.String()
		ec.System["call_depth"] = opts.CallDepth
		if opts.ParentExecutionID != nil {
			ec.System["parent_execution_id"] = opts.ParentExecutionID.String()
		}
		ec.System["correlation_id"] = opts.CorrelationID
		ec.System["saved_outputs"] = map[string]any{}
		ec.System["parallel"] = map[string]any{}
		e.applyParameterDefaults(g, ec)
	}

	if !opts.IsResume {
		if err := e.appendEvent(ctx, executionID, nil, models.EventRunStarted, map[string]any{
			"workflow_version_id": wfVersion.ID,
			"call_depth":          opts.CallDepth,
			"parent_execution_id": opts.ParentExecutionID,
			"correlation_id":      opts.CorrelationID,
		}); err != nil {
			return err
		}
	}

	disp := e.dispatcherFor(g, executionID)

	for {
		node := g.Nodes[currentNodeID]

		finalJSON, err := ec.ToJSON()
		if err != nil {
			return fmt.Errorf("serialize context: %w", err)
		}
		if err := e.Store.UpdateExecutionStatus(ctx, executionID, models.StatusRunning, &currentNodeID, finalJSON); err != nil {
			return fmt.Errorf("update execution status: %w", err)
		}

		if err := e.appendEvent(ctx, executionID, &node.ID, models.EventNodeStarted, map[string]any{
			"node_type": string(node.NodeType), "label": node.Label,
		}); err != nil {
			return err
		}

		nodeStart := time.Now()
		output, execErr := disp.Execute(ctx, node, ec, opts.CallDepth, opts.CorrelationID)
		if e.Telemetry != nil {
			e.Telemetry.RecordDuration(string(node.NodeType), nodeStart)
		}

		if execErr != nil {
			ec.Nodes[node.ID] = map[string]any{
				"status": "failed", "node_type": string(node.NodeType), "label": node.Label, "error": execErr.Error(),
			}
			_ = e.appendEvent(ctx, executionID, &node.ID, models.EventNodeFailed, map[string]any{
				"node_type": string(node.NodeType), "error": execErr.Error(),
			})
			finalJSON, _ := ec.ToJSON()
			_ = e.Store.UpdateExecutionStatus(ctx, executionID, models.StatusFailed, &currentNodeID, finalJSON)
			e.writeSnapshotIfNeeded(ctx, executionID)
			return execErr
		}

		ec.Nodes[node.ID] = map[string]any{
			"status": "success", "node_type": string(node.NodeType), "label": node.Label, "output": output,
		}
		if err := e.appendEvent(ctx, executionID, &node.ID, models.EventNodeSucceeded, map[string]any{
			"node_type": string(node.NodeType), "output": output,
		}); err != nil {
			return err
		}

		if node.NodeType == graph.NodeEnd {
			return e.complete(ctx, executionID, currentNodeID, ec, nil)
		}

		ifResult := false
		if node.NodeType == graph.NodeIf {
			if m, ok := output["result"].(bool); ok {
				ifResult = m
			}
		}
		edge := g.SelectNextEdge(node, ifResult)
		if edge == nil {
			return e.complete(ctx, executionID, currentNodeID, ec, map[string]any{
				"reason": "No outgoing edge", "at_node_id": currentNodeID,
			})
		}

		if edge.Breakpoint {
			if err := e.appendEvent(ctx, executionID, nil, models.EventBreakpointPaused, map[string]any{
				"edge_id": edge.ID, "source": edge.Source, "target": edge.Target,
			}); err != nil {
				return err
			}
			target := edge.Target
			finalJSON, _ := ec.ToJSON()
			if err := e.Store.UpdateExecutionStatus(ctx, executionID, models.StatusPaused, &target, finalJSON); err != nil {
				return err
			}
			e.writeSnapshotIfNeeded(ctx, executionID)
			return nil
		}

		if err := e.appendEvent(ctx, executionID, nil, models.EventEdgeTraversed, map[string]any{
			"edge_id": edge.ID, "source": edge.Source, "target": edge.Target,
		}); err != nil {
			return err
		}
		currentNodeID = edge.Target
		finalJSON, _ = ec.ToJSON()
		if err := e.Store.UpdateExecutionStatus(ctx, executionID, models.StatusRunning, &currentNodeID, finalJSON); err != nil {
			return fmt.Errorf("update execution status: %w", err)
		}
		e.writeSnapshotIfNeeded(ctx, executionID)
	}
}

func (e *Engine) complete(ctx context.Context, executionID uuid.UUID, currentNodeID string, ec *execctx.Context, payload map[string]any) error {
	if err := e.appendEvent(ctx, executionID, nil, models.EventRunCompleted, payload); err != nil {
		return err
	}
	finalJSON, err := ec.ToJSON()
	if err != nil {
		return err
	}
	if err := e.Store.UpdateExecutionStatus(ctx, executionID, models.StatusCompleted, &currentNodeID, finalJSON); err != nil {
		return err
	}
	e.writeSnapshotIfNeeded(ctx, executionID)
	return nil
}

func (e *Engine) failMissingEntry(ctx context.Context, executionID uuid.UUID) error {
	_ = e.appendEvent(ctx, executionID, nil, models.EventNodeFailed, map[string]any{
		"error": "Missing or invalid entry_node_id",
	})
	return e.Store.UpdateExecutionStatus(ctx, executionID, models.StatusFailed, nil, nil)
}

func (e *Engine) applyParameterDefaults(g *graph.Graph, ec *execctx.Context) {
	for _, node := range g.Nodes {
		if node.NodeType != graph.NodeParameters {
			continue
		}
		params, _ := node.Config["parameters"].([]any)
		for _, raw := range params {
			p, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := p["name"].(string)
			if name == "" {
				continue
			}
			if _, exists := ec.Vars[name]; exists {
				continue
			}
			ec.Vars[name] = p["defaultValue"]
		}
	}
}

func (e *Engine) writeSnapshotIfNeeded(ctx context.Context, executionID uuid.UUID) {
	nextIdx, err := e.Store.GetNextEventIndex(ctx, executionID)
	if err != nil || e.SnapshotInterval <= 0 {
		return
	}
	if nextIdx > 0 && nextIdx%e.SnapshotInterval == 0 {
		exec, err := e.Store.GetExecution(ctx, executionID)
		if err != nil {
			return
		}
		eventIndex := nextIdx - 1
		_ = e.Store.CreateSnapshot(ctx, &models.ExecutionSnapshot{
			ExecutionID: executionID,
			EventIndex:  eventIndex,
			ContextJSON: exec.FinalContextJSON,
		})
		_ = e.appendEvent(ctx, executionID, nil, models.EventSnapshotWritten, map[string]any{
			"event_index": eventIndex,
		})
	}
}

func (e *Engine) appendEvent(ctx context.Context, executionID uuid.UUID, nodeID *string, eventType string, payload map[string]any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		raw = b
	}
	return e.Store.AppendEvent(ctx, &models.ExecutionEvent{
		ExecutionID: executionID,
		EventType:   eventType,
		NodeID:      nodeID,
		Payload:     raw,
	})
}

func (e *Engine) dispatcherFor(g *graph.Graph, executionID uuid.UUID) *dispatch.Dispatcher {
	return &dispatch.Dispatcher{
		Evaluator: e.Evaluator,
		HTTP:      e.HTTP,
		AuthDefs:  httpexec.ResolveAuthDefinitions(g.Nodes),
		Invoke: func(ctx context.Context, node *graph.Node, c *execctx.Context, callDepth int, correlationID string) (map[string]any, error) {
			return e.invokeSubWorkflow(ctx, executionID, node, c, callDepth, correlationID)
		},
		SaveOutput: func(ctx context.Context, key string, value any) error {
			valueJSON, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("marshal saved output %q: %w", key, err)
			}
			return e.Store.CreateSavedOutput(ctx, &models.SavedOutput{
				ExecutionID: executionID,
				Key:         key,
				ValueJSON:   valueJSON,
			})
		},
	}
}
