package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lyzr/workflowengine/internal/execctx"
	"github.com/lyzr/workflowengine/internal/models"
)

// ResumeAction is the verb a debug command carries (spec §4.11/§6).
type ResumeAction string

const (
	ResumeResume ResumeAction = "resume"
	ResumeStep   ResumeAction = "step"
	ResumeAbort  ResumeAction = "abort"
)

// NoResumeCursor is returned when a paused execution has no stored
// current_node_id to resume from.
var NoResumeCursor = fmt.Errorf("execution has no resume node")

// ContinueFromPause implements the resume controller (spec §4.11):
// "abort" terminates the execution without touching the graph; "resume"
// and "step" are semantically identical at the engine level — both
// reconstruct the context from final_context_json and re-enter the run
// loop at current_node_id. Grounded in original_source/engine.py's
// continue_execution_from_pause.
func (e *Engine) ContinueFromPause(ctx context.Context, executionID uuid.UUID, action ResumeAction) error {
	if action == ResumeAbort {
		if err := e.appendEvent(ctx, executionID, nil, models.EventRunAborted, nil); err != nil {
			return err
		}
		return e.Store.UpdateExecutionStatus(ctx, executionID, models.StatusAborted, nil, nil)
	}

	exec, err := e.Store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}

	ec, err := execctx.FromJSON(exec.FinalContextJSON)
	if err != nil {
		return fmt.Errorf("reconstruct context: %w", err)
	}

	if exec.CurrentNodeID == nil || *exec.CurrentNodeID == "" {
		return NoResumeCursor
	}
	startNodeID := *exec.CurrentNodeID

	if err := e.appendEvent(ctx, executionID, nil, models.EventRunResumed, map[string]any{
		"mode": string(action), "resume_node_id": startNodeID,
	}); err != nil {
		return err
	}

	version, err := e.Store.GetWorkflowVersion(ctx, exec.WorkflowVersionID)
	if err != nil {
		return fmt.Errorf("load workflow version: %w", err)
	}

	callDepth := 0
	if v, ok := ec.System["call_depth"].(float64); ok {
		callDepth = int(v)
	}
	correlationID := ""
	if exec.CorrelationID != nil {
		correlationID = *exec.CorrelationID
	}

	return e.Run(ctx, executionID, version, RunOptions{
		CallDepth:         callDepth,
		ParentExecutionID: exec.ParentExecutionID,
		CorrelationID:     correlationID,
		StartNodeID:       startNodeID,
		ContextOverride:   ec,
		IsResume:          true,
	})
}
