package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lyzr/workflowengine/internal/execctx"
	"github.com/lyzr/workflowengine/internal/graph"
	"github.com/lyzr/workflowengine/internal/models"
)

// invokeSubWorkflow implements the invoke_workflow node (spec §4.9):
// resolve the target version, deep-copy or re-resolve the child's input,
// create a child Execution row, recursively run it to completion
// synchronously, and fold its outcome back into the parent context.
// Grounded in original_source/engine.py's invoke_workflow branch of
// _execute_node.
func (e *Engine) invokeSubWorkflow(ctx context.Context, parentExecutionID uuid.UUID, node *graph.Node, c *execctx.Context, callDepth int, correlationID string) (map[string]any, error) {
	childVersion, err := e.resolveInvocationTarget(ctx, node.Config)
	if err != nil {
		return nil, err
	}

	inputMode, _ := node.Config["inputMode"].(string)
	if inputMode == "" {
		inputMode = "inherit"
	}

	var childInput any
	switch inputMode {
	case "from_var":
		inputSource, _ := node.Config["inputSource"].(string)
		if inputSource == "" {
			inputSource = "vars.input"
		}
		v, err := execctx.ResolveValue(inputSource, c, e.Evaluator.Evaluate)
		if err != nil {
			return nil, fmt.Errorf("resolve invoke_workflow inputSource: %w", err)
		}
		childInput = v
	default: // inherit
		if v, ok := c.Vars["input"].(map[string]any); ok {
			childInput = deepCopyAny(v)
		} else {
			childInput = map[string]any{}
		}
	}

	childInputMap, ok := childInput.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invoke_workflow resolved input is not an object")
	}

	childCorrelationID := correlationID
	if childCorrelationID == "" {
		childCorrelationID = parentExecutionID.String()
	}

	if err := e.appendEvent(ctx, parentExecutionID, &node.ID, models.EventInvokeWorkflowStart, map[string]any{
		"target_workflow_version_id": childVersion.ID,
		"target_workflow_id":         childVersion.WorkflowID,
	}); err != nil {
		return nil, err
	}

	inputJSON, err := json.Marshal(childInputMap)
	if err != nil {
		return nil, fmt.Errorf("marshal child input: %w", err)
	}
	triggerPayload, _ := json.Marshal(map[string]any{
		"invoked_by_execution_id": parentExecutionID,
		"invoked_by_node_id":      node.ID,
		"call_depth":              callDepth + 1,
	})

	childExecution := &models.Execution{
		WorkflowVersionID: childVersion.ID,
		Status:            models.StatusRunning,
		InputJSON:         inputJSON,
		TriggerType:       "workflow",
		TriggerPayload:    triggerPayload,
		CorrelationID:     &childCorrelationID,
		ParentExecutionID: &parentExecutionID,
	}
	if err := e.Store.CreateExecution(ctx, childExecution); err != nil {
		return nil, fmt.Errorf("create child execution: %w", err)
	}

	runErr := e.Run(ctx, childExecution.ID, childVersion, RunOptions{
		CallDepth:         callDepth + 1,
		ParentExecutionID: &parentExecutionID,
		CorrelationID:     childCorrelationID,
		Input:             childInputMap,
	})
	if runErr != nil {
		return nil, fmt.Errorf("invoke_workflow child execution failed: %w", runErr)
	}

	refreshed, err := e.Store.GetExecution(ctx, childExecution.ID)
	if err != nil {
		return nil, fmt.Errorf("reload child execution: %w", err)
	}
	if refreshed.Status != models.StatusCompleted {
		return nil, fmt.Errorf("invoke_workflow child execution failed")
	}

	if err := e.appendEvent(ctx, parentExecutionID, &node.ID, models.EventInvokeWorkflowOK, map[string]any{
		"child_execution_id": refreshed.ID,
	}); err != nil {
		return nil, err
	}

	c.Vars["last_child_execution_id"] = refreshed.ID.String()

	var childFinalContext any
	if len(refreshed.FinalContextJSON) > 0 {
		_ = json.Unmarshal(refreshed.FinalContextJSON, &childFinalContext)
	}

	return map[string]any{
		"child_execution_id":          refreshed.ID,
		"child_workflow_version_id":   childVersion.ID,
		"child_final_context":         childFinalContext,
	}, nil
}

func (e *Engine) resolveInvocationTarget(ctx context.Context, config map[string]any) (*models.WorkflowVersion, error) {
	if v, ok := config["targetWorkflowVersionId"].(string); ok && v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid targetWorkflowVersionId: %w", err)
		}
		version, err := e.Store.GetWorkflowVersion(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("target workflow version not found: %w", err)
		}
		return version, nil
	}

	if v, ok := config["targetWorkflowId"].(string); ok && v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid targetWorkflowId: %w", err)
		}
		publishedOnly := true
		if po, ok := config["publishedOnly"].(bool); ok {
			publishedOnly = po
		}
		var version *models.WorkflowVersion
		if publishedOnly {
			version, err = e.Store.GetLatestPublishedWorkflowVersion(ctx, id)
		} else {
			version, err = e.Store.GetLatestWorkflowVersion(ctx, id)
		}
		if err != nil {
			return nil, fmt.Errorf("target workflow not found: %w", err)
		}
		return version, nil
	}

	return nil, fmt.Errorf("invoke_workflow requires targetWorkflowVersionId or targetWorkflowId")
}

func deepCopyAny(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
