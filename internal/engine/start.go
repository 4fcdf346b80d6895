package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lyzr/workflowengine/internal/models"
	"github.com/lyzr/workflowengine/internal/store"
)

// CreateAndRun implements POST /executions (spec §6): short-circuits on an
// existing idempotency key, otherwise creates the Execution row for the
// already-resolved version passed in, and runs it synchronously to
// completion/pause. A belt-and-suspenders catch around Run mirrors
// main.py's own top-level try/except: an entirely unexpected engine-level
// failure (as opposed to a per-node failure, which Run already records)
// still leaves the execution in a terminal "failed" state instead of
// stuck "running".
func (e *Engine) CreateAndRun(ctx context.Context, version *models.WorkflowVersion, req *models.ExecutionCreate) (*models.Execution, error) {
	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		existing, err := e.Store.GetExecutionByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = "api"
	}

	var input map[string]any
	if len(req.InputJSON) > 0 {
		if err := json.Unmarshal(req.InputJSON, &input); err != nil {
			return nil, fmt.Errorf("invalid input_json: %w", err)
		}
	}

	execution := &models.Execution{
		WorkflowVersionID: version.ID,
		Status:            models.StatusRunning,
		InputJSON:         req.InputJSON,
		TriggerType:       triggerType,
		TriggerPayload:    req.TriggerPayload,
		IdempotencyKey:    req.IdempotencyKey,
		CorrelationID:     req.CorrelationID,
		ParentExecutionID: req.ParentExecutionID,
		DebugMode:         req.DebugMode,
	}
	if execution.InputJSON == nil {
		execution.InputJSON = json.RawMessage(`{}`)
	}

	if err := e.Store.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				_ = e.appendEvent(ctx, execution.ID, nil, models.EventNodeFailed, map[string]any{
					"error": fmt.Sprintf("panic: %v", r),
				})
				_ = e.Store.UpdateExecutionStatus(ctx, execution.ID, models.StatusFailed, nil, nil)
			}
		}()

		if err := e.Run(ctx, execution.ID, version, RunOptions{Input: input}); err != nil {
			_ = e.appendEvent(ctx, execution.ID, nil, models.EventNodeFailed, map[string]any{
				"error": err.Error(),
			})
			_ = e.Store.UpdateExecutionStatus(ctx, execution.ID, models.StatusFailed, nil, nil)
		}
	}()

	refreshed, err := e.Store.GetExecution(ctx, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("reload execution: %w", err)
	}
	return refreshed, nil
}
