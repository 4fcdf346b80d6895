// Package store defines the engine's abstract persistence boundary
// (spec §4.1): workflow/version CRUD, execution lifecycle, the append-only
// event log, snapshots, and saved outputs. Two implementations exist:
// store/pg (Postgres, via pgx) and store/memstore (in-memory, for tests
// and embedders that don't need Postgres).
package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lyzr/workflowengine/internal/models"
)

// Store is the persistence boundary every engine operation is written
// against (spec §4.1).
type Store interface {
	CreateWorkflow(ctx context.Context, w *models.Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)

	CreateWorkflowVersion(ctx context.Context, v *models.WorkflowVersion) error
	GetWorkflowVersion(ctx context.Context, id uuid.UUID) (*models.WorkflowVersion, error)
	ListWorkflowVersions(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowVersion, error)
	GetLatestWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error)
	GetLatestPublishedWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error)

	CreateExecution(ctx context.Context, e *models.Execution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error)
	GetExecutionByIdempotencyKey(ctx context.Context, key string) (*models.Execution, error)
	UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, currentNodeID *string, finalContextJSON json.RawMessage) error

	GetNextEventIndex(ctx context.Context, executionID uuid.UUID) (int, error)
	AppendEvent(ctx context.Context, ev *models.ExecutionEvent) error
	ListEvents(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionEvent, error)

	CreateSnapshot(ctx context.Context, s *models.ExecutionSnapshot) error
	GetLatestSnapshotBefore(ctx context.Context, executionID uuid.UUID, eventIndex int) (*models.ExecutionSnapshot, error)

	CreateSavedOutput(ctx context.Context, o *models.SavedOutput) error
}

// ErrNotFound is returned by any lookup that finds no matching row.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }
