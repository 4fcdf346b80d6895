// Package models defines the persisted data model of the workflow engine
// (spec §3): workflows, graphs, executions, the append-only event log,
// snapshots, and saved outputs.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Workflow is the named container for versions of a graph.
type Workflow struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	CreatedBy *string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// WorkflowVersion is an immutable snapshot of a graph under a Workflow.
type WorkflowVersion struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	WorkflowID    uuid.UUID       `json:"workflow_id" db:"workflow_id"`
	VersionNumber int             `json:"version_number" db:"version_number"`
	GraphJSON     json.RawMessage `json:"graph_json" db:"graph_json"`
	VersionNote   *string         `json:"version_note,omitempty" db:"version_note"`
	VersionTag    *string         `json:"version_tag,omitempty" db:"version_tag"`
	IsPublished   bool            `json:"is_published" db:"is_published"`
	CreatedBy     *string         `json:"created_by,omitempty" db:"created_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// ExecutionStatus is the lowercase status vocabulary used throughout the
// engine and control plane (matches original_source's ExecutionStatus
// Literal exactly; NOT the teacher's own uppercase RunStatus enum).
type ExecutionStatus string

const (
	StatusQueued    ExecutionStatus = "queued"
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusAborted   ExecutionStatus = "aborted"
)

// Execution is one run (or resumable attempt) of a WorkflowVersion.
type Execution struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	WorkflowVersionID uuid.UUID       `json:"workflow_version_id" db:"workflow_version_id"`
	Status            ExecutionStatus `json:"status" db:"status"`
	CurrentNodeID     *string         `json:"current_node_id,omitempty" db:"current_node_id"`
	InputJSON         json.RawMessage `json:"input_json" db:"input_json"`
	FinalContextJSON  json.RawMessage `json:"final_context_json,omitempty" db:"final_context_json"`
	TriggerType       string          `json:"trigger_type" db:"trigger_type"`
	TriggerPayload    json.RawMessage `json:"trigger_payload,omitempty" db:"trigger_payload"`
	IdempotencyKey    *string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CorrelationID     *string         `json:"correlation_id,omitempty" db:"correlation_id"`
	ParentExecutionID *uuid.UUID      `json:"parent_execution_id,omitempty" db:"parent_execution_id"`
	DebugMode         bool            `json:"debug_mode" db:"debug_mode"`
	StartedAt         time.Time       `json:"started_at" db:"started_at"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// ExecutionEvent is one entry of the append-only, dense, strictly
// increasing-per-execution event log.
type ExecutionEvent struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	ExecutionID uuid.UUID       `json:"execution_id" db:"execution_id"`
	EventIndex  int             `json:"event_index" db:"event_index"`
	EventType   string          `json:"event_type" db:"event_type"`
	NodeID      *string         `json:"node_id,omitempty" db:"node_id"`
	Payload     json.RawMessage `json:"payload,omitempty" db:"payload"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Event type vocabulary (spec §6).
const (
	EventRunStarted          = "RUN_STARTED"
	EventRunCompleted        = "RUN_COMPLETED"
	EventRunAborted          = "RUN_ABORTED"
	EventRunResumed          = "RUN_RESUMED"
	EventNodeStarted         = "NODE_STARTED"
	EventNodeSucceeded       = "NODE_SUCCEEDED"
	EventNodeFailed          = "NODE_FAILED"
	EventEdgeTraversed       = "EDGE_TRAVERSED"
	EventBreakpointPaused    = "BREAKPOINT_PAUSED"
	EventSnapshotWritten     = "SNAPSHOT_WRITTEN"
	EventInvokeWorkflowStart = "INVOKE_WORKFLOW_STARTED"
	EventInvokeWorkflowOK    = "INVOKE_WORKFLOW_SUCCEEDED"
)

// ExecutionSnapshot is a periodic durable copy of ExecutionContext taken
// every snapshot_interval events, keyed by the event_index it was taken at.
type ExecutionSnapshot struct {
	ExecutionID uuid.UUID       `json:"execution_id" db:"execution_id"`
	EventIndex  int             `json:"event_index" db:"event_index"`
	ContextJSON json.RawMessage `json:"context_json" db:"context_json"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// SavedOutput is a named value persisted by a `save` node.
type SavedOutput struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	ExecutionID uuid.UUID       `json:"execution_id" db:"execution_id"`
	Key         string          `json:"key" db:"key"`
	ValueJSON   json.RawMessage `json:"value_json" db:"value_json"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
