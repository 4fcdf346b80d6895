package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// WorkflowCreate is the request body for POST /workflows.
type WorkflowCreate struct {
	Name      string  `json:"name"`
	CreatedBy *string `json:"created_by,omitempty"`
}

// WorkflowVersionCreate is the request body for POST /workflows/{id}/versions.
type WorkflowVersionCreate struct {
	GraphJSON   json.RawMessage `json:"graph_json"`
	VersionNote *string         `json:"version_note,omitempty"`
	VersionTag  *string         `json:"version_tag,omitempty"`
	IsPublished *bool           `json:"is_published,omitempty"`
	CreatedBy   *string         `json:"created_by,omitempty"`
}

// Published reports whether the version should be marked published,
// defaulting to true (matches original_source's is_published=True default).
func (c *WorkflowVersionCreate) Published() bool {
	if c.IsPublished == nil {
		return true
	}
	return *c.IsPublished
}

// ExecutionCreate is the request body for POST /executions.
type ExecutionCreate struct {
	WorkflowVersionID *uuid.UUID      `json:"workflow_version_id,omitempty"`
	WorkflowID        *uuid.UUID      `json:"workflow_id,omitempty"`
	PublishedOnly     *bool           `json:"published_only,omitempty"`
	InputJSON         json.RawMessage `json:"input_json,omitempty"`
	DebugMode         bool            `json:"debug_mode,omitempty"`
	TriggerType       string          `json:"trigger_type,omitempty"`
	TriggerPayload    json.RawMessage `json:"trigger_payload,omitempty"`
	IdempotencyKey    *string         `json:"idempotency_key,omitempty"`
	CorrelationID     *string         `json:"correlation_id,omitempty"`
	ParentExecutionID *uuid.UUID      `json:"parent_execution_id,omitempty"`
}

// PublishedOnlyOrDefault mirrors the Python model's published_only=True default.
func (c *ExecutionCreate) PublishedOnlyOrDefault() bool {
	if c.PublishedOnly == nil {
		return true
	}
	return *c.PublishedOnly
}

// Validate enforces the "exactly one of workflow_version_id/workflow_id"
// invariant from spec §6.
func (c *ExecutionCreate) Validate() error {
	hasVersion := c.WorkflowVersionID != nil
	hasWorkflow := c.WorkflowID != nil
	if hasVersion == hasWorkflow {
		return fmt.Errorf("exactly one of workflow_version_id or workflow_id must be set")
	}
	return nil
}

// DebugAction is the {action} path segment of POST /executions/{id}/debug/{action}.
type DebugAction string

const (
	DebugResume DebugAction = "resume"
	DebugStep   DebugAction = "step"
	DebugAbort  DebugAction = "abort"
)
