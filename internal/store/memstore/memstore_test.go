package memstore

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/lyzr/workflowengine/internal/models"
	"github.com/lyzr/workflowengine/internal/store"
)

func TestWorkflowAndVersionCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	wf := &models.Workflow{Name: "demo"}
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if wf.ID == uuid.Nil {
		t.Fatal("expected generated ID")
	}

	got, err := s.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.Name != "demo" {
		t.Fatalf("Name = %q", got.Name)
	}

	v1 := &models.WorkflowVersion{WorkflowID: wf.ID, GraphJSON: []byte(`{}`)}
	if err := s.CreateWorkflowVersion(ctx, v1); err != nil {
		t.Fatalf("CreateWorkflowVersion: %v", err)
	}
	if v1.VersionNumber != 1 {
		t.Fatalf("expected version 1, got %d", v1.VersionNumber)
	}

	v2 := &models.WorkflowVersion{WorkflowID: wf.ID, GraphJSON: []byte(`{}`), IsPublished: true}
	if err := s.CreateWorkflowVersion(ctx, v2); err != nil {
		t.Fatalf("CreateWorkflowVersion: %v", err)
	}
	if v2.VersionNumber != 2 {
		t.Fatalf("expected version 2, got %d", v2.VersionNumber)
	}

	latest, err := s.GetLatestWorkflowVersion(ctx, wf.ID)
	if err != nil || latest.ID != v2.ID {
		t.Fatalf("GetLatestWorkflowVersion = %v, %v", latest, err)
	}

	published, err := s.GetLatestPublishedWorkflowVersion(ctx, wf.ID)
	if err != nil || published.ID != v2.ID {
		t.Fatalf("GetLatestPublishedWorkflowVersion = %v, %v", published, err)
	}

	versions, err := s.ListWorkflowVersions(ctx, wf.ID)
	if err != nil || len(versions) != 2 {
		t.Fatalf("ListWorkflowVersions = %v, %v", versions, err)
	}
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := New()
	if _, err := s.GetWorkflow(context.Background(), uuid.New()); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecution_IdempotencyKeyLookup(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := "idem-1"

	e1 := &models.Execution{WorkflowVersionID: uuid.New(), IdempotencyKey: &key, InputJSON: []byte(`{}`)}
	if err := s.CreateExecution(ctx, e1); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if e1.Status != models.StatusRunning {
		t.Fatalf("expected default status running, got %q", e1.Status)
	}

	found, err := s.GetExecutionByIdempotencyKey(ctx, key)
	if err != nil {
		t.Fatalf("GetExecutionByIdempotencyKey: %v", err)
	}
	if found.ID != e1.ID {
		t.Fatalf("expected to find e1, got %v", found.ID)
	}
}

func TestUpdateExecutionStatus_SetsFinishedAt(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := &models.Execution{WorkflowVersionID: uuid.New(), InputJSON: []byte(`{}`)}
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	if err := s.UpdateExecutionStatus(ctx, e.ID, models.StatusCompleted, nil, []byte(`{"done":true}`)); err != nil {
		t.Fatalf("UpdateExecutionStatus: %v", err)
	}
	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q", got.Status)
	}
	if got.FinishedAt == nil {
		t.Fatal("expected FinishedAt to be set on completion")
	}
	if string(got.FinalContextJSON) != `{"done":true}` {
		t.Fatalf("final context = %s", got.FinalContextJSON)
	}
}

func TestAppendEvent_DenseStrictlyIncreasingIndex(t *testing.T) {
	ctx := context.Background()
	s := New()
	execID := uuid.New()

	for i := 0; i < 3; i++ {
		idx, err := s.GetNextEventIndex(ctx, execID)
		if err != nil {
			t.Fatalf("GetNextEventIndex: %v", err)
		}
		if idx != i {
			t.Fatalf("expected next index %d, got %d", i, idx)
		}
		ev := &models.ExecutionEvent{ExecutionID: execID, EventType: models.EventNodeStarted}
		if err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if ev.EventIndex != i {
			t.Fatalf("expected event_index %d, got %d", i, ev.EventIndex)
		}
	}

	events, err := s.ListEvents(ctx, execID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.EventIndex != i {
			t.Fatalf("event %d has index %d", i, ev.EventIndex)
		}
	}
}

func TestSnapshot_UpsertByExecutionAndIndex(t *testing.T) {
	ctx := context.Background()
	s := New()
	execID := uuid.New()

	snap := &models.ExecutionSnapshot{ExecutionID: execID, EventIndex: 5, ContextJSON: []byte(`{"v":1}`)}
	if err := s.CreateSnapshot(ctx, snap); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	// Duplicate (execution_id, event_index): should be a no-op, not an error.
	dup := &models.ExecutionSnapshot{ExecutionID: execID, EventIndex: 5, ContextJSON: []byte(`{"v":2}`)}
	if err := s.CreateSnapshot(ctx, dup); err != nil {
		t.Fatalf("CreateSnapshot (dup): %v", err)
	}

	got, err := s.GetLatestSnapshotBefore(ctx, execID, 5)
	if err != nil {
		t.Fatalf("GetLatestSnapshotBefore: %v", err)
	}
	if string(got.ContextJSON) != `{"v":1}` {
		t.Fatalf("expected first-write-wins snapshot, got %s", got.ContextJSON)
	}
}

func TestGetLatestSnapshotBefore_BestMatchAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	execID := uuid.New()

	for _, idx := range []int{0, 10, 20} {
		snap := &models.ExecutionSnapshot{ExecutionID: execID, EventIndex: idx, ContextJSON: []byte(`{}`)}
		if err := s.CreateSnapshot(ctx, snap); err != nil {
			t.Fatalf("CreateSnapshot: %v", err)
		}
	}

	got, err := s.GetLatestSnapshotBefore(ctx, execID, 15)
	if err != nil {
		t.Fatalf("GetLatestSnapshotBefore: %v", err)
	}
	if got.EventIndex != 10 {
		t.Fatalf("expected best match at index 10, got %d", got.EventIndex)
	}

	if _, err := s.GetLatestSnapshotBefore(ctx, execID, -1); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound below all snapshots, got %v", err)
	}
}

func TestCreateSavedOutput(t *testing.T) {
	ctx := context.Background()
	s := New()
	execID := uuid.New()

	out := &models.SavedOutput{ExecutionID: execID, Key: "result", ValueJSON: []byte(`"ok"`)}
	if err := s.CreateSavedOutput(ctx, out); err != nil {
		t.Fatalf("CreateSavedOutput: %v", err)
	}
	if out.ID == uuid.Nil {
		t.Fatal("expected generated ID")
	}
}
