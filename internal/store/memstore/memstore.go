// Package memstore is an in-memory implementation of store.Store, used by
// the engine's own unit/integration tests and by embedders running without
// Postgres. Grounded in the same operation set as store/pg, mutex-guarded
// instead of transaction-guarded.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflowengine/internal/models"
	"github.com/lyzr/workflowengine/internal/store"
)

// Store is an in-memory, mutex-guarded store.Store.
type Store struct {
	mu sync.Mutex

	workflows map[uuid.UUID]*models.Workflow
	versions  map[uuid.UUID]*models.WorkflowVersion
	// versionsByWorkflow preserves creation order for "latest" lookups.
	versionsByWorkflow map[uuid.UUID][]uuid.UUID

	executions        map[uuid.UUID]*models.Execution
	executionsByIdemp map[string]uuid.UUID

	events    map[uuid.UUID][]*models.ExecutionEvent
	snapshots map[uuid.UUID][]*models.ExecutionSnapshot

	savedOutputs map[uuid.UUID][]*models.SavedOutput
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		workflows:           map[uuid.UUID]*models.Workflow{},
		versions:            map[uuid.UUID]*models.WorkflowVersion{},
		versionsByWorkflow:  map[uuid.UUID][]uuid.UUID{},
		executions:          map[uuid.UUID]*models.Execution{},
		executionsByIdemp:   map[string]uuid.UUID{},
		events:              map[uuid.UUID][]*models.ExecutionEvent{},
		snapshots:           map[uuid.UUID][]*models.ExecutionSnapshot{},
		savedOutputs:        map[uuid.UUID][]*models.SavedOutput{},
	}
}

func (s *Store) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	cp := *w
	s.workflows[w.ID] = &cp
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateWorkflowVersion(ctx context.Context, v *models.WorkflowVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	existing := s.versionsByWorkflow[v.WorkflowID]
	v.VersionNumber = len(existing) + 1
	v.CreatedAt = time.Now()
	cp := *v
	s.versions[v.ID] = &cp
	s.versionsByWorkflow[v.WorkflowID] = append(existing, v.ID)
	return nil
}

func (s *Store) GetWorkflowVersion(ctx context.Context, id uuid.UUID) (*models.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) ListWorkflowVersions(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.versionsByWorkflow[workflowID]
	out := make([]*models.WorkflowVersion, 0, len(ids))
	for _, id := range ids {
		cp := *s.versions[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) GetLatestWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.versionsByWorkflow[workflowID]
	if len(ids) == 0 {
		return nil, store.ErrNotFound
	}
	cp := *s.versions[ids[len(ids)-1]]
	return &cp, nil
}

func (s *Store) GetLatestPublishedWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.versionsByWorkflow[workflowID]
	for i := len(ids) - 1; i >= 0; i-- {
		v := s.versions[ids[i]]
		if v.IsPublished {
			cp := *v
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateExecution(ctx context.Context, e *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = models.StatusRunning
	}
	cp := *e
	s.executions[e.ID] = &cp
	if e.IdempotencyKey != nil && *e.IdempotencyKey != "" {
		s.executionsByIdemp[*e.IdempotencyKey] = e.ID
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) GetExecutionByIdempotencyKey(ctx context.Context, key string) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.executionsByIdemp[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.executions[id]
	return &cp, nil
}

func (s *Store) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, currentNodeID *string, finalContextJSON json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Status = status
	if currentNodeID != nil {
		e.CurrentNodeID = currentNodeID
	}
	if finalContextJSON != nil {
		e.FinalContextJSON = finalContextJSON
	}
	switch status {
	case models.StatusCompleted, models.StatusFailed, models.StatusAborted:
		now := time.Now()
		e.FinishedAt = &now
	}
	return nil
}

func (s *Store) GetNextEventIndex(ctx context.Context, executionID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[executionID]), nil
}

func (s *Store) AppendEvent(ctx context.Context, ev *models.ExecutionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.EventIndex = len(s.events[ev.ExecutionID])
	ev.CreatedAt = time.Now()
	cp := *ev
	s.events[ev.ExecutionID] = append(s.events[ev.ExecutionID], &cp)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.events[executionID]
	out := make([]*models.ExecutionEvent, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) CreateSnapshot(ctx context.Context, snap *models.ExecutionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.snapshots[snap.ExecutionID] {
		if existing.EventIndex == snap.EventIndex {
			return nil // ON CONFLICT DO NOTHING equivalent
		}
	}
	snap.CreatedAt = time.Now()
	cp := *snap
	s.snapshots[snap.ExecutionID] = append(s.snapshots[snap.ExecutionID], &cp)
	return nil
}

func (s *Store) GetLatestSnapshotBefore(ctx context.Context, executionID uuid.UUID, eventIndex int) (*models.ExecutionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.ExecutionSnapshot
	for _, snap := range s.snapshots[executionID] {
		if snap.EventIndex <= eventIndex && (best == nil || snap.EventIndex > best.EventIndex) {
			best = snap
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *Store) CreateSavedOutput(ctx context.Context, o *models.SavedOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now()
	cp := *o
	s.savedOutputs[o.ExecutionID] = append(s.savedOutputs[o.ExecutionID], &cp)
	return nil
}

var _ store.Store = (*Store)(nil)
