// Package pg is the Postgres-backed store.Store implementation, grounded
// in the teacher's cmd/orchestrator/repository pattern (one struct per
// aggregate, parameterized SQL, RETURNING clauses, fmt.Errorf %w wrapping)
// and in original_source/repository.py's exact table/column layout under
// the "api" schema.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/workflowengine/common/db"
	"github.com/lyzr/workflowengine/internal/models"
	"github.com/lyzr/workflowengine/internal/store"
)

// Store is a pgx-backed store.Store.
type Store struct {
	db     *db.DB
	locker Locker
}

// New wraps an already-connected *db.DB. The store relies solely on the
// DB's unique-constraint backstop for event-index serialization until
// WithLocker attaches a distributed advisory lock.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// WithLocker attaches the per-execution advisory lock described in spec
// §11.3; pass nil to fall back to the unique-constraint-only behavior.
func (s *Store) WithLocker(l Locker) *Store {
	s.locker = l
	return s
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	const q = `
		INSERT INTO api.workflows (id, name, created_by)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`
	return s.db.QueryRow(ctx, q, w.ID, w.Name, w.CreatedBy).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	const q = `
		SELECT id, name, created_by, created_at, updated_at
		FROM api.workflows WHERE id = $1`
	w := &models.Workflow{}
	err := s.db.QueryRow(ctx, q, id).Scan(&w.ID, &w.Name, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", mapNoRows(err))
	}
	return w, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	const q = `
		SELECT id, name, created_by, created_at, updated_at
		FROM api.workflows ORDER BY created_at ASC`
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		w := &models.Workflow{}
		if err := rows.Scan(&w.ID, &w.Name, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) CreateWorkflowVersion(ctx context.Context, v *models.WorkflowVersion) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	const q = `
		INSERT INTO api.workflow_versions
			(id, workflow_id, version_number, graph_json, version_note, version_tag, is_published, created_by)
		VALUES ($1, $2,
			COALESCE((SELECT MAX(version_number) FROM api.workflow_versions WHERE workflow_id = $2), 0) + 1,
			$3, $4, $5, $6, $7)
		RETURNING version_number, created_at`
	return s.db.QueryRow(ctx, q, v.ID, v.WorkflowID, v.GraphJSON, v.VersionNote, v.VersionTag, v.IsPublished, v.CreatedBy).
		Scan(&v.VersionNumber, &v.CreatedAt)
}

func (s *Store) GetWorkflowVersion(ctx context.Context, id uuid.UUID) (*models.WorkflowVersion, error) {
	const q = `
		SELECT id, workflow_id, version_number, graph_json, version_note, version_tag, is_published, created_by, created_at
		FROM api.workflow_versions WHERE id = $1`
	v := &models.WorkflowVersion{}
	err := s.db.QueryRow(ctx, q, id).Scan(&v.ID, &v.WorkflowID, &v.VersionNumber, &v.GraphJSON,
		&v.VersionNote, &v.VersionTag, &v.IsPublished, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get workflow version: %w", mapNoRows(err))
	}
	return v, nil
}

func (s *Store) ListWorkflowVersions(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowVersion, error) {
	const q = `
		SELECT id, workflow_id, version_number, graph_json, version_note, version_tag, is_published, created_by, created_at
		FROM api.workflow_versions WHERE workflow_id = $1 ORDER BY version_number ASC`
	rows, err := s.db.Query(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow versions: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowVersion
	for rows.Next() {
		v := &models.WorkflowVersion{}
		if err := rows.Scan(&v.ID, &v.WorkflowID, &v.VersionNumber, &v.GraphJSON,
			&v.VersionNote, &v.VersionTag, &v.IsPublished, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) GetLatestWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error) {
	const q = `
		SELECT id, workflow_id, version_number, graph_json, version_note, version_tag, is_published, created_by, created_at
		FROM api.workflow_versions WHERE workflow_id = $1 ORDER BY version_number DESC LIMIT 1`
	v := &models.WorkflowVersion{}
	err := s.db.QueryRow(ctx, q, workflowID).Scan(&v.ID, &v.WorkflowID, &v.VersionNumber, &v.GraphJSON,
		&v.VersionNote, &v.VersionTag, &v.IsPublished, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get latest workflow version: %w", mapNoRows(err))
	}
	return v, nil
}

func (s *Store) GetLatestPublishedWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error) {
	const q = `
		SELECT id, workflow_id, version_number, graph_json, version_note, version_tag, is_published, created_by, created_at
		FROM api.workflow_versions
		WHERE workflow_id = $1 AND is_published = TRUE
		ORDER BY version_number DESC LIMIT 1`
	v := &models.WorkflowVersion{}
	err := s.db.QueryRow(ctx, q, workflowID).Scan(&v.ID, &v.WorkflowID, &v.VersionNumber, &v.GraphJSON,
		&v.VersionNote, &v.VersionTag, &v.IsPublished, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get latest published workflow version: %w", mapNoRows(err))
	}
	return v, nil
}

func (s *Store) CreateExecution(ctx context.Context, e *models.Execution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = models.StatusRunning
	}
	const q = `
		INSERT INTO api.executions
			(id, workflow_version_id, status, input_json, trigger_type, trigger_payload,
			 idempotency_key, correlation_id, parent_execution_id, debug_mode, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING started_at`
	return s.db.QueryRow(ctx, q, e.ID, e.WorkflowVersionID, e.Status, e.InputJSON, e.TriggerType,
		e.TriggerPayload, e.IdempotencyKey, e.CorrelationID, e.ParentExecutionID, e.DebugMode).
		Scan(&e.StartedAt)
}

func (s *Store) scanExecution(row pgx.Row) (*models.Execution, error) {
	e := &models.Execution{}
	err := row.Scan(&e.ID, &e.WorkflowVersionID, &e.Status, &e.CurrentNodeID, &e.InputJSON,
		&e.FinalContextJSON, &e.TriggerType, &e.TriggerPayload, &e.IdempotencyKey, &e.CorrelationID,
		&e.ParentExecutionID, &e.DebugMode, &e.StartedAt, &e.FinishedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

const executionColumns = `id, workflow_version_id, status, current_node_id, input_json,
	final_context_json, trigger_type, trigger_payload, idempotency_key, correlation_id,
	parent_execution_id, debug_mode, started_at, finished_at`

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	q := fmt.Sprintf(`SELECT %s FROM api.executions WHERE id = $1`, executionColumns)
	e, err := s.scanExecution(s.db.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", mapNoRows(err))
	}
	return e, nil
}

func (s *Store) GetExecutionByIdempotencyKey(ctx context.Context, key string) (*models.Execution, error) {
	q := fmt.Sprintf(`SELECT %s FROM api.executions WHERE idempotency_key = $1`, executionColumns)
	e, err := s.scanExecution(s.db.QueryRow(ctx, q, key))
	if err != nil {
		return nil, fmt.Errorf("get execution by idempotency key: %w", mapNoRows(err))
	}
	return e, nil
}

// UpdateExecutionStatus mirrors the reference repository's three-branch
// update: terminal statuses always stamp finished_at; a nil
// finalContextJSON means "do not overwrite the stored context".
func (s *Store) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, currentNodeID *string, finalContextJSON json.RawMessage) error {
	terminal := status == models.StatusCompleted || status == models.StatusFailed || status == models.StatusAborted

	switch {
	case terminal:
		const q = `
			UPDATE api.executions
			SET status = $2, current_node_id = $3, final_context_json = COALESCE($4, final_context_json), finished_at = now()
			WHERE id = $1`
		_, err := s.db.Exec(ctx, q, id, status, currentNodeID, finalContextJSON)
		return err
	case finalContextJSON == nil:
		const q = `
			UPDATE api.executions
			SET status = $2, current_node_id = $3
			WHERE id = $1`
		_, err := s.db.Exec(ctx, q, id, status, currentNodeID)
		return err
	default:
		const q = `
			UPDATE api.executions
			SET status = $2, current_node_id = $3, final_context_json = $4
			WHERE id = $1`
		_, err := s.db.Exec(ctx, q, id, status, currentNodeID, finalContextJSON)
		return err
	}
}

func (s *Store) GetNextEventIndex(ctx context.Context, executionID uuid.UUID) (int, error) {
	const q = `SELECT COALESCE(MAX(event_index), -1) + 1 FROM api.execution_events WHERE execution_id = $1`
	var next int
	err := s.db.QueryRow(ctx, q, executionID).Scan(&next)
	return next, err
}

// AppendEvent computes the next event index and inserts within one
// statement's transaction boundary; a unique index on
// (execution_id, event_index) is the durable backstop against the
// read-then-write race spec §4.1/§9 calls out, on top of the optional
// advisory lock (s.locker, e.g. a RedisLocker) that AppendEvent itself
// takes for multi-instance deployments.
func (s *Store) AppendEvent(ctx context.Context, ev *models.ExecutionEvent) error {
	if s.locker != nil {
		release, err := s.locker.Lock(ctx, ev.ExecutionID.String())
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		defer release()
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	const q = `
		INSERT INTO api.execution_events (id, execution_id, event_index, event_type, node_id, payload)
		VALUES ($1, $2,
			COALESCE((SELECT MAX(event_index) FROM api.execution_events WHERE execution_id = $2), -1) + 1,
			$3, $4, $5)
		RETURNING event_index, created_at`
	return s.db.QueryRow(ctx, q, ev.ID, ev.ExecutionID, ev.EventType, ev.NodeID, ev.Payload).
		Scan(&ev.EventIndex, &ev.CreatedAt)
}

func (s *Store) ListEvents(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionEvent, error) {
	const q = `
		SELECT id, execution_id, event_index, event_type, node_id, payload, created_at
		FROM api.execution_events WHERE execution_id = $1 ORDER BY event_index ASC`
	rows, err := s.db.Query(ctx, q, executionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionEvent
	for rows.Next() {
		ev := &models.ExecutionEvent{}
		if err := rows.Scan(&ev.ID, &ev.ExecutionID, &ev.EventIndex, &ev.EventType, &ev.NodeID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) CreateSnapshot(ctx context.Context, snap *models.ExecutionSnapshot) error {
	const q = `
		INSERT INTO api.execution_snapshots (execution_id, event_index, context_json)
		VALUES ($1, $2, $3)
		ON CONFLICT (execution_id, event_index) DO NOTHING`
	_, err := s.db.Exec(ctx, q, snap.ExecutionID, snap.EventIndex, snap.ContextJSON)
	return err
}

func (s *Store) GetLatestSnapshotBefore(ctx context.Context, executionID uuid.UUID, eventIndex int) (*models.ExecutionSnapshot, error) {
	const q = `
		SELECT execution_id, event_index, context_json, created_at
		FROM api.execution_snapshots
		WHERE execution_id = $1 AND event_index <= $2
		ORDER BY event_index DESC LIMIT 1`
	snap := &models.ExecutionSnapshot{}
	err := s.db.QueryRow(ctx, q, executionID, eventIndex).
		Scan(&snap.ExecutionID, &snap.EventIndex, &snap.ContextJSON, &snap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get latest snapshot: %w", mapNoRows(err))
	}
	return snap, nil
}

func (s *Store) CreateSavedOutput(ctx context.Context, o *models.SavedOutput) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	const q = `
		INSERT INTO api.saved_outputs (id, execution_id, key, value_json)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	return s.db.QueryRow(ctx, q, o.ID, o.ExecutionID, o.Key, o.ValueJSON).Scan(&o.CreatedAt)
}

var _ store.Store = (*Store)(nil)
