package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lyzr/workflowengine/common/logger"
	"github.com/lyzr/workflowengine/internal/engine"
	"github.com/lyzr/workflowengine/internal/expr"
	"github.com/lyzr/workflowengine/internal/httpexec"
	"github.com/lyzr/workflowengine/internal/models"
	"github.com/lyzr/workflowengine/internal/store/memstore"
)

func newTestEngine(t *testing.T) (*engine.Engine, *memstore.Store) {
	t.Helper()
	return newTestEngineWithSnapshotInterval(t, 0)
}

func newTestEngineWithSnapshotInterval(t *testing.T, interval int) (*engine.Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	evaluator, err := expr.New()
	if err != nil {
		t.Fatalf("expr.New: %v", err)
	}
	httpExec := httpexec.New().WithPrivateNetworksAllowed(true)
	log := logger.New("error", "text")
	return engine.New(st, evaluator, httpExec, interval, 10, log), st
}

func createVersion(t *testing.T, st *memstore.Store, graphJSON string) *models.WorkflowVersion {
	t.Helper()
	ctx := context.Background()
	wf := &models.Workflow{Name: "test-workflow"}
	if err := st.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	v := &models.WorkflowVersion{WorkflowID: wf.ID, GraphJSON: json.RawMessage(graphJSON), IsPublished: true}
	if err := st.CreateWorkflowVersion(ctx, v); err != nil {
		t.Fatalf("CreateWorkflowVersion: %v", err)
	}
	return v
}

func createExecution(t *testing.T, st *memstore.Store, version *models.WorkflowVersion) *models.Execution {
	t.Helper()
	e := &models.Execution{WorkflowVersionID: version.ID, InputJSON: []byte(`{}`)}
	if err := st.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	return e
}

// Scenario: branch on an `if` node's result, then save the branch outcome.
func TestScenario_BranchAndSave(t *testing.T) {
	eng, st := newTestEngine(t)
	graphJSON := `{
		"entry_node_id": "start",
		"nodes": [
			{"id": "start", "data": {"nodeType": "start", "config": {}}},
			{"id": "check", "data": {"nodeType": "if", "config": {"expression": "vars.count > 1"}}},
			{"id": "save_high", "data": {"nodeType": "save", "config": {"key": "branch", "from": "vars.count"}}},
			{"id": "end", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "check"},
			{"id": "e2", "source": "check", "target": "save_high", "data": {"condition": "true"}},
			{"id": "e3", "source": "check", "target": "end", "data": {"condition": "false"}},
			{"id": "e4", "source": "save_high", "target": "end"}
		]
	}`
	version := createVersion(t, st, graphJSON)
	exec := createExecution(t, st, version)

	err := eng.Run(context.Background(), exec.ID, version, engine.RunOptions{Input: map[string]any{"count": 5}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := st.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed status, got %q", got.Status)
	}

	var ctxDump map[string]any
	if err := json.Unmarshal(got.FinalContextJSON, &ctxDump); err != nil {
		t.Fatalf("unmarshal final context: %v", err)
	}
	system := ctxDump["system"].(map[string]any)
	savedOutputs := system["saved_outputs"].(map[string]any)
	if savedOutputs["branch"] != float64(5) {
		t.Fatalf("expected the true branch to save vars.count=5, got %#v", savedOutputs["branch"])
	}
}

// Scenario: a breakpointed edge pauses the run; resuming continues to completion.
func TestScenario_BreakpointPauseAndResume(t *testing.T) {
	eng, st := newTestEngine(t)
	graphJSON := `{
		"entry_node_id": "start",
		"nodes": [
			{"id": "start", "data": {"nodeType": "start", "config": {}}},
			{"id": "define", "data": {"nodeType": "define_variable", "config": {"name": "x", "source": "node_output", "selector": ""}}},
			{"id": "end", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "define", "data": {"breakpoint": true}},
			{"id": "e2", "source": "define", "target": "end"}
		]
	}`
	version := createVersion(t, st, graphJSON)
	exec := createExecution(t, st, version)

	if err := eng.Run(context.Background(), exec.ID, version, engine.RunOptions{}); err != nil {
		t.Fatalf("Run (initial): %v", err)
	}

	paused, err := st.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if paused.Status != models.StatusPaused {
		t.Fatalf("expected paused status, got %q", paused.Status)
	}
	if paused.CurrentNodeID == nil || *paused.CurrentNodeID != "define" {
		t.Fatalf("expected paused at 'define', got %v", paused.CurrentNodeID)
	}

	if err := eng.ContinueFromPause(context.Background(), exec.ID, engine.ResumeResume); err != nil {
		t.Fatalf("ContinueFromPause: %v", err)
	}

	resumed, err := st.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if resumed.Status != models.StatusCompleted {
		t.Fatalf("expected completed after resume, got %q", resumed.Status)
	}
}

// Scenario: paginate_request with the page_number strategy fetches until has_more is false.
func TestScenario_PaginatorPageNumber(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		if page == "2" {
			w.Write([]byte(`{"items": [3], "has_more": false}`))
			return
		}
		w.Write([]byte(`{"items": [1, 2], "has_more": true}`))
	}))
	defer srv.Close()

	eng, st := newTestEngine(t)
	graphJSON := `{
		"entry_node_id": "start",
		"nodes": [
			{"id": "start", "data": {"nodeType": "start", "config": {}}},
			{"id": "page", "data": {"nodeType": "paginate_request", "config": {"url": "` + srv.URL + `", "method": "GET", "strategy": "page_number"}}},
			{"id": "end", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "page"},
			{"id": "e2", "source": "page", "target": "end"}
		]
	}`
	version := createVersion(t, st, graphJSON)
	exec := createExecution(t, st, version)

	if err := eng.Run(context.Background(), exec.ID, version, engine.RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if requests != 2 {
		t.Fatalf("expected 2 paginated requests, got %d", requests)
	}

	got, err := st.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %q", got.Status)
	}
}

// Scenario: repeated 5xx responses trip the node's circuit breaker, which
// then fails fast on the next invocation without calling the upstream.
func TestScenario_CircuitBreakerTrips(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	eng, st := newTestEngine(t)
	graphJSON := `{
		"entry_node_id": "start",
		"nodes": [
			{"id": "start", "data": {"nodeType": "start", "config": {}}},
			{"id": "call", "data": {"nodeType": "start_request", "config": {
				"url": "` + srv.URL + `", "method": "GET", "backoff": "fixed",
				"retryAttempts": 1, "circuitFailureThreshold": 2, "circuitOpenMs": 60000
			}}},
			{"id": "end", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "call"},
			{"id": "e2", "source": "call", "target": "end"}
		]
	}`
	version := createVersion(t, st, graphJSON)

	// retryAttempts=1 means 2 total attempts against the 503 upstream within
	// this single run, reaching circuitFailureThreshold=2 and tripping the
	// breaker before the run ultimately fails.
	exec := createExecution(t, st, version)
	runErr := eng.Run(context.Background(), exec.ID, version, engine.RunOptions{})
	if runErr == nil {
		t.Fatal("expected run to fail against a 503 upstream")
	}
	if hits != 2 {
		t.Fatalf("expected 2 upstream calls (initial + 1 retry), got %d", hits)
	}

	got, err := st.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failed status, got %q", got.Status)
	}

	var ctxDump map[string]any
	if err := json.Unmarshal(got.FinalContextJSON, &ctxDump); err != nil {
		t.Fatalf("unmarshal final context: %v", err)
	}
	system := ctxDump["system"].(map[string]any)
	breakers := system["circuit_breakers"].(map[string]any)
	callState := breakers["call"].(map[string]any)
	if callState["failures"].(float64) < 2 {
		t.Fatalf("expected breaker to record >=2 failures, got %#v", callState["failures"])
	}
	if callState["open_until_ms"].(float64) <= 0 {
		t.Fatal("expected breaker to be open after tripping")
	}
}

// Scenario: invoke_workflow runs a published sub-workflow synchronously to
// completion and folds its result back into the parent context.
func TestScenario_SubWorkflowSuccess(t *testing.T) {
	eng, st := newTestEngine(t)

	childGraph := `{
		"entry_node_id": "start",
		"nodes": [
			{"id": "start", "data": {"nodeType": "start", "config": {}}},
			{"id": "end", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "end"}
		]
	}`
	childVersion := createVersion(t, st, childGraph)

	parentGraph := `{
		"entry_node_id": "start",
		"nodes": [
			{"id": "start", "data": {"nodeType": "start", "config": {}}},
			{"id": "invoke", "data": {"nodeType": "invoke_workflow", "config": {
				"targetWorkflowVersionId": "` + childVersion.ID.String() + `"
			}}},
			{"id": "end", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "invoke"},
			{"id": "e2", "source": "invoke", "target": "end"}
		]
	}`
	parentVersion := createVersion(t, st, parentGraph)
	exec := createExecution(t, st, parentVersion)

	if err := eng.Run(context.Background(), exec.ID, parentVersion, engine.RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := st.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %q", got.Status)
	}
}

// Scenario: a chain of invoke_workflow calls deeper than max_call_depth is rejected.
func TestScenario_CallDepthCapExceeded(t *testing.T) {
	eng, st := newTestEngine(t)
	eng.MaxCallDepth = 1

	innerGraph := `{
		"entry_node_id": "start",
		"nodes": [
			{"id": "start", "data": {"nodeType": "start", "config": {}}},
			{"id": "end", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [{"id": "e1", "source": "start", "target": "end"}]
	}`
	innerVersion := createVersion(t, st, innerGraph)

	midGraph := `{
		"entry_node_id": "start",
		"nodes": [
			{"id": "start", "data": {"nodeType": "start", "config": {}}},
			{"id": "invoke", "data": {"nodeType": "invoke_workflow", "config": {"targetWorkflowVersionId": "` + innerVersion.ID.String() + `"}}},
			{"id": "end", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "invoke"},
			{"id": "e2", "source": "invoke", "target": "end"}
		]
	}`
	midVersion := createVersion(t, st, midGraph)

	outerGraph := `{
		"entry_node_id": "start",
		"nodes": [
			{"id": "start", "data": {"nodeType": "start", "config": {}}},
			{"id": "invoke", "data": {"nodeType": "invoke_workflow", "config": {"targetWorkflowVersionId": "` + midVersion.ID.String() + `"}}},
			{"id": "end", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "invoke"},
			{"id": "e2", "source": "invoke", "target": "end"}
		]
	}`
	outerVersion := createVersion(t, st, outerGraph)
	exec := createExecution(t, st, outerVersion)

	err := eng.Run(context.Background(), exec.ID, outerVersion, engine.RunOptions{})
	if err == nil {
		t.Fatal("expected call depth cap to be exceeded")
	}

	got, err := st.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Fatalf("expected outer execution to be marked failed, got %q", got.Status)
	}
}

// Scenario: a periodic snapshot taken mid-run reflects the node that just
// completed, not the run's state as of the previous node's completion. The
// graph and SnapshotInterval=7 are chosen so the one snapshot this run
// takes lands on the edge-traversal event immediately following "mid"'s
// success, which is where a stale snapshot would be missing "mid".
func TestScenario_PeriodicSnapshotReflectsJustCompletedNode(t *testing.T) {
	eng, st := newTestEngineWithSnapshotInterval(t, 7)
	graphJSON := `{
		"entry_node_id": "start",
		"nodes": [
			{"id": "start", "data": {"nodeType": "start", "config": {}}},
			{"id": "mid", "data": {"nodeType": "define_variable", "config": {"name": "x", "source": "node_output", "selector": ""}}},
			{"id": "end", "data": {"nodeType": "end", "config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "mid"},
			{"id": "e2", "source": "mid", "target": "end"}
		]
	}`
	version := createVersion(t, st, graphJSON)
	exec := createExecution(t, st, version)

	if err := eng.Run(context.Background(), exec.ID, version, engine.RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := st.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %q", got.Status)
	}

	snap, err := st.GetLatestSnapshotBefore(context.Background(), exec.ID, 6)
	if err != nil {
		t.Fatalf("GetLatestSnapshotBefore: %v", err)
	}
	if snap.EventIndex != 6 {
		t.Fatalf("expected the snapshot at event_index=6, got %d", snap.EventIndex)
	}

	var ctxDump map[string]any
	if err := json.Unmarshal(snap.ContextJSON, &ctxDump); err != nil {
		t.Fatalf("unmarshal snapshot context: %v", err)
	}
	nodes := ctxDump["nodes"].(map[string]any)
	midState, ok := nodes["mid"].(map[string]any)
	if !ok {
		t.Fatalf("expected snapshot context at event_index=6 to include node 'mid', got %#v", nodes)
	}
	if midState["status"] != "success" {
		t.Fatalf("expected 'mid' to be recorded as succeeded, got %#v", midState)
	}
}
