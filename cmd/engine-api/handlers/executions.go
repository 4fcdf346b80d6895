package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflowengine/common/ratelimit"
	"github.com/lyzr/workflowengine/internal/engine"
	"github.com/lyzr/workflowengine/internal/models"
	"github.com/lyzr/workflowengine/internal/store"
)

// ExecutionHandler serves /executions and its debug/state sub-routes.
type ExecutionHandler struct {
	Engine      *engine.Engine
	Store       store.Store
	RateLimiter *ratelimit.RateLimiter // nil disables per-workflow-tier throttling
}

func NewExecutionHandler(eng *engine.Engine, st store.Store) *ExecutionHandler {
	return &ExecutionHandler{Engine: eng, Store: st}
}

// WithRateLimiter attaches the tiered rate limiter Create uses to throttle
// execution creation by the resolved workflow's complexity (spec §13.4).
func (h *ExecutionHandler) WithRateLimiter(rl *ratelimit.RateLimiter) *ExecutionHandler {
	h.RateLimiter = rl
	return h
}

func (h *ExecutionHandler) Create(c echo.Context) error {
	var req models.ExecutionCreate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	ctx := c.Request().Context()
	version, err := h.resolveVersion(ctx, &req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if blocked, resp := h.checkTieredLimit(c, version); blocked {
		return resp
	}

	execution, err := h.Engine.CreateAndRun(ctx, version, &req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, execution)
}

// checkTieredLimit throttles execution creation using the resolved
// workflow's own complexity tier (spec §13.4) rather than one flat limit
// for every execution regardless of how heavy its graph is. Skipped when
// no rate limiter is configured or the request carries no user identity.
func (h *ExecutionHandler) checkTieredLimit(c echo.Context, version *models.WorkflowVersion) (bool, error) {
	if h.RateLimiter == nil {
		return false, nil
	}
	userID, _ := c.Get("user_id").(string)
	if userID == "" {
		return false, nil
	}

	var graph map[string]interface{}
	if err := json.Unmarshal(version.GraphJSON, &graph); err != nil {
		return false, nil
	}
	profile := ratelimit.InspectWorkflow(graph)

	result, err := h.RateLimiter.CheckTieredLimit(c.Request().Context(), userID, profile.Tier)
	if err != nil {
		// fail open for availability, matching common/middleware's rate limiters
		return false, nil
	}
	if result.Allowed {
		return false, nil
	}

	return true, c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":   "workflow_rate_limit_exceeded",
		"message": "You have exceeded the request quota for this workflow's tier. Please wait before trying again.",
		"details": map[string]interface{}{
			"tier":                profile.Tier.String(),
			"limit":               result.Limit,
			"window":              "60 seconds",
			"current_count":       result.CurrentCount,
			"retry_after_seconds": result.RetryAfterSeconds,
		},
	})
}

// resolveVersion follows the ExecutionCreate "exactly one of
// workflow_version_id/workflow_id" contract (spec §6): a direct version id
// loads that version; a workflow id loads its latest (published, unless
// published_only=false) version.
func (h *ExecutionHandler) resolveVersion(ctx context.Context, req *models.ExecutionCreate) (*models.WorkflowVersion, error) {
	if req.WorkflowVersionID != nil {
		return h.Store.GetWorkflowVersion(ctx, *req.WorkflowVersionID)
	}
	if req.PublishedOnlyOrDefault() {
		return h.Store.GetLatestPublishedWorkflowVersion(ctx, *req.WorkflowID)
	}
	return h.Store.GetLatestWorkflowVersion(ctx, *req.WorkflowID)
}

func (h *ExecutionHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid execution id")
	}
	exec, err := h.Store.GetExecution(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, exec)
}

func (h *ExecutionHandler) ListEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid execution id")
	}
	if _, err := h.Store.GetExecution(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	events, err := h.Store.ListEvents(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, events)
}

func (h *ExecutionHandler) GetState(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid execution id")
	}
	eventIndex := -1
	if raw := c.QueryParam("event_index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid event_index")
		}
		eventIndex = n
	} else {
		events, err := h.Store.ListEvents(c.Request().Context(), id)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if len(events) > 0 {
			eventIndex = events[len(events)-1].EventIndex
		}
	}

	snap, err := h.Store.GetLatestSnapshotBefore(c.Request().Context(), id, eventIndex)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusOK, map[string]any{
				"event_index": eventIndex, "context": nil, "note": "No snapshot yet",
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"event_index":          eventIndex,
		"snapshot_event_index": snap.EventIndex,
		"context":              snap.ContextJSON,
	})
}

func (h *ExecutionHandler) Debug(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid execution id")
	}
	action := engine.ResumeAction(c.Param("action"))
	switch action {
	case engine.ResumeResume, engine.ResumeStep, engine.ResumeAbort:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid debug action")
	}

	ctx := c.Request().Context()
	exec, err := h.Store.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if exec.Status != models.StatusPaused && action != engine.ResumeAbort {
		return echo.NewHTTPError(http.StatusConflict, "execution is not paused")
	}

	if err := h.Engine.ContinueFromPause(ctx, id, action); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	refreshed, err := h.Store.GetExecution(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, refreshed)
}
