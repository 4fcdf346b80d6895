// Package handlers implements the HTTP control plane (spec §6/§13).
package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflowengine/internal/models"
	"github.com/lyzr/workflowengine/internal/store"
)

// WorkflowHandler serves /workflows and /workflows/:id/versions.
type WorkflowHandler struct {
	Store store.Store
}

func NewWorkflowHandler(st store.Store) *WorkflowHandler {
	return &WorkflowHandler{Store: st}
}

func (h *WorkflowHandler) Create(c echo.Context) error {
	var req models.WorkflowCreate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "name is required")
	}

	w := &models.Workflow{Name: req.Name, CreatedBy: req.CreatedBy}
	if err := h.Store.CreateWorkflow(c.Request().Context(), w); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *WorkflowHandler) List(c echo.Context) error {
	workflows, err := h.Store.ListWorkflows(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, workflows)
}

func (h *WorkflowHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	w, err := h.Store.GetWorkflow(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, w)
}

func (h *WorkflowHandler) CreateVersion(c echo.Context) error {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	if _, err := h.Store.GetWorkflow(c.Request().Context(), workflowID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var req models.WorkflowVersionCreate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.GraphJSON) == 0 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "graph_json is required")
	}

	v := &models.WorkflowVersion{
		WorkflowID:  workflowID,
		GraphJSON:   req.GraphJSON,
		VersionNote: req.VersionNote,
		VersionTag:  req.VersionTag,
		IsPublished: req.Published(),
		CreatedBy:   req.CreatedBy,
	}
	if err := h.Store.CreateWorkflowVersion(c.Request().Context(), v); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *WorkflowHandler) ListVersions(c echo.Context) error {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	versions, err := h.Store.ListWorkflowVersions(c.Request().Context(), workflowID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, versions)
}
