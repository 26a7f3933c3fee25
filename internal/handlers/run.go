package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/bramble/internal/repositories/pipelinerun"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// RunHandler serves pipeline run records
type RunHandler struct {
	repo   *pipelinerun.Repository
	logger ectologger.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(repo *pipelinerun.Repository, logger ectologger.Logger) *RunHandler {
	return &RunHandler{
		repo:   repo,
		logger: logger,
	}
}

// RunsResponse wraps a page of run records
type RunsResponse struct {
	Items []models.PipelineRun `json:"items"`
	Count int                  `json:"count"`
}

// Register registers run routes
func (h *RunHandler) Register(g *echo.Group) {
	g.GET("/runs", h.List)
	g.GET("/runs/:id", h.Get)
}

// List returns the tenant's runs, newest first
func (h *RunHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RunHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	runs, err := h.repo.List(ctx, tenantID, limit, offset)
	if err != nil {
		return err
	}

	return SuccessResponse(c, RunsResponse{Items: runs, Count: len(runs)})
}

// Get returns one run record, including its summary once finished
func (h *RunHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RunHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	run, err := h.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, run)
}
