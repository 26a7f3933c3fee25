package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/bramble/internal/repositories/mergeoperation"
	appctx "github.com/Ramsey-B/bramble/pkg/context"
	"github.com/Ramsey-B/bramble/pkg/merging"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// MergeHandler handles duplicate merge confirmation and history
type MergeHandler struct {
	coordinator *merging.Coordinator
	history     *mergeoperation.Repository
	logger      ectologger.Logger
}

// NewMergeHandler creates a new merge handler
func NewMergeHandler(coordinator *merging.Coordinator, history *mergeoperation.Repository, logger ectologger.Logger) *MergeHandler {
	return &MergeHandler{
		coordinator: coordinator,
		history:     history,
		logger:      logger,
	}
}

// MergeRequest represents the merge request body
type MergeRequest struct {
	PrimaryID    uuid.UUID   `json:"primary_id" validate:"required"`
	DuplicateIDs []uuid.UUID `json:"duplicate_ids" validate:"required,min=1"`
}

// MergeOperationsResponse wraps a page of the merge audit trail
type MergeOperationsResponse struct {
	Items []models.MergeOperation `json:"items"`
	Count int                     `json:"count"`
}

// Register registers merge routes
func (h *MergeHandler) Register(g *echo.Group) {
	g.POST("/listings/merge", h.Merge)
	g.GET("/listings/merges", h.History)
}

// Merge archives the duplicates of the primary listing and records the
// operation.
func (h *MergeHandler) Merge(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MergeHandler.Merge")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	performedBy := appctx.GetUserID(ctx)
	result, err := h.coordinator.Merge(ctx, tenantID, req.PrimaryID, req.DuplicateIDs, performedBy)
	if err != nil {
		return err
	}

	return SuccessResponse(c, result)
}

// History returns the tenant's merge operations, newest first.
func (h *MergeHandler) History(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MergeHandler.History")
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

	ops, err := h.history.ListByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		return err
	}

	return SuccessResponse(c, MergeOperationsResponse{Items: ops, Count: len(ops)})
}
