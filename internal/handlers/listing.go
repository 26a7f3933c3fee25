package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/bramble/internal/repositories/listing"
	"github.com/Ramsey-B/bramble/pkg/dedupe"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// ListingHandler handles listing queries and duplicate inspection
type ListingHandler struct {
	repo   *listing.Repository
	logger ectologger.Logger
}

// NewListingHandler creates a new listing handler
func NewListingHandler(repo *listing.Repository, logger ectologger.Logger) *ListingHandler {
	return &ListingHandler{
		repo:   repo,
		logger: logger,
	}
}

// ListingsResponse wraps a page of listings
type ListingsResponse struct {
	Items []models.Listing `json:"items"`
	Count int              `json:"count"`
}

// DuplicatesResponse wraps the current duplicate groups
type DuplicatesResponse struct {
	Groups []models.DuplicateGroup `json:"groups"`
	Count  int                     `json:"count"`
}

// Register registers listing routes
func (h *ListingHandler) Register(g *echo.Group) {
	g.GET("/listings", h.List)
	g.GET("/listings/duplicates", h.Duplicates)
	g.GET("/listings/:id", h.Get)
}

// List returns listings for the current tenant
func (h *ListingHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ListingHandler.List")
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

	filter := listing.Filter{
		SourceID:   c.QueryParam("source_id"),
		ActiveOnly: c.QueryParam("include_archived") != "true",
		Limit:      limit,
		Offset:     offset,
	}

	items, err := h.repo.List(ctx, tenantID, filter)
	if err != nil {
		return err
	}

	return SuccessResponse(c, ListingsResponse{Items: items, Count: len(items)})
}

// Get returns one listing
func (h *ListingHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ListingHandler.Get")
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

	item, err := h.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, item)
}

// Duplicates scans the tenant's active listings and returns the duplicate
// groups awaiting manual resolution.
func (h *ListingHandler) Duplicates(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ListingHandler.Duplicates")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	active, err := h.repo.ListActive(ctx, tenantID)
	if err != nil {
		return err
	}

	records := make([]dedupe.Record, 0, len(active))
	for i := range active {
		records = append(records, dedupe.FromListing(&active[i]))
	}
	groups := dedupe.Detect(records)

	return SuccessResponse(c, DuplicatesResponse{Groups: groups, Count: len(groups)})
}
