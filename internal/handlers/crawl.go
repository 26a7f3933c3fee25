package handlers

import (
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/bramble/pkg/connectors"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/pipeline"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// CrawlHandler handles single-source crawl requests and source discovery
type CrawlHandler struct {
	registry     *connectors.Registry
	orchestrator *pipeline.Orchestrator
	logger       ectologger.Logger
}

// NewCrawlHandler creates a new crawl handler
func NewCrawlHandler(registry *connectors.Registry, orchestrator *pipeline.Orchestrator, logger ectologger.Logger) *CrawlHandler {
	return &CrawlHandler{
		registry:     registry,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// CrawlRequest represents the crawl request body
type CrawlRequest struct {
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CrawlAccepted is the async crawl response
type CrawlAccepted struct {
	RunID     uuid.UUID `json:"run_id"`
	StreamURL string    `json:"stream_url"`
}

// CrawlCompleted is the synchronous crawl response
type CrawlCompleted struct {
	RunID     uuid.UUID            `json:"run_id"`
	Success   bool                 `json:"success"`
	Processed int                  `json:"processed"`
	Found     int                  `json:"found"`
	Cost      float64              `json:"cost"`
	Message   string               `json:"message"`
	Status    models.RunStatus     `json:"status"`
	Summary   *models.FinalSummary `json:"summary"`
}

// SourceInfo describes one registered connector
type SourceInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Synchronous bool   `json:"synchronous"`
}

// Register registers crawl routes
func (h *CrawlHandler) Register(g *echo.Group) {
	g.GET("/sources", h.ListSources)
	g.POST("/crawl/:source", h.Crawl)
}

// ListSources returns the registered source connectors
func (h *CrawlHandler) ListSources(c echo.Context) error {
	sources := make([]SourceInfo, 0)
	for _, id := range h.registry.IDs() {
		conn, ok := h.registry.Get(id)
		if !ok {
			continue
		}
		sources = append(sources, SourceInfo{
			ID:          conn.ID(),
			Name:        conn.Name(),
			Synchronous: conn.Synchronous(),
		})
	}
	return SuccessResponse(c, sources)
}

// Crawl triggers a single-source run. Synchronous connectors execute inline
// and return the summary; everything else starts a streamed run and returns
// 202 with the stream URL.
func (h *CrawlHandler) Crawl(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "CrawlHandler.Crawl")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	sourceID := c.Param("source")
	conn, ok := h.registry.Get(sourceID)
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "unknown source %q", sourceID)
	}

	var req CrawlRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	runReq := &models.RunRequest{
		RunID:           uuid.New(),
		TenantID:        tenantID,
		SelectedSources: []string{sourceID},
		Parameters:      req.Parameters,
	}

	if conn.Synchronous() {
		summary, status, err := h.orchestrator.RunInline(ctx, runReq)
		if err != nil {
			return BadRequest(err.Error())
		}
		return SuccessResponse(c, CrawlCompleted{
			RunID:     runReq.RunID,
			Success:   status == models.RunStatusCompleted,
			Processed: summary.TotalSaved,
			Found:     summary.TotalFound,
			Cost:      summary.TotalCost,
			Message:   fmt.Sprintf("found %d listings, saved %d", summary.TotalFound, summary.TotalSaved),
			Status:    status,
			Summary:   summary,
		})
	}

	if err := h.orchestrator.Start(ctx, runReq); err != nil {
		return BadRequest(err.Error())
	}

	return AcceptedResponse(c, CrawlAccepted{
		RunID:     runReq.RunID,
		StreamURL: fmt.Sprintf("/api/v1/runs/%s/stream", runReq.RunID),
	})
}
