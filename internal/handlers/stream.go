package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/pipeline"
	"github.com/Ramsey-B/bramble/pkg/progress"
)

// StreamHandler serves live pipeline progress over SSE
type StreamHandler struct {
	orchestrator *pipeline.Orchestrator
	bus          *progress.Bus
	logger       ectologger.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(orchestrator *pipeline.Orchestrator, bus *progress.Bus, logger ectologger.Logger) *StreamHandler {
	return &StreamHandler{
		orchestrator: orchestrator,
		bus:          bus,
		logger:       logger,
	}
}

// Register registers stream routes
func (h *StreamHandler) Register(g *echo.Group) {
	g.GET("/scrape/stream", h.ScrapeStream)
	g.GET("/runs/:id/stream", h.RunStream)
	g.DELETE("/runs/:id", h.CancelRun)
}

// ScrapeStream starts a multi-source run and streams its progress until the
// terminal event. Sources come from the selectedSites query parameter.
func (h *StreamHandler) ScrapeStream(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	raw := c.QueryParam("selectedSites")
	if raw == "" {
		return BadRequest("selectedSites is required")
	}
	var sources []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			sources = append(sources, s)
		}
	}

	req := &models.RunRequest{
		RunID:           uuid.New(),
		TenantID:        tenantID,
		SelectedSources: sources,
	}
	if err := h.orchestrator.Start(c.Request().Context(), req); err != nil {
		return BadRequest(err.Error())
	}

	sub, err := h.bus.Subscribe(req.RunID, false)
	if err != nil {
		// The run finished between Start and Subscribe; nothing left to stream
		return httperror.NewHTTPError(http.StatusConflict, "run already finished")
	}
	defer sub.Cancel()

	return h.stream(c, req.RunID, sub)
}

// RunStream attaches to an in-flight run's progress stream. Replay is on, so
// a reconnecting client sees the trailing events it missed.
func (h *StreamHandler) RunStream(c echo.Context) error {
	if _, err := GetTenantID(c); err != nil {
		return err
	}

	runID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	sub, err := h.bus.Subscribe(runID, true)
	if err != nil {
		if err == progress.ErrUnknownRun {
			return httperror.NewHTTPError(http.StatusNotFound, "run not found or already finished")
		}
		return httperror.NewHTTPError(http.StatusConflict, "run already finished")
	}
	defer sub.Cancel()

	return h.stream(c, runID, sub)
}

// CancelRun requests cooperative cancellation of an in-flight run.
func (h *StreamHandler) CancelRun(c echo.Context) error {
	if _, err := GetTenantID(c); err != nil {
		return err
	}

	runID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if !h.orchestrator.Cancel(runID) {
		return httperror.NewHTTPError(http.StatusNotFound, "run not found or already finished")
	}
	return c.NoContent(http.StatusAccepted)
}

// stream writes the subscription to the response as server-sent events until
// the run finishes or the client disconnects.
func (h *StreamHandler) stream(c echo.Context, runID uuid.UUID, sub *progress.Subscription) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return httperror.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}
	flusher.Flush()

	clientGone := c.Request().Context().Done()
	for {
		select {
		case <-clientGone:
			h.logger.WithField("run_id", runID.String()).Debug("Stream client disconnected")
			return nil
		case event, open := <-sub.C:
			if !open {
				return nil
			}
			if err := writeSSE(res, &event); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeSSE(res *echo.Response, event *progress.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", event.SequenceNumber, event.Level, payload)
	return err
}
