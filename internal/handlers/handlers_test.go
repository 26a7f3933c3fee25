package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/bramble/pkg/connectors"
	"github.com/Ramsey-B/bramble/pkg/middleware"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/pipeline"
	"github.com/Ramsey-B/bramble/pkg/progress"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type testConnector struct {
	id    string
	sync  bool
	gate  chan struct{}
	names []string
}

func (c *testConnector) ID() string             { return c.id }
func (c *testConnector) Name() string           { return c.id }
func (c *testConnector) Synchronous() bool      { return c.sync }
func (c *testConnector) Timeout() time.Duration { return 0 }
func (c *testConnector) Run(ctx context.Context, params map[string]any, yield connectors.YieldFunc) (*connectors.Result, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for i, name := range c.names {
		yield(models.CandidateListing{
			SourceID:    c.id,
			Name:        name,
			OriginalURL: fmt.Sprintf("https://%s.example.com/%d", c.id, i),
		})
	}
	return &connectors.Result{ItemsFound: len(c.names)}, nil
}

type memoryStore struct {
	mu    sync.Mutex
	saved []*models.Listing
}

func (s *memoryStore) FindActiveByNormalizedNames(ctx context.Context, tenantID string, keys []string) ([]models.Listing, error) {
	return nil, nil
}

func (s *memoryStore) CreateBatch(ctx context.Context, listings []*models.Listing) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, listings...)
	return len(listings), nil
}

type testServer struct {
	server *httptest.Server
	store  *memoryStore
}

func newTestServer(t *testing.T, conns ...connectors.Connector) *testServer {
	t.Helper()

	registry := connectors.NewRegistry()
	for _, c := range conns {
		registry.Register(c)
	}
	store := &memoryStore{}
	bus := progress.NewBus(progress.DefaultConfig(), testLogger())
	orch := pipeline.NewOrchestrator(registry, bus, store, nil, nil, pipeline.DefaultConfig(), testLogger())

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(testLogger())
	e.Use(middleware.Context())
	api := e.Group("/api/v1")
	NewCrawlHandler(registry, orch, testLogger()).Register(api)
	NewStreamHandler(orch, bus, testLogger()).Register(api)

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return &testServer{server: server, store: store}
}

func (ts *testServer) request(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.HeaderTenantID, "t1")

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestListSources(t *testing.T) {
	ts := newTestServer(t,
		&testConnector{id: "alpha", sync: true},
		&testConnector{id: "beta"},
	)

	resp := ts.request(t, http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sources := decode[[]SourceInfo](t, resp)
	require.Len(t, sources, 2)
	assert.Equal(t, "alpha", sources[0].ID)
	assert.True(t, sources[0].Synchronous)
	assert.Equal(t, "beta", sources[1].ID)
}

func TestCrawl_SynchronousSourceReturnsSummary(t *testing.T) {
	ts := newTestServer(t, &testConnector{id: "alpha", sync: true, names: []string{"Biz One", "Biz Two"}})

	resp := ts.request(t, http.MethodPost, "/api/v1/crawl/alpha", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	completed := decode[CrawlCompleted](t, resp)
	assert.True(t, completed.Success)
	assert.Equal(t, 2, completed.Found)
	assert.Equal(t, 2, completed.Processed)
	assert.Equal(t, models.RunStatusCompleted, completed.Status)
	require.NotNil(t, completed.Summary)
	assert.Equal(t, 2, completed.Summary.TotalFound)
	assert.Equal(t, 2, completed.Summary.TotalSaved)
	assert.Len(t, ts.store.saved, 2)
}

func TestCrawl_AsyncSourceReturnsStreamURL(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ts := newTestServer(t, &testConnector{id: "beta", gate: gate, names: []string{"Biz"}})

	resp := ts.request(t, http.MethodPost, "/api/v1/crawl/beta", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	accepted := decode[CrawlAccepted](t, resp)
	assert.Equal(t, fmt.Sprintf("/api/v1/runs/%s/stream", accepted.RunID), accepted.StreamURL)
}

func TestCrawl_UnknownSource(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/api/v1/crawl/nope", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCrawl_MissingTenant(t *testing.T) {
	ts := newTestServer(t, &testConnector{id: "alpha", sync: true})

	req, err := http.NewRequest(http.MethodPost, ts.server.URL+"/api/v1/crawl/alpha", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type sseEvent struct {
	id    string
	event string
	data  string
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()

	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.event != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			current.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return events
}

func TestScrapeStream_StreamsUntilComplete(t *testing.T) {
	gate := make(chan struct{})
	ts := newTestServer(t, &testConnector{id: "beta", gate: gate, names: []string{"Biz One", "Biz Two"}})

	req, err := http.NewRequest(http.MethodGet, ts.server.URL+"/api/v1/scrape/stream?selectedSites=beta", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.HeaderTenantID, "t1")

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	// The connector is gated until the subscription is in place, so the
	// stream sees every event from the sources onward.
	close(gate)

	events := readSSE(t, resp)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, string(progress.LevelComplete), last.event)

	var payload progress.Event
	require.NoError(t, json.Unmarshal([]byte(last.data), &payload))
	assert.Equal(t, progress.LevelComplete, payload.Level)

	var found int
	for _, event := range events {
		if event.event == string(progress.LevelListingFound) {
			found++
		}
	}
	assert.Equal(t, 2, found)
}

func TestScrapeStream_RequiresSelectedSites(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/api/v1/scrape/stream", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunStream_UnknownRun(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/api/v1/runs/6a6e7f7e-5f9b-4a3c-9a6e-1c2d3e4f5a6b/stream", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRun(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ts := newTestServer(t, &testConnector{id: "beta", gate: gate, names: []string{"Biz"}})

	resp := ts.request(t, http.MethodPost, "/api/v1/crawl/beta", "")
	accepted := decode[CrawlAccepted](t, resp)

	cancel := ts.request(t, http.MethodDelete, fmt.Sprintf("/api/v1/runs/%s", accepted.RunID), "")
	defer cancel.Body.Close()
	assert.Equal(t, http.StatusAccepted, cancel.StatusCode)

	// The run unregisters itself once the cancelled connector unwinds
	assert.Eventually(t, func() bool {
		again := ts.request(t, http.MethodDelete, fmt.Sprintf("/api/v1/runs/%s", accepted.RunID), "")
		defer again.Body.Close()
		return again.StatusCode == http.StatusNotFound
	}, 2*time.Second, 20*time.Millisecond)
}
