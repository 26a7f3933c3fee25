package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/bramble/pkg/connectors"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/progress"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeConnector struct {
	id      string
	sync    bool
	timeout time.Duration
	run     func(ctx context.Context, params map[string]any, yield connectors.YieldFunc) (*connectors.Result, error)
}

func (f *fakeConnector) ID() string             { return f.id }
func (f *fakeConnector) Name() string           { return f.id }
func (f *fakeConnector) Synchronous() bool      { return f.sync }
func (f *fakeConnector) Timeout() time.Duration { return f.timeout }
func (f *fakeConnector) Run(ctx context.Context, params map[string]any, yield connectors.YieldFunc) (*connectors.Result, error) {
	return f.run(ctx, params, yield)
}

type fakeStore struct {
	mu       sync.Mutex
	existing []models.Listing
	saved    []*models.Listing
}

func (s *fakeStore) FindActiveByNormalizedNames(ctx context.Context, tenantID string, keys []string) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}
	var out []models.Listing
	for _, l := range s.existing {
		if l.Active && keySet[l.NormalizedName] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateBatch(ctx context.Context, listings []*models.Listing) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, listings...)
	return len(listings), nil
}

func yieldingConnector(id string, names ...string) *fakeConnector {
	return &fakeConnector{
		id: id,
		run: func(ctx context.Context, params map[string]any, yield connectors.YieldFunc) (*connectors.Result, error) {
			for i, name := range names {
				yield(models.CandidateListing{
					SourceID:    id,
					Name:        name,
					OriginalURL: fmt.Sprintf("https://%s.example.com/%d", id, i),
				})
			}
			return &connectors.Result{ItemsFound: len(names), Cost: 0.05}, nil
		},
	}
}

func newTestOrchestrator(t *testing.T, store *fakeStore, conns ...connectors.Connector) (*Orchestrator, *progress.Bus) {
	t.Helper()
	registry := connectors.NewRegistry()
	for _, c := range conns {
		registry.Register(c)
	}
	bus := progress.NewBus(progress.DefaultConfig(), testLogger())
	orch := NewOrchestrator(registry, bus, store, nil, nil, DefaultConfig(), testLogger())
	return orch, bus
}

func drain(c <-chan progress.Event) []progress.Event {
	var events []progress.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, open := <-c:
			if !open {
				return events
			}
			events = append(events, event)
		case <-timeout:
			return events
		}
	}
}

func TestOrchestrator_ValidateRequest(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeStore{}, yieldingConnector("alpha", "A"))

	t.Run("no sources", func(t *testing.T) {
		err := orch.ValidateRequest(&models.RunRequest{})
		assert.Error(t, err)
	})

	t.Run("unknown source", func(t *testing.T) {
		err := orch.ValidateRequest(&models.RunRequest{SelectedSources: []string{"nope"}})
		assert.Error(t, err)
	})

	t.Run("duplicate source", func(t *testing.T) {
		err := orch.ValidateRequest(&models.RunRequest{SelectedSources: []string{"alpha", "alpha"}})
		assert.Error(t, err)
	})

	t.Run("valid", func(t *testing.T) {
		err := orch.ValidateRequest(&models.RunRequest{SelectedSources: []string{"alpha"}})
		assert.NoError(t, err)
	})
}

func TestOrchestrator_RunInline_SavesNetNewListings(t *testing.T) {
	store := &fakeStore{}
	orch, _ := newTestOrchestrator(t, store, yieldingConnector("alpha", "Acme Holdings", "Sunrise Cafe"))

	req := &models.RunRequest{TenantID: "t1", SelectedSources: []string{"alpha"}}
	summary, status, err := orch.RunInline(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, status)
	assert.Equal(t, 2, summary.TotalFound)
	assert.Equal(t, 2, summary.TotalSaved)
	assert.Equal(t, 0, summary.DuplicatesSkipped)
	assert.Equal(t, 0, summary.Errors)
	assert.InDelta(t, 0.05, summary.TotalCost, 0.0001)

	require.Len(t, store.saved, 2)
	assert.Equal(t, "t1", store.saved[0].TenantID)
	assert.Equal(t, "acme holdings", store.saved[0].NormalizedName)
	assert.True(t, store.saved[0].Active)
}

func TestOrchestrator_FailingSourceDoesNotAbortRun(t *testing.T) {
	store := &fakeStore{
		existing: []models.Listing{
			{ID: uuid.New(), TenantID: "t1", SourceID: "old", Name: "Biz 0", NormalizedName: "biz 0", Active: true},
			{ID: uuid.New(), TenantID: "t1", SourceID: "old", Name: "Biz 1", NormalizedName: "biz 1", Active: true},
		},
	}

	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("Biz %d", i)
	}
	good := yieldingConnector("good", names...)
	bad := &fakeConnector{
		id: "bad",
		run: func(ctx context.Context, params map[string]any, yield connectors.YieldFunc) (*connectors.Result, error) {
			return nil, fmt.Errorf("connection refused")
		},
	}

	orch, _ := newTestOrchestrator(t, store, good, bad)

	req := &models.RunRequest{TenantID: "t1", SelectedSources: []string{"good", "bad"}}
	summary, status, err := orch.RunInline(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, status)
	assert.Equal(t, 10, summary.TotalFound)
	assert.Equal(t, 8, summary.TotalSaved)
	assert.Equal(t, 2, summary.DuplicatesSkipped)
	assert.Equal(t, 1, summary.Errors)

	goodOutcome := summary.PerSourceBreakdown["good"]
	require.NotNil(t, goodOutcome)
	assert.Equal(t, models.SourceStatusCompleted, goodOutcome.Status)
	assert.Equal(t, 10, goodOutcome.ItemsFound)
	assert.Equal(t, 8, goodOutcome.ItemsSaved)

	badOutcome := summary.PerSourceBreakdown["bad"]
	require.NotNil(t, badOutcome)
	assert.Equal(t, models.SourceStatusError, badOutcome.Status)
	assert.Equal(t, models.ErrorCauseConnector, badOutcome.ErrorCause)
	assert.Equal(t, 1, badOutcome.ErrorCount)
}

func TestOrchestrator_TimeoutClassification(t *testing.T) {
	slow := &fakeConnector{
		id:      "slow",
		timeout: 30 * time.Millisecond,
		run: func(ctx context.Context, params map[string]any, yield connectors.YieldFunc) (*connectors.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	orch, _ := newTestOrchestrator(t, &fakeStore{}, slow)

	req := &models.RunRequest{TenantID: "t1", SelectedSources: []string{"slow"}}
	summary, status, err := orch.RunInline(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, status)
	outcome := summary.PerSourceBreakdown["slow"]
	require.NotNil(t, outcome)
	assert.Equal(t, models.SourceStatusError, outcome.Status)
	assert.Equal(t, models.ErrorCauseTimeout, outcome.ErrorCause)
}

func TestOrchestrator_ValidationRejectsIncompleteCandidates(t *testing.T) {
	broken := &fakeConnector{
		id: "broken",
		run: func(ctx context.Context, params map[string]any, yield connectors.YieldFunc) (*connectors.Result, error) {
			yield(models.CandidateListing{SourceID: "broken", Name: "", OriginalURL: "https://x.example.com/1"})
			yield(models.CandidateListing{SourceID: "broken", Name: "No URL Biz", OriginalURL: ""})
			yield(models.CandidateListing{SourceID: "broken", Name: "Good Biz", OriginalURL: "https://x.example.com/2"})
			return &connectors.Result{ItemsFound: 3}, nil
		},
	}

	store := &fakeStore{}
	orch, _ := newTestOrchestrator(t, store, broken)

	summary, _, err := orch.RunInline(context.Background(), &models.RunRequest{
		TenantID:        "t1",
		SelectedSources: []string{"broken"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalFound)
	assert.Equal(t, 2, summary.ValidationRejected)
	assert.Equal(t, 1, summary.TotalSaved)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "Good Biz", store.saved[0].Name)
}

func TestOrchestrator_IntraRunDuplicatesPersistOneRepresentative(t *testing.T) {
	store := &fakeStore{}
	orch, _ := newTestOrchestrator(t, store,
		yieldingConnector("one", "Acme Holdings LLC"),
		yieldingConnector("two", "acme holdings, inc."),
	)

	summary, _, err := orch.RunInline(context.Background(), &models.RunRequest{
		TenantID:        "t1",
		SelectedSources: []string{"one", "two"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalFound)
	assert.Equal(t, 1, summary.TotalSaved)
	assert.Equal(t, 1, summary.DuplicatesSkipped)
	require.Len(t, summary.ReviewGroups, 1)
	assert.Equal(t, "acme holdings", summary.ReviewGroups[0].NormalizedName)
	require.Len(t, store.saved, 1)
}

func TestOrchestrator_AccountingInvariant(t *testing.T) {
	store := &fakeStore{
		existing: []models.Listing{
			{ID: uuid.New(), TenantID: "t1", Name: "Dup Biz", NormalizedName: "dup biz", Active: true},
		},
	}
	mixed := &fakeConnector{
		id: "mixed",
		run: func(ctx context.Context, params map[string]any, yield connectors.YieldFunc) (*connectors.Result, error) {
			yield(models.CandidateListing{SourceID: "mixed", Name: "Dup Biz", OriginalURL: "https://m.example.com/1"})
			yield(models.CandidateListing{SourceID: "mixed", Name: "", OriginalURL: "https://m.example.com/2"})
			yield(models.CandidateListing{SourceID: "mixed", Name: "Fresh Biz", OriginalURL: "https://m.example.com/3"})
			return &connectors.Result{}, nil
		},
	}

	orch, _ := newTestOrchestrator(t, store, mixed)

	summary, _, err := orch.RunInline(context.Background(), &models.RunRequest{
		TenantID:        "t1",
		SelectedSources: []string{"mixed"},
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, summary.TotalSaved+summary.DuplicatesSkipped+summary.ValidationRejected, summary.TotalFound)
	assert.Equal(t, 1, summary.TotalSaved)
	assert.Equal(t, 1, summary.DuplicatesSkipped)
	assert.Equal(t, 1, summary.ValidationRejected)
}

func TestOrchestrator_StartStreamsEventsUntilComplete(t *testing.T) {
	release := make(chan struct{})
	gated := &fakeConnector{
		id: "alpha",
		run: func(ctx context.Context, params map[string]any, yield connectors.YieldFunc) (*connectors.Result, error) {
			<-release
			yield(models.CandidateListing{SourceID: "alpha", Name: "One Biz", OriginalURL: "https://a.example.com/1"})
			yield(models.CandidateListing{SourceID: "alpha", Name: "Two Biz", OriginalURL: "https://a.example.com/2"})
			return &connectors.Result{ItemsFound: 2}, nil
		},
	}
	store := &fakeStore{}
	orch, bus := newTestOrchestrator(t, store, gated)

	req := &models.RunRequest{RunID: uuid.New(), TenantID: "t1", SelectedSources: []string{"alpha"}}
	require.NoError(t, orch.Start(context.Background(), req))

	sub, err := bus.Subscribe(req.RunID, true)
	require.NoError(t, err)
	defer sub.Cancel()
	close(release)

	events := drain(sub.C)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, progress.LevelComplete, last.Level)

	var found int
	for i, event := range events {
		if event.Level == progress.LevelListingFound {
			found++
		}
		if i > 0 {
			assert.Greater(t, event.SequenceNumber, events[i-1].SequenceNumber)
		}
	}
	assert.Equal(t, 2, found)
}

func TestOrchestrator_CancelMarksSourcesCancelled(t *testing.T) {
	started := make(chan struct{})
	blocked := &fakeConnector{
		id: "blocked",
		run: func(ctx context.Context, params map[string]any, yield connectors.YieldFunc) (*connectors.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	store := &fakeStore{}
	orch, bus := newTestOrchestrator(t, store, blocked)

	req := &models.RunRequest{RunID: uuid.New(), TenantID: "t1", SelectedSources: []string{"blocked"}}
	require.NoError(t, orch.Start(context.Background(), req))

	sub, err := bus.Subscribe(req.RunID, true)
	require.NoError(t, err)
	defer sub.Cancel()

	<-started
	assert.True(t, orch.Cancel(req.RunID))

	events := drain(sub.C)
	require.NotEmpty(t, events)
	assert.Equal(t, progress.LevelComplete, events[len(events)-1].Level)

	var sawCancelled bool
	for _, event := range events {
		if event.Level == progress.LevelScrapingError && event.Data["cause"] == string(models.ErrorCauseCancelled) {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)
	assert.Empty(t, store.saved)
}
