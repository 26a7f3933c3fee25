// Package pipeline orchestrates multi-source listing acquisition runs:
// connectors execute under bounded concurrency, progress streams to the event
// bus, and accumulated candidates are deduplicated and persisted.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/bramble/pkg/context"
	"github.com/Ramsey-B/bramble/pkg/connectors"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/progress"
)

const (
	// DefaultConcurrency is intentionally 1: most scraping targets are
	// rate-limit sensitive and sources run sequentially unless configured up
	DefaultConcurrency = 1

	// DefaultConnectorTimeout bounds a single connector run
	DefaultConnectorTimeout = 120 * time.Second
)

// ListingStore is the persistence boundary the pipeline writes through.
type ListingStore interface {
	// FindActiveByNormalizedNames returns active listings whose normalized
	// name is in keys.
	FindActiveByNormalizedNames(ctx context.Context, tenantID string, keys []string) ([]models.Listing, error)
	// CreateBatch persists net-new listings, returning how many were written.
	CreateBatch(ctx context.Context, listings []*models.Listing) (int, error)
}

// RunStore records pipeline runs so summaries outlive the live stream.
type RunStore interface {
	Create(ctx context.Context, run *models.PipelineRun) error
	Finalize(ctx context.Context, id uuid.UUID, status models.RunStatus, summary *models.FinalSummary, endedAt time.Time) error
}

// Emitter publishes listing lifecycle events downstream. Emission failures
// are logged and never abort a run.
type Emitter interface {
	EmitListingCreated(ctx context.Context, listing *models.Listing) error
	EmitRunCompleted(ctx context.Context, runID uuid.UUID, tenantID string, summary *models.FinalSummary) error
}

// Config holds orchestrator tuning.
type Config struct {
	// Concurrency caps how many connectors run at once
	Concurrency int
	// ConnectorTimeout is the default per-connector time bound; a connector's
	// own Timeout() overrides it
	ConnectorTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:      DefaultConcurrency,
		ConnectorTimeout: DefaultConnectorTimeout,
	}
}

// Orchestrator sequences source connectors and consolidates their results.
type Orchestrator struct {
	registry *connectors.Registry
	bus      *progress.Bus
	store    ListingStore
	runs     RunStore
	emitter  Emitter
	cfg      Config
	logger   ectologger.Logger

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewOrchestrator creates a pipeline orchestrator. runs and emitter may be
// nil; run records and downstream events are then skipped.
func NewOrchestrator(
	registry *connectors.Registry,
	bus *progress.Bus,
	store ListingStore,
	runs RunStore,
	emitter Emitter,
	cfg Config,
	logger ectologger.Logger,
) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ConnectorTimeout <= 0 {
		cfg.ConnectorTimeout = DefaultConnectorTimeout
	}
	return &Orchestrator{
		registry: registry,
		bus:      bus,
		store:    store,
		runs:     runs,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger,
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// ValidateRequest checks a run request against the registry. A malformed
// request is the caller's error and fatal to the run before it starts.
func (o *Orchestrator) ValidateRequest(req *models.RunRequest) error {
	if len(req.SelectedSources) == 0 {
		return fmt.Errorf("no sources selected")
	}
	seen := make(map[string]bool, len(req.SelectedSources))
	for _, sourceID := range req.SelectedSources {
		if seen[sourceID] {
			return fmt.Errorf("source %q selected twice", sourceID)
		}
		seen[sourceID] = true
		if _, ok := o.registry.Get(sourceID); !ok {
			return fmt.Errorf("unknown source %q", sourceID)
		}
	}
	return nil
}

// Start validates the request, opens the run's event stream, and executes the
// run on a background goroutine detached from the caller's context. The
// caller subscribes to the bus for progress.
func (o *Orchestrator) Start(ctx context.Context, req *models.RunRequest) error {
	if err := o.ValidateRequest(req); err != nil {
		return err
	}
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}

	o.bus.OpenRun(req.RunID)

	// The run outlives the triggering request; only tenant and run identity
	// carry over from the caller's context.
	runCtx := appctx.SetTenantID(context.Background(), req.TenantID)
	runCtx = appctx.SetRunID(runCtx, req.RunID.String())
	runCtx, cancel := context.WithCancel(runCtx)

	o.mu.Lock()
	o.cancels[req.RunID] = cancel
	o.mu.Unlock()

	o.recordRun(ctx, req)

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.cancels, req.RunID)
			o.mu.Unlock()
			cancel()
		}()
		o.execute(runCtx, req)
	}()

	return nil
}

// RunInline validates the request and executes the run synchronously on the
// caller's context. Used for connectors fast enough to serve from the crawl
// endpoint without a streamed run.
func (o *Orchestrator) RunInline(ctx context.Context, req *models.RunRequest) (*models.FinalSummary, models.RunStatus, error) {
	if err := o.ValidateRequest(req); err != nil {
		return nil, "", err
	}
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}

	o.bus.OpenRun(req.RunID)
	o.recordRun(ctx, req)

	summary, status := o.execute(ctx, req)
	return summary, status, nil
}

func (o *Orchestrator) recordRun(ctx context.Context, req *models.RunRequest) {
	if o.runs == nil {
		return
	}
	record := &models.PipelineRun{
		ID:              req.RunID,
		TenantID:        req.TenantID,
		SelectedSources: req.SelectedSources,
		Status:          models.RunStatusRunning,
		StartedAt:       time.Now().UTC(),
	}
	if err := o.runs.Create(ctx, record); err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to record pipeline run")
	}
}

// Cancel propagates cancellation to a run's cooperative connectors.
// Connectors that ignore ctx run to completion in the background and their
// results are discarded with the run.
func (o *Orchestrator) Cancel(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[runID]
	if ok {
		cancel()
	}
	return ok
}
