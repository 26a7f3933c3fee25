package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/bramble/pkg/dedupe"
	"github.com/Ramsey-B/bramble/pkg/metrics"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/progress"
)

// yielded pairs a candidate with the source that produced it, in yield order.
type yielded struct {
	sourceID  string
	candidate models.CandidateListing
}

// runState is the orchestrator's working state for one run. All mutation goes
// through methods holding mu; connectors only touch it via the yield callback.
type runState struct {
	req      *models.RunRequest
	mu       sync.Mutex
	outcomes map[string]*models.SourceOutcome
	found    []yielded
}

func newRunState(req *models.RunRequest) *runState {
	outcomes := make(map[string]*models.SourceOutcome, len(req.SelectedSources))
	for _, sourceID := range req.SelectedSources {
		outcomes[sourceID] = &models.SourceOutcome{
			SourceID: sourceID,
			Status:   models.SourceStatusPending,
		}
	}
	return &runState{req: req, outcomes: outcomes}
}

// snapshotOutcomes returns deep copies so readers never race the run.
func (s *runState) snapshotOutcomes() map[string]*models.SourceOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.SourceOutcome, len(s.outcomes))
	for id, o := range s.outcomes {
		c := *o
		out[id] = &c
	}
	return out
}

func (o *Orchestrator) execute(ctx context.Context, req *models.RunRequest) (*models.FinalSummary, models.RunStatus) {
	started := time.Now()
	state := newRunState(req)
	logger := o.logger.WithContext(ctx).WithField("run_id", req.RunID.String())

	o.publish(req.RunID, progress.LevelInfo, "", "Run started", map[string]any{
		"selected_sources": req.SelectedSources,
	})

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sourceID := range jobs {
				o.executeSource(ctx, state, sourceID)
			}
		}()
	}
	for _, sourceID := range req.SelectedSources {
		jobs <- sourceID
	}
	close(jobs)
	wg.Wait()

	summary, err := o.consolidate(ctx, state)
	status := models.RunStatusCompleted
	if err != nil {
		status = models.RunStatusFailed
		logger.WithError(err).Error("Run consolidation failed")
		o.publish(req.RunID, progress.LevelError, "", fmt.Sprintf("Run failed: %s", err.Error()), nil)
	}
	if ctx.Err() != nil {
		status = models.RunStatusFailed
	}

	o.publish(req.RunID, progress.LevelComplete, "", "Run complete", map[string]any{
		"summary": summary,
		"status":  status,
	})

	metrics.PipelineRunsTotal.WithLabelValues(req.TenantID, string(status)).Inc()
	metrics.PipelineRunDuration.WithLabelValues(req.TenantID).Observe(time.Since(started).Seconds())

	ended := time.Now().UTC()
	if o.runs != nil {
		if err := o.runs.Finalize(context.WithoutCancel(ctx), req.RunID, status, summary, ended); err != nil {
			logger.WithError(err).Error("Failed to finalize pipeline run record")
		}
	}
	if o.emitter != nil {
		if err := o.emitter.EmitRunCompleted(context.WithoutCancel(ctx), req.RunID, req.TenantID, summary); err != nil {
			logger.WithError(err).Error("Failed to emit run completion event")
		}
	}

	logger.WithFields(map[string]any{
		"status":      status,
		"total_found": summary.TotalFound,
		"total_saved": summary.TotalSaved,
		"errors":      summary.Errors,
		"duration":    time.Since(started).String(),
	}).Info("Pipeline run finished")

	return summary, status
}

func (o *Orchestrator) executeSource(ctx context.Context, state *runState, sourceID string) {
	conn, ok := o.registry.Get(sourceID)
	if !ok {
		// Validated at Start; a miss here means the registry changed mid-run
		o.failSource(state, sourceID, models.ErrorCauseConnector, fmt.Errorf("source %q no longer registered", sourceID))
		return
	}

	now := time.Now().UTC()
	state.mu.Lock()
	outcome := state.outcomes[sourceID]
	outcome.Status = models.SourceStatusRunning
	outcome.StartedAt = &now
	state.mu.Unlock()

	o.publish(state.req.RunID, progress.LevelInfo, sourceID, fmt.Sprintf("Starting %s", conn.Name()), nil)

	timeout := conn.Timeout()
	if timeout <= 0 {
		timeout = o.cfg.ConnectorTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	yield := func(candidate models.CandidateListing) {
		state.mu.Lock()
		state.found = append(state.found, yielded{sourceID: sourceID, candidate: candidate})
		outcome.ItemsFound++
		count := outcome.ItemsFound
		state.mu.Unlock()

		metrics.ConnectorItemsFound.WithLabelValues(sourceID).Inc()
		o.publish(state.req.RunID, progress.LevelListingFound, sourceID, candidate.Name, map[string]any{
			"items_found": count,
		})
	}

	sourceStarted := time.Now()
	result, err := conn.Run(runCtx, state.req.Parameters, yield)
	metrics.ConnectorDuration.WithLabelValues(sourceID).Observe(time.Since(sourceStarted).Seconds())

	if err != nil {
		cause := classifyError(runCtx, err)
		o.failSource(state, sourceID, cause, err)
		return
	}

	ended := time.Now().UTC()
	state.mu.Lock()
	outcome.Status = models.SourceStatusCompleted
	outcome.EndedAt = &ended
	if result != nil {
		outcome.Cost = result.Cost
	}
	items := outcome.ItemsFound
	state.mu.Unlock()

	o.publish(state.req.RunID, progress.LevelSiteCompleted, sourceID,
		fmt.Sprintf("%s completed with %d listings", conn.Name(), items),
		map[string]any{"items_found": items})
}

func (o *Orchestrator) failSource(state *runState, sourceID string, cause models.ErrorCause, err error) {
	ended := time.Now().UTC()
	state.mu.Lock()
	outcome := state.outcomes[sourceID]
	outcome.Status = models.SourceStatusError
	outcome.ErrorCount++
	outcome.ErrorCause = cause
	outcome.Error = err.Error()
	outcome.EndedAt = &ended
	state.mu.Unlock()

	metrics.ConnectorErrors.WithLabelValues(sourceID, string(cause)).Inc()
	o.publish(state.req.RunID, progress.LevelScrapingError, sourceID, err.Error(), map[string]any{
		"cause": string(cause),
	})
}

func classifyError(ctx context.Context, err error) models.ErrorCause {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return models.ErrorCauseTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return models.ErrorCauseCancelled
	default:
		return models.ErrorCauseConnector
	}
}

// consolidate runs the duplicate pass over everything the connectors found
// and persists the net-new survivors. It returns a summary even on error so
// the terminal event always carries the counts gathered so far.
func (o *Orchestrator) consolidate(ctx context.Context, state *runState) (*models.FinalSummary, error) {
	state.mu.Lock()
	found := make([]yielded, len(state.found))
	copy(found, state.found)
	state.mu.Unlock()

	summary := &models.FinalSummary{
		PerSourceBreakdown: state.snapshotOutcomes(),
	}
	for _, outcome := range summary.PerSourceBreakdown {
		summary.TotalFound += outcome.ItemsFound
		summary.TotalCost += outcome.Cost
		if outcome.Status == models.SourceStatusError {
			summary.Errors++
		}
	}

	valid := make([]yielded, 0, len(found))
	keySet := make(map[string]bool)
	for _, y := range found {
		if y.candidate.Name == "" || y.candidate.OriginalURL == "" {
			summary.ValidationRejected++
			o.publish(state.req.RunID, progress.LevelWarning, y.sourceID,
				"Skipped listing with missing required fields", map[string]any{
					"name":         y.candidate.Name,
					"original_url": y.candidate.OriginalURL,
				})
			continue
		}
		valid = append(valid, y)
		if key := dedupe.NormalizeKey(y.candidate.Name); key != "" {
			keySet[key] = true
		}
	}

	var existing []models.Listing
	if len(keySet) > 0 {
		keys := make([]string, 0, len(keySet))
		for key := range keySet {
			keys = append(keys, key)
		}
		var err error
		existing, err = o.store.FindActiveByNormalizedNames(ctx, state.req.TenantID, keys)
		if err != nil {
			return summary, fmt.Errorf("load active listings for dedupe: %w", err)
		}
	}

	// Candidate IDs are synthetic and ordered by yield so group membership is
	// deterministic. Existing rows keep their uuids and are distinguishable by
	// the prefix.
	records := make([]dedupe.Record, 0, len(valid)+len(existing))
	candidateIndex := make(map[string]int, len(valid))
	for i := range valid {
		id := fmt.Sprintf("cand-%06d", i)
		candidateIndex[id] = i
		records = append(records, dedupe.FromCandidate(id, &valid[i].candidate))
	}
	for i := range existing {
		records = append(records, dedupe.FromListing(&existing[i]))
	}

	skip := make(map[int]bool)
	for _, group := range dedupe.Detect(records) {
		hasExisting := false
		candidateMembers := make([]int, 0, len(group.MemberIDs))
		for _, memberID := range group.MemberIDs {
			if idx, ok := candidateIndex[memberID]; ok {
				candidateMembers = append(candidateMembers, idx)
			} else {
				hasExisting = true
			}
		}

		if hasExisting {
			// Already represented in storage: every candidate in the group is
			// a duplicate of an active listing and is skipped.
			for _, idx := range candidateMembers {
				skip[idx] = true
				summary.DuplicatesSkipped++
				metrics.DuplicatesSkipped.WithLabelValues(valid[idx].sourceID).Inc()
				o.publish(state.req.RunID, progress.LevelWarning, valid[idx].sourceID,
					fmt.Sprintf("Skipped duplicate of existing listing: %s", valid[idx].candidate.Name),
					map[string]any{"normalized_name": group.NormalizedName})
			}
			continue
		}

		// Intra-run duplicates: persist the first yielded member, surface the
		// rest for manual review rather than dropping them silently.
		representative := candidateMembers[0]
		for _, idx := range candidateMembers {
			if idx < representative {
				representative = idx
			}
		}
		for _, idx := range candidateMembers {
			if idx == representative {
				continue
			}
			skip[idx] = true
			summary.DuplicatesSkipped++
			metrics.DuplicatesSkipped.WithLabelValues(valid[idx].sourceID).Inc()
		}
		summary.ReviewGroups = append(summary.ReviewGroups, group)
	}

	toSave := make([]*models.Listing, 0, len(valid))
	savedBySource := make(map[string]int)
	for i, y := range valid {
		if skip[i] {
			continue
		}
		toSave = append(toSave, candidateToListing(state.req.TenantID, &y.candidate))
		savedBySource[y.sourceID]++
	}

	if len(toSave) > 0 {
		saved, err := o.store.CreateBatch(ctx, toSave)
		if err != nil {
			return summary, fmt.Errorf("persist listings: %w", err)
		}
		summary.TotalSaved = saved

		state.mu.Lock()
		for sourceID, n := range savedBySource {
			if outcome, ok := state.outcomes[sourceID]; ok {
				outcome.ItemsSaved = n
				summary.PerSourceBreakdown[sourceID].ItemsSaved = n
			}
		}
		state.mu.Unlock()

		for sourceID, n := range savedBySource {
			metrics.ListingsSaved.WithLabelValues(sourceID).Add(float64(n))
		}
		if o.emitter != nil {
			for _, listing := range toSave {
				if err := o.emitter.EmitListingCreated(ctx, listing); err != nil {
					o.logger.WithContext(ctx).WithError(err).WithField("listing_id", listing.ID.String()).
						Error("Failed to emit listing created event")
				}
			}
		}
	}

	if len(summary.ReviewGroups) > 0 {
		o.publish(state.req.RunID, progress.LevelWarning, "",
			fmt.Sprintf("%d duplicate groups need review", len(summary.ReviewGroups)),
			map[string]any{"review_groups": len(summary.ReviewGroups)})
	}

	return summary, nil
}

func candidateToListing(tenantID string, c *models.CandidateListing) *models.Listing {
	now := time.Now().UTC()
	scrapedAt := c.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = now
	}
	return &models.Listing{
		ID:             uuid.New(),
		TenantID:       tenantID,
		SourceID:       c.SourceID,
		Name:           c.Name,
		NormalizedName: dedupe.NormalizeKey(c.Name),
		Description:    c.Description,
		AskingPrice:    c.AskingPrice,
		AnnualRevenue:  c.AnnualRevenue,
		Industry:       c.Industry,
		Location:       c.Location,
		OriginalURL:    c.OriginalURL,
		ScrapedAt:      scrapedAt,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (o *Orchestrator) publish(runID uuid.UUID, level progress.Level, sourceID, message string, data map[string]any) {
	event := progress.Event{
		RunID:    runID,
		Level:    level,
		SourceID: sourceID,
		Message:  message,
		Data:     data,
	}
	if _, err := o.bus.Publish(runID, event); err != nil {
		o.logger.WithError(err).WithFields(map[string]any{
			"run_id": runID.String(),
			"level":  string(level),
		}).Warn("Failed to publish progress event")
	}
}
