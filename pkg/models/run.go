package models

import (
	"time"

	"github.com/google/uuid"
)

// RunRequest describes a requested pipeline run. Immutable once created.
type RunRequest struct {
	RunID           uuid.UUID      `json:"run_id"`
	TenantID        string         `json:"tenant_id"`
	SelectedSources []string       `json:"selected_sources"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

// SourceStatus is the lifecycle state of one source within a run.
type SourceStatus string

const (
	SourceStatusPending   SourceStatus = "pending"
	SourceStatusRunning   SourceStatus = "running"
	SourceStatusCompleted SourceStatus = "completed"
	SourceStatusError     SourceStatus = "error"
)

// ErrorCause classifies a source-level failure.
type ErrorCause string

const (
	ErrorCauseConnector ErrorCause = "connector"
	ErrorCauseTimeout   ErrorCause = "timeout"
	ErrorCauseCancelled ErrorCause = "cancelled"
)

// SourceOutcome tracks one source's progress through a run. The orchestrator
// is the sole writer; everyone else sees snapshots.
type SourceOutcome struct {
	SourceID   string       `json:"source_id"`
	Status     SourceStatus `json:"status"`
	ItemsFound int          `json:"items_found"`
	ItemsSaved int          `json:"items_saved"`
	ErrorCount int          `json:"error_count"`
	ErrorCause ErrorCause   `json:"error_cause,omitempty"`
	Error      string       `json:"error,omitempty"`
	Cost       float64      `json:"cost"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
}

// Terminal reports whether the outcome can no longer change.
func (o *SourceOutcome) Terminal() bool {
	return o.Status == SourceStatusCompleted || o.Status == SourceStatusError
}

// Duration is derived from the recorded timestamps, never from a live timer.
func (o *SourceOutcome) Duration() time.Duration {
	if o.StartedAt == nil || o.EndedAt == nil {
		return 0
	}
	return o.EndedAt.Sub(*o.StartedAt)
}

// FinalSummary closes out a run.
type FinalSummary struct {
	TotalFound         int                       `json:"total_found"`
	TotalSaved         int                       `json:"total_saved"`
	DuplicatesSkipped  int                       `json:"duplicates_skipped"`
	ValidationRejected int                       `json:"validation_rejected"`
	Errors             int                       `json:"errors"`
	PerSourceBreakdown map[string]*SourceOutcome `json:"per_source_breakdown"`
	ReviewGroups       []DuplicateGroup          `json:"review_groups,omitempty"`
	TotalCost          float64                   `json:"total_cost"`
}

// RunStatus is the lifecycle state of a pipeline run record.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// PipelineRun is the persisted record of a run, written when the run starts
// and finalized with the summary when it ends.
type PipelineRun struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	TenantID        string        `json:"tenant_id" db:"tenant_id"`
	SelectedSources []string      `json:"selected_sources" db:"-"`
	Status          RunStatus     `json:"status" db:"status"`
	Summary         *FinalSummary `json:"summary,omitempty" db:"-"`
	StartedAt       time.Time     `json:"started_at" db:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
}
