// Package pipelinerun persists pipeline run records and their summaries.
package pipelinerun

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/bramble/pkg/database"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// row is the storage shape; the summary is a jsonb document.
type row struct {
	ID              uuid.UUID                            `db:"id"`
	TenantID        string                               `db:"tenant_id"`
	SelectedSources pq.StringArray                       `db:"selected_sources"`
	Status          string                               `db:"status"`
	Summary         *database.JSONB[models.FinalSummary] `db:"summary"`
	StartedAt       time.Time                            `db:"started_at"`
	EndedAt         *time.Time                           `db:"ended_at"`
}

func (r *row) toModel() *models.PipelineRun {
	run := &models.PipelineRun{
		ID:              r.ID,
		TenantID:        r.TenantID,
		SelectedSources: r.SelectedSources,
		Status:          models.RunStatus(r.Status),
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
	}
	if r.Summary != nil {
		summary := r.Summary.Data
		run.Summary = &summary
	}
	return run
}

// Repository handles pipeline run persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new pipeline run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records a run at start time.
func (r *Repository) Create(ctx context.Context, run *models.PipelineRun) error {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.Create")
	defer span.End()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("pipeline_runs")
	ib.Cols("id", "tenant_id", "selected_sources", "status", "started_at")
	ib.Values(run.ID, run.TenantID, pq.StringArray(run.SelectedSources), string(run.Status), run.StartedAt)

	query, args := ib.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", run.ID.String()).Error("Failed to create pipeline run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record pipeline run")
	}
	return nil
}

// Finalize stamps a run with its terminal status and summary.
func (r *Repository) Finalize(ctx context.Context, id uuid.UUID, status models.RunStatus, summary *models.FinalSummary, endedAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.Finalize")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("pipeline_runs")
	assignments := []string{
		ub.Assign("status", string(status)),
		ub.Assign("ended_at", endedAt),
	}
	if summary != nil {
		assignments = append(assignments, ub.Assign("summary", &database.JSONB[models.FinalSummary]{Data: *summary}))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", id.String()).Error("Failed to finalize pipeline run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finalize pipeline run")
	}
	return nil
}

// GetByID retrieves one run record.
func (r *Repository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "selected_sources", "status", "summary", "started_at", "ended_at")
	sb.From("pipeline_runs")
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var stored row
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &stored, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "pipeline run not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", id.String()).Error("Failed to get pipeline run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get pipeline run")
	}
	return stored.toModel(), nil
}

// List returns a tenant's runs, newest first.
func (r *Repository) List(ctx context.Context, tenantID string, limit, offset int) ([]models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "selected_sources", "status", "summary", "started_at", "ended_at")
	sb.From("pipeline_runs")
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("started_at DESC")
	if limit > 0 {
		sb.Limit(limit)
	}
	if offset > 0 {
		sb.Offset(offset)
	}

	query, args := sb.Build()
	var rows []row
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list pipeline runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list pipeline runs")
	}

	runs := make([]models.PipelineRun, 0, len(rows))
	for i := range rows {
		runs = append(runs, *rows[i].toModel())
	}
	return runs, nil
}
