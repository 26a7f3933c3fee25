// Package mergeoperation persists the audit trail of confirmed merges.
package mergeoperation

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

// row is the storage shape; duplicate ids live in a uuid[] column.
type row struct {
	ID           uuid.UUID      `db:"id"`
	TenantID     string         `db:"tenant_id"`
	PrimaryID    uuid.UUID      `db:"primary_id"`
	DuplicateIDs pq.StringArray `db:"duplicate_ids"`
	PerformedBy  string         `db:"performed_by"`
	PerformedAt  time.Time      `db:"performed_at"`
}

func (r *row) toModel() (*models.MergeOperation, error) {
	op := &models.MergeOperation{
		ID:          r.ID,
		TenantID:    r.TenantID,
		PrimaryID:   r.PrimaryID,
		PerformedBy: r.PerformedBy,
		PerformedAt: r.PerformedAt,
	}
	op.DuplicateIDs = make([]uuid.UUID, 0, len(r.DuplicateIDs))
	for _, raw := range r.DuplicateIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		op.DuplicateIDs = append(op.DuplicateIDs, id)
	}
	return op, nil
}

// Repository handles merge operation persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merge operation repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records a merge operation.
func (r *Repository) Create(ctx context.Context, op *models.MergeOperation) error {
	ctx, span := tracing.StartSpan(ctx, "mergeoperation.Repository.Create")
	defer span.End()

	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.PerformedAt.IsZero() {
		op.PerformedAt = time.Now().UTC()
	}

	duplicateIDs := make(pq.StringArray, 0, len(op.DuplicateIDs))
	for _, id := range op.DuplicateIDs {
		duplicateIDs = append(duplicateIDs, id.String())
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("merge_operations")
	ib.Cols("id", "tenant_id", "primary_id", "duplicate_ids", "performed_by", "performed_at")
	ib.Values(op.ID, op.TenantID, op.PrimaryID, duplicateIDs, op.PerformedBy, op.PerformedAt)

	query, args := ib.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"primary_id": op.PrimaryID.String(),
		}).Error("Failed to create merge operation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record merge operation")
	}

	return nil
}

// GetByID retrieves one merge operation.
func (r *Repository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeoperation.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "primary_id", "duplicate_ids", "performed_by", "performed_at")
	sb.From("merge_operations")
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var stored row
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &stored, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "merge operation not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithField("id", id.String()).Error("Failed to get merge operation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge operation")
	}

	op, err := stored.toModel()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id.String()).Error("Corrupt duplicate id in merge operation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge operation")
	}
	return op, nil
}

// ListByTenant returns a tenant's merge history, newest first.
func (r *Repository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeoperation.Repository.ListByTenant")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "primary_id", "duplicate_ids", "performed_by", "performed_at")
	sb.From("merge_operations")
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("performed_at DESC")
	if limit > 0 {
		sb.Limit(limit)
	}
	if offset > 0 {
		sb.Offset(offset)
	}

	query, args := sb.Build()
	var rows []row
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list merge operations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge operations")
	}

	ops := make([]models.MergeOperation, 0, len(rows))
	for i := range rows {
		op, err := rows[i].toModel()
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("id", rows[i].ID.String()).Error("Corrupt duplicate id in merge operation")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge operations")
		}
		ops = append(ops, *op)
	}
	return ops, nil
}
