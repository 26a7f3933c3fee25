// Package listing persists business listings.
package listing

import (
	"context"
	"database/sql"
	"fmt"
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

const listingColumns = "id, tenant_id, source_id, name, normalized_name, description, asking_price, annual_revenue, industry, location, original_url, scraped_at, active, created_at, updated_at, archived_at"

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	SourceID   string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Repository handles listing persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new listing repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// CreateBatch inserts listings, skipping rows that collide on
// (tenant_id, source_id, original_url). Returns how many rows were written.
func (r *Repository) CreateBatch(ctx context.Context, listings []*models.Listing) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.CreateBatch")
	defer span.End()

	if len(listings) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto("listings")
	ib.Cols("id", "tenant_id", "source_id", "name", "normalized_name", "description", "asking_price", "annual_revenue", "industry", "location", "original_url", "scraped_at", "active", "created_at", "updated_at")
	for _, l := range listings {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		if l.UpdatedAt.IsZero() {
			l.UpdatedAt = now
		}
		ib.Values(l.ID, l.TenantID, l.SourceID, l.Name, l.NormalizedName, l.Description, l.AskingPrice, l.AnnualRevenue, l.Industry, l.Location, l.OriginalURL, l.ScrapedAt, l.Active, l.CreatedAt, l.UpdatedAt)
	}
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(listings),
		}).Error("Failed to insert listings")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert listings")
	}

	saved, err := result.RowsAffected()
	if err != nil {
		return len(listings), nil
	}
	return int(saved), nil
}

// GetByID retrieves one listing.
func (r *Repository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*models.Listing, error) {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(listingColumns)
	sb.From("listings")
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var listing models.Listing
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &listing, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "listing not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithField("id", id.String()).Error("Failed to get listing")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get listing")
	}
	return &listing, nil
}

// GetByIDs retrieves listings by id. Missing ids are silently absent from the
// result; callers compare lengths when presence is required.
func (r *Repository) GetByIDs(ctx context.Context, tenantID string, ids []uuid.UUID) ([]models.Listing, error) {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.GetByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(listingColumns)
	sb.From("listings")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		fmt.Sprintf("id = ANY(%s)", sb.Var(pq.Array(ids))),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var listings []models.Listing
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &listings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("ids", len(ids)).Error("Failed to get listings by ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get listings")
	}
	return listings, nil
}

// FindActiveByNormalizedNames returns active listings whose normalized name
// matches any of keys.
func (r *Repository) FindActiveByNormalizedNames(ctx context.Context, tenantID string, keys []string) ([]models.Listing, error) {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.FindActiveByNormalizedNames")
	defer span.End()

	if len(keys) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(listingColumns)
	sb.From("listings")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("active", true),
		fmt.Sprintf("normalized_name = ANY(%s)", sb.Var(pq.Array(keys))),
	)

	query, args := sb.Build()
	var listings []models.Listing
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &listings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"keys":      len(keys),
		}).Error("Failed to find listings by normalized name")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find listings")
	}
	return listings, nil
}

// ListActive returns every active listing for a tenant, ordered by normalized
// name so duplicate scans see clusters adjacently.
func (r *Repository) ListActive(ctx context.Context, tenantID string) ([]models.Listing, error) {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.ListActive")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(listingColumns)
	sb.From("listings")
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("active", true))
	sb.OrderBy("normalized_name ASC", "created_at ASC")

	query, args := sb.Build()
	var listings []models.Listing
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &listings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list active listings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list listings")
	}
	return listings, nil
}

// List returns listings for a tenant with optional filters.
func (r *Repository) List(ctx context.Context, tenantID string, filter Filter) ([]models.Listing, error) {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(listingColumns)
	sb.From("listings")
	where := []string{sb.Equal("tenant_id", tenantID)}
	if filter.SourceID != "" {
		where = append(where, sb.Equal("source_id", filter.SourceID))
	}
	if filter.ActiveOnly {
		where = append(where, sb.Equal("active", true))
	}
	sb.Where(where...)
	sb.OrderBy("created_at DESC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	query, args := sb.Build()
	var listings []models.Listing
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &listings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list listings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list listings")
	}
	return listings, nil
}

// Archive deactivates listings that are still active and stamps archived_at.
// Returns how many rows changed so callers can detect concurrent mutation.
func (r *Repository) Archive(ctx context.Context, tenantID string, ids []uuid.UUID, archivedAt time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.Archive")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("listings")
	ub.Set(
		ub.Assign("active", false),
		ub.Assign("archived_at", archivedAt),
		ub.Assign("updated_at", archivedAt),
	)
	ub.Where(
		ub.Equal("tenant_id", tenantID),
		ub.Equal("active", true),
		fmt.Sprintf("id = ANY(%s)", ub.Var(pq.Array(ids))),
	)

	query, args := ub.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"ids":       len(ids),
		}).Error("Failed to archive listings")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to archive listings")
	}

	n, err := result.RowsAffected()
	if err != nil {
		return len(ids), nil
	}
	return int(n), nil
}
