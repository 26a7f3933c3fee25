// Package merging applies confirmed duplicate resolutions: the primary
// listing survives, duplicates are archived, and the operation is recorded
// for audit.
package merging

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/bramble/pkg/database"
	"github.com/Ramsey-B/bramble/pkg/metrics"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/redis"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// TxRunner opens or joins a transaction. Satisfied by database.DB.
type TxRunner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// Lock is a held mutual-exclusion handle.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker serializes merges per primary listing.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration, timeout time.Duration) (Lock, error)
}

type redisLocker struct {
	locker *redis.Locker
}

func (l redisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration, timeout time.Duration) (Lock, error) {
	return l.locker.TryAcquire(ctx, key, ttl, timeout)
}

// NewRedisLocker adapts the redis locker to the coordinator's interface.
func NewRedisLocker(locker *redis.Locker) Locker {
	return redisLocker{locker: locker}
}

// ListingStore is the listing persistence surface the coordinator needs.
type ListingStore interface {
	GetByIDs(ctx context.Context, tenantID string, ids []uuid.UUID) ([]models.Listing, error)
	Archive(ctx context.Context, tenantID string, ids []uuid.UUID, archivedAt time.Time) (int, error)
}

// OperationStore records completed merge operations.
type OperationStore interface {
	Create(ctx context.Context, op *models.MergeOperation) error
}

// Emitter publishes archive events for merged-away listings. Failures are
// logged, never propagated; the merge already committed.
type Emitter interface {
	EmitListingArchived(ctx context.Context, listing *models.Listing) error
}

// Config holds merge coordination tuning.
type Config struct {
	// LockTTL bounds how long a merge may hold its per-primary lock
	LockTTL time.Duration
	// LockAcquireTimeout bounds how long a merge waits for a contended lock
	LockAcquireTimeout time.Duration
}

// DefaultConfig returns the default merge configuration.
func DefaultConfig() Config {
	return Config{
		LockTTL:            30 * time.Second,
		LockAcquireTimeout: 5 * time.Second,
	}
}

// Result reports what a merge changed.
type Result struct {
	Operation *models.MergeOperation `json:"operation"`
	Archived  int                    `json:"archived"`
	// AlreadyArchived counts duplicates that were inactive before the merge;
	// repeating a merge is a no-op for them
	AlreadyArchived int `json:"already_archived"`
}

// Coordinator serializes merges per primary listing and applies them
// transactionally.
type Coordinator struct {
	db         TxRunner
	listings   ListingStore
	operations OperationStore
	locker     Locker
	emitter    Emitter
	cfg        Config
	logger     ectologger.Logger
}

// NewCoordinator creates a merge coordinator. emitter may be nil.
func NewCoordinator(
	db TxRunner,
	listings ListingStore,
	operations OperationStore,
	locker Locker,
	emitter Emitter,
	cfg Config,
	logger ectologger.Logger,
) *Coordinator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	if cfg.LockAcquireTimeout <= 0 {
		cfg.LockAcquireTimeout = DefaultConfig().LockAcquireTimeout
	}
	return &Coordinator{
		db:         db,
		listings:   listings,
		operations: operations,
		locker:     locker,
		emitter:    emitter,
		cfg:        cfg,
		logger:     logger,
	}
}

// Merge archives the duplicates of primaryID and records the operation.
// Concurrent merges against the same primary serialize on a distributed lock;
// either the whole merge commits or none of it does.
func (c *Coordinator) Merge(ctx context.Context, tenantID string, primaryID uuid.UUID, duplicateIDs []uuid.UUID, performedBy string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Merge")
	defer span.End()

	if err := validateMerge(primaryID, duplicateIDs); err != nil {
		return nil, err
	}

	lockKey := fmt.Sprintf("merge:%s:%s", tenantID, primaryID.String())
	lock, err := c.locker.TryAcquire(ctx, lockKey, c.cfg.LockTTL, c.cfg.LockAcquireTimeout)
	if err != nil {
		metrics.MergesTotal.WithLabelValues(tenantID, "lock_contended").Inc()
		return nil, httperror.NewHTTPError(http.StatusConflict, "another merge is in progress for this listing")
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			c.logger.WithContext(ctx).WithError(err).Warn("Failed to release merge lock")
		}
	}()

	result, archived, err := c.apply(ctx, tenantID, primaryID, duplicateIDs, performedBy)
	if err != nil {
		metrics.MergesTotal.WithLabelValues(tenantID, "failed").Inc()
		return nil, err
	}
	metrics.MergesTotal.WithLabelValues(tenantID, "completed").Inc()

	if c.emitter != nil {
		for i := range archived {
			if err := c.emitter.EmitListingArchived(ctx, &archived[i]); err != nil {
				c.logger.WithContext(ctx).WithError(err).WithField("listing_id", archived[i].ID.String()).
					Error("Failed to emit listing archived event")
			}
		}
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_id": primaryID.String(),
		"archived":   result.Archived,
	}).Info("Merge completed")

	return result, nil
}

func (c *Coordinator) apply(ctx context.Context, tenantID string, primaryID uuid.UUID, duplicateIDs []uuid.UUID, performedBy string) (*Result, []models.Listing, error) {
	txCtx, tx, err := c.db.GetTx(ctx, nil)
	if err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start merge transaction")
	}
	defer tx.Rollback(ctx)

	primary, err := c.resolvePrimary(txCtx, tenantID, primaryID)
	if err != nil {
		return nil, nil, err
	}

	duplicates, err := c.listings.GetByIDs(txCtx, tenantID, duplicateIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(duplicates) != len(duplicateIDs) {
		return nil, nil, httperror.NewHTTPError(http.StatusNotFound, "one or more duplicate listings not found")
	}

	now := time.Now().UTC()
	toArchive := make([]uuid.UUID, 0, len(duplicates))
	archived := make([]models.Listing, 0, len(duplicates))
	alreadyArchived := 0
	for i := range duplicates {
		if !duplicates[i].Active {
			alreadyArchived++
			continue
		}
		toArchive = append(toArchive, duplicates[i].ID)
		archived = append(archived, duplicates[i])
	}

	if len(toArchive) > 0 {
		n, err := c.listings.Archive(txCtx, tenantID, toArchive, now)
		if err != nil {
			return nil, nil, err
		}
		if n != len(toArchive) {
			return nil, nil, httperror.NewHTTPError(http.StatusConflict, "listing changed during merge")
		}
	}

	op := &models.MergeOperation{
		ID:           uuid.New(),
		TenantID:     tenantID,
		PrimaryID:    primary.ID,
		DuplicateIDs: duplicateIDs,
		PerformedBy:  performedBy,
		PerformedAt:  now,
	}
	if err := c.operations.Create(txCtx, op); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit merge")
	}

	return &Result{
		Operation:       op,
		Archived:        len(toArchive),
		AlreadyArchived: alreadyArchived,
	}, archived, nil
}

func (c *Coordinator) resolvePrimary(ctx context.Context, tenantID string, primaryID uuid.UUID) (*models.Listing, error) {
	rows, err := c.listings.GetByIDs(ctx, tenantID, []uuid.UUID{primaryID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "primary listing not found")
	}
	if !rows[0].Active {
		return nil, httperror.NewHTTPError(http.StatusConflict, "primary listing is archived")
	}
	return &rows[0], nil
}

func validateMerge(primaryID uuid.UUID, duplicateIDs []uuid.UUID) error {
	if primaryID == uuid.Nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "primary listing id is required")
	}
	if len(duplicateIDs) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "at least one duplicate listing id is required")
	}
	seen := make(map[uuid.UUID]bool, len(duplicateIDs))
	for _, id := range duplicateIDs {
		if id == uuid.Nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "duplicate listing id is required")
		}
		if id == primaryID {
			return httperror.NewHTTPError(http.StatusBadRequest, "a listing cannot be merged into itself")
		}
		if seen[id] {
			return httperror.NewHTTPError(http.StatusBadRequest, "duplicate listing ids must be unique")
		}
		seen[id] = true
	}
	return nil
}
