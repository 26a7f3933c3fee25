package merging

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/bramble/pkg/database"
	"github.com/Ramsey-B/bramble/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// The remaining database.Tx methods are never exercised by the coordinator.
func (t *fakeTx) IsOpen() bool { return !t.committed && !t.rolledBack }

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}

func (t *fakeTx) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}

func (t *fakeTx) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}

func (t *fakeTx) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	return nil, nil
}

func (t *fakeTx) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return nil, nil
}

type fakeTxRunner struct {
	tx *fakeTx
}

func (r *fakeTxRunner) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	r.tx = &fakeTx{}
	return ctx, r.tx, nil
}

type fakeLock struct {
	released bool
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.released = true
	return nil
}

type fakeLocker struct {
	mu        sync.Mutex
	contended bool
	acquired  []string
	lock      *fakeLock
}

func (l *fakeLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration, timeout time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.contended {
		return nil, fmt.Errorf("lock held")
	}
	l.acquired = append(l.acquired, key)
	l.lock = &fakeLock{}
	return l.lock, nil
}

type fakeListingStore struct {
	listings   map[uuid.UUID]models.Listing
	archiveErr error
	// archiveShort archives one fewer row than requested to simulate a
	// concurrent mutation between read and write
	archiveShort bool
	archivedIDs  []uuid.UUID
}

func (s *fakeListingStore) GetByIDs(ctx context.Context, tenantID string, ids []uuid.UUID) ([]models.Listing, error) {
	var out []models.Listing
	for _, id := range ids {
		if l, ok := s.listings[id]; ok && l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeListingStore) Archive(ctx context.Context, tenantID string, ids []uuid.UUID, archivedAt time.Time) (int, error) {
	if s.archiveErr != nil {
		return 0, s.archiveErr
	}
	n := len(ids)
	if s.archiveShort {
		n--
		ids = ids[:n]
	}
	for _, id := range ids {
		l := s.listings[id]
		l.Active = false
		l.ArchivedAt = &archivedAt
		s.listings[id] = l
		s.archivedIDs = append(s.archivedIDs, id)
	}
	return n, nil
}

type fakeOperationStore struct {
	ops []*models.MergeOperation
}

func (s *fakeOperationStore) Create(ctx context.Context, op *models.MergeOperation) error {
	s.ops = append(s.ops, op)
	return nil
}

type fakeEmitter struct {
	archived []uuid.UUID
}

func (e *fakeEmitter) EmitListingArchived(ctx context.Context, listing *models.Listing) error {
	e.archived = append(e.archived, listing.ID)
	return nil
}

func listing(tenantID string, active bool) models.Listing {
	return models.Listing{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     "Some Biz",
		Active:   active,
	}
}

type fixture struct {
	coordinator *Coordinator
	db          *fakeTxRunner
	store       *fakeListingStore
	ops         *fakeOperationStore
	locker      *fakeLocker
	emitter     *fakeEmitter
}

func newFixture(listings ...models.Listing) *fixture {
	store := &fakeListingStore{listings: make(map[uuid.UUID]models.Listing)}
	for _, l := range listings {
		store.listings[l.ID] = l
	}
	f := &fixture{
		db:      &fakeTxRunner{},
		store:   store,
		ops:     &fakeOperationStore{},
		locker:  &fakeLocker{},
		emitter: &fakeEmitter{},
	}
	f.coordinator = NewCoordinator(f.db, f.store, f.ops, f.locker, f.emitter, DefaultConfig(), testLogger())
	return f
}

func assertHTTPStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	require.True(t, httperror.IsHTTPError(err), "expected HTTPError, got %T", err)
	assert.Equal(t, status, httperror.GetStatusCode(err))
}

func TestMerge_Validation(t *testing.T) {
	primary := listing("t1", true)
	f := newFixture(primary)

	t.Run("nil primary", func(t *testing.T) {
		_, err := f.coordinator.Merge(context.Background(), "t1", uuid.Nil, []uuid.UUID{uuid.New()}, "alice")
		assertHTTPStatus(t, err, http.StatusBadRequest)
	})

	t.Run("no duplicates", func(t *testing.T) {
		_, err := f.coordinator.Merge(context.Background(), "t1", primary.ID, nil, "alice")
		assertHTTPStatus(t, err, http.StatusBadRequest)
	})

	t.Run("self merge", func(t *testing.T) {
		_, err := f.coordinator.Merge(context.Background(), "t1", primary.ID, []uuid.UUID{primary.ID}, "alice")
		assertHTTPStatus(t, err, http.StatusBadRequest)
	})

	t.Run("repeated duplicate id", func(t *testing.T) {
		dup := uuid.New()
		_, err := f.coordinator.Merge(context.Background(), "t1", primary.ID, []uuid.UUID{dup, dup}, "alice")
		assertHTTPStatus(t, err, http.StatusBadRequest)
	})
}

func TestMerge_ArchivesDuplicatesAndRecordsOperation(t *testing.T) {
	primary := listing("t1", true)
	dup1 := listing("t1", true)
	dup2 := listing("t1", true)
	f := newFixture(primary, dup1, dup2)

	result, err := f.coordinator.Merge(context.Background(), "t1", primary.ID, []uuid.UUID{dup1.ID, dup2.ID}, "alice")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Archived)
	assert.Equal(t, 0, result.AlreadyArchived)
	require.NotNil(t, result.Operation)
	assert.Equal(t, primary.ID, result.Operation.PrimaryID)
	assert.Equal(t, "alice", result.Operation.PerformedBy)
	assert.ElementsMatch(t, []uuid.UUID{dup1.ID, dup2.ID}, result.Operation.DuplicateIDs)

	assert.False(t, f.store.listings[dup1.ID].Active)
	assert.False(t, f.store.listings[dup2.ID].Active)
	assert.True(t, f.store.listings[primary.ID].Active)

	require.Len(t, f.ops.ops, 1)
	assert.True(t, f.db.tx.committed)
	assert.False(t, f.db.tx.rolledBack)
	assert.True(t, f.locker.lock.released)
	assert.Equal(t, []string{fmt.Sprintf("merge:t1:%s", primary.ID)}, f.locker.acquired)
	assert.ElementsMatch(t, []uuid.UUID{dup1.ID, dup2.ID}, f.emitter.archived)
}

func TestMerge_AlreadyArchivedDuplicatesAreIdempotent(t *testing.T) {
	primary := listing("t1", true)
	dupActive := listing("t1", true)
	dupArchived := listing("t1", false)
	f := newFixture(primary, dupActive, dupArchived)

	result, err := f.coordinator.Merge(context.Background(), "t1", primary.ID, []uuid.UUID{dupActive.ID, dupArchived.ID}, "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Archived)
	assert.Equal(t, 1, result.AlreadyArchived)
	assert.Equal(t, []uuid.UUID{dupActive.ID}, f.store.archivedIDs)
	assert.Equal(t, []uuid.UUID{dupActive.ID}, f.emitter.archived)
	require.Len(t, f.ops.ops, 1)
}

func TestMerge_PrimaryNotFound(t *testing.T) {
	dup := listing("t1", true)
	f := newFixture(dup)

	_, err := f.coordinator.Merge(context.Background(), "t1", uuid.New(), []uuid.UUID{dup.ID}, "alice")
	assertHTTPStatus(t, err, http.StatusNotFound)
	assert.True(t, f.db.tx.rolledBack)
	assert.Empty(t, f.ops.ops)
}

func TestMerge_ArchivedPrimaryIsRejected(t *testing.T) {
	primary := listing("t1", false)
	dup := listing("t1", true)
	f := newFixture(primary, dup)

	_, err := f.coordinator.Merge(context.Background(), "t1", primary.ID, []uuid.UUID{dup.ID}, "alice")
	assertHTTPStatus(t, err, http.StatusConflict)
	assert.True(t, f.db.tx.rolledBack)
}

func TestMerge_MissingDuplicateIsNotFound(t *testing.T) {
	primary := listing("t1", true)
	f := newFixture(primary)

	_, err := f.coordinator.Merge(context.Background(), "t1", primary.ID, []uuid.UUID{uuid.New()}, "alice")
	assertHTTPStatus(t, err, http.StatusNotFound)
}

func TestMerge_OtherTenantListingsAreInvisible(t *testing.T) {
	primary := listing("t1", true)
	otherTenant := listing("t2", true)
	f := newFixture(primary, otherTenant)

	_, err := f.coordinator.Merge(context.Background(), "t1", primary.ID, []uuid.UUID{otherTenant.ID}, "alice")
	assertHTTPStatus(t, err, http.StatusNotFound)
}

func TestMerge_LockContentionConflicts(t *testing.T) {
	primary := listing("t1", true)
	dup := listing("t1", true)
	f := newFixture(primary, dup)
	f.locker.contended = true

	_, err := f.coordinator.Merge(context.Background(), "t1", primary.ID, []uuid.UUID{dup.ID}, "alice")
	assertHTTPStatus(t, err, http.StatusConflict)
	assert.Nil(t, f.db.tx)
	assert.Empty(t, f.ops.ops)
}

func TestMerge_ConcurrentMutationRollsBack(t *testing.T) {
	primary := listing("t1", true)
	dup := listing("t1", true)
	f := newFixture(primary, dup)
	f.store.archiveShort = true

	_, err := f.coordinator.Merge(context.Background(), "t1", primary.ID, []uuid.UUID{dup.ID}, "alice")
	assertHTTPStatus(t, err, http.StatusConflict)
	assert.True(t, f.db.tx.rolledBack)
	assert.False(t, f.db.tx.committed)
	assert.Empty(t, f.ops.ops)
	assert.True(t, f.locker.lock.released)
}
