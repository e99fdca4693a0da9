package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/metriqhq/metriq/internal/clock"
	cycledomain "github.com/metriqhq/metriq/internal/cycle/domain"
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	ledgerservice "github.com/metriqhq/metriq/internal/ledger/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:cycletest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&cycledomain.Cycle{}, &cycledomain.UsageSnapshot{}))
	return db
}

type fixture struct {
	svc    cycledomain.Service
	ledger ledgerdomain.Service
	clock  *clock.FakeClock
	db     *gorm.DB
	node   *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{Log: zap.NewNop()})
	svc := NewService(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fakeClock,
		Ledger: ledgerSvc,
	})

	return &fixture{svc: svc, ledger: ledgerSvc, clock: fakeClock, db: db, node: node}
}

// Policy choice: closing a company that was never metered fails with
// no_open_cycle instead of returning a zeroed snapshot.
func TestClose_NoTrackedHistory(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Close(context.Background(), f.node.Generate())
	assert.ErrorIs(t, err, cycledomain.ErrNoOpenCycle)
}

func TestEnsureOpen_FirstContactOpensCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	companyID := f.node.Generate()

	opened, err := f.svc.EnsureOpen(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, cycledomain.CycleStatusOpen, opened.Status)
	assert.Equal(t, f.clock.Now(), opened.StartedAt)

	again, err := f.svc.EnsureOpen(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, opened.ID, again.ID)

	var count int64
	require.NoError(t, f.db.Model(&cycledomain.Cycle{}).
		Where("company_id = ? AND status = ?", companyID, cycledomain.CycleStatusOpen).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestClose_SnapshotAndSuccessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	companyID := f.node.Generate()

	opened, err := f.svc.EnsureOpen(ctx, companyID)
	require.NoError(t, err)

	for i := 0; i < 650; i++ {
		require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterQueries, 1))
	}
	require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterDocuments, 28))
	require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterStorageGB, 12.5))

	f.clock.Advance(30 * 24 * time.Hour)
	closedAt := f.clock.Now()

	snapshot, err := f.svc.Close(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, opened.ID, snapshot.CycleID)
	assert.Equal(t, uint64(650), snapshot.Queries)
	assert.Equal(t, uint64(28), snapshot.Documents)
	assert.InDelta(t, 12.5, snapshot.StorageGB, 1e-9)
	assert.Equal(t, closedAt, snapshot.ClosedAt)

	// Old cycle persisted CLOSED, successor OPEN with started_at = closed_at.
	var closed cycledomain.Cycle
	require.NoError(t, f.db.Where("id = ?", opened.ID).First(&closed).Error)
	assert.Equal(t, cycledomain.CycleStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closedAt.Equal(*closed.ClosedAt))

	var next cycledomain.Cycle
	require.NoError(t, f.db.Where("company_id = ? AND status = ?", companyID, cycledomain.CycleStatusOpen).
		First(&next).Error)
	assert.True(t, closedAt.Equal(next.StartedAt))

	// Snapshot retrievable for invoicing.
	loaded, err := f.svc.GetSnapshot(ctx, companyID, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ID, loaded.ID)
}

func TestClose_NoDoubleCountingAcrossBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	companyID := f.node.Generate()

	_, err := f.svc.EnsureOpen(ctx, companyID)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterPhotos, 5))

	first, err := f.svc.Close(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), first.Photos)

	// Post-close activity bills to the successor only.
	require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterPhotos, 3))
	assert.Equal(t, uint64(5), first.Photos)

	second, err := f.svc.Close(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), second.Photos)
	assert.NotEqual(t, first.CycleID, second.CycleID)
}

func TestClose_ConcurrentClosesConserveUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	companyID := f.node.Generate()

	_, err := f.svc.EnsureOpen(ctx, companyID)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterQueries, 100))

	var wg sync.WaitGroup
	var conflicts atomic.Int64
	var closed atomic.Uint64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, err := f.svc.Close(ctx, companyID)
			switch {
			case err == nil:
				closed.Add(snapshot.Queries)
			case err == cycledomain.ErrConcurrentCloseConflict:
				conflicts.Add(1)
			default:
				t.Errorf("unexpected close error: %v", err)
			}
		}()
	}
	wg.Wait()

	// Overlapping closes are rejected, never double-billed: the tracked
	// 100 queries appear in exactly one snapshot.
	assert.Equal(t, uint64(100), closed.Load())
	assert.GreaterOrEqual(t, conflicts.Load(), int64(0))
}

// A close that loses the row-level race (the cycle was closed out from
// under the cached copy) must report a conflict and put the displaced
// counters back, not write a snapshot against a CLOSED cycle.
func TestClose_StaleCacheLosesRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	companyID := f.node.Generate()

	opened, err := f.svc.EnsureOpen(ctx, companyID)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterQueries, 7))

	// Another instance closes the cycle behind our back.
	require.NoError(t, f.db.Exec(
		`UPDATE billing_cycles SET status = ? WHERE id = ?`,
		cycledomain.CycleStatusClosed, opened.ID,
	).Error)

	_, err = f.svc.Close(ctx, companyID)
	assert.ErrorIs(t, err, cycledomain.ErrConcurrentCloseConflict)

	// No snapshot row was written and the usage survived the rollback.
	var snapshots int64
	require.NoError(t, f.db.Model(&cycledomain.UsageSnapshot{}).
		Where("company_id = ?", companyID).Count(&snapshots).Error)
	assert.Zero(t, snapshots)
	assert.Equal(t, uint64(7), f.ledger.Summary(companyID).Queries)
}

func TestGetSnapshot_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetSnapshot(context.Background(), f.node.Generate(), f.node.Generate())
	assert.ErrorIs(t, err, cycledomain.ErrSnapshotNotFound)
}

func TestListOpenStartedBefore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.node.Generate()
	_, err := f.svc.EnsureOpen(ctx, early)
	require.NoError(t, err)

	f.clock.Advance(10 * 24 * time.Hour)
	late := f.node.Generate()
	_, err = f.svc.EnsureOpen(ctx, late)
	require.NoError(t, err)

	cutoff := f.clock.Now().Add(-5 * 24 * time.Hour)
	due, err := f.svc.ListOpenStartedBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early, due[0].CompanyID)
}
