package service

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) ledgerdomain.Service {
	t.Helper()
	return NewService(ServiceParam{Log: zap.NewNop()})
}

func newID(t *testing.T) snowflake.ID {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node.Generate()
}

func TestTrack_Validation(t *testing.T) {
	svc := newTestService(t)
	companyID := newID(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		kind    ledgerdomain.MeterKind
		amount  float64
		wantErr error
	}{
		{name: "unknown meter", kind: "videos", amount: 1, wantErr: ledgerdomain.ErrInvalidMeterKind},
		{name: "zero countable", kind: ledgerdomain.MeterQueries, amount: 0, wantErr: ledgerdomain.ErrNonPositiveAmount},
		{name: "negative countable", kind: ledgerdomain.MeterDocuments, amount: -2, wantErr: ledgerdomain.ErrNonPositiveAmount},
		{name: "fractional countable", kind: ledgerdomain.MeterPhotos, amount: 1.5, wantErr: ledgerdomain.ErrNonPositiveAmount},
		{name: "negative storage", kind: ledgerdomain.MeterStorageGB, amount: -0.1, wantErr: ledgerdomain.ErrNonPositiveAmount},
		{name: "single query", kind: ledgerdomain.MeterQueries, amount: 1},
		{name: "storage magnitude", kind: ledgerdomain.MeterStorageGB, amount: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Track(ctx, companyID, tt.kind, tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	// Rejected calls must not leak partial increments.
	summary := svc.Summary(companyID)
	assert.Equal(t, uint64(1), summary.Queries)
	assert.Equal(t, uint64(0), summary.Documents)
	assert.Equal(t, uint64(0), summary.Photos)
	assert.InDelta(t, 2.5, summary.StorageGB, 1e-9)
}

func TestTrack_StorageZeroIsNoOp(t *testing.T) {
	svc := newTestService(t)
	companyID := newID(t)

	require.NoError(t, svc.Track(context.Background(), companyID, ledgerdomain.MeterStorageGB, 0))
	assert.Zero(t, svc.Summary(companyID).StorageGB)
}

func TestTrack_Conservation(t *testing.T) {
	svc := newTestService(t)
	companyID := newID(t)
	ctx := context.Background()

	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = svc.Track(ctx, companyID, ledgerdomain.MeterQueries, 1)
				_ = svc.Track(ctx, companyID, ledgerdomain.MeterStorageGB, 0.25)
			}
		}()
	}
	wg.Wait()

	snapshot, ok := svc.SwapAndReset(companyID)
	require.True(t, ok)
	assert.Equal(t, uint64(workers*perWorker), snapshot.Queries)
	assert.InDelta(t, float64(workers*perWorker)*0.25, snapshot.StorageGB, 1e-6)
}

func TestTrack_CompaniesAreIndependent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	companyA := node.Generate()
	companyB := node.Generate()

	var wg sync.WaitGroup
	for _, id := range []snowflake.ID{companyA, companyB} {
		wg.Add(1)
		go func(companyID snowflake.ID) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = svc.Track(ctx, companyID, ledgerdomain.MeterDocuments, 1)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, uint64(1000), svc.Summary(companyA).Documents)
	assert.Equal(t, uint64(1000), svc.Summary(companyB).Documents)
}

func TestSwapAndReset_Barrier(t *testing.T) {
	svc := newTestService(t)
	companyID := newID(t)
	ctx := context.Background()

	for i := 0; i < 42; i++ {
		require.NoError(t, svc.Track(ctx, companyID, ledgerdomain.MeterPhotos, 1))
	}

	snapshot, ok := svc.SwapAndReset(companyID)
	require.True(t, ok)
	assert.Equal(t, uint64(42), snapshot.Photos)

	// Activity after the swap never appears in the returned snapshot.
	require.NoError(t, svc.Track(ctx, companyID, ledgerdomain.MeterPhotos, 1))
	assert.Equal(t, uint64(42), snapshot.Photos)
	assert.Equal(t, uint64(1), svc.Summary(companyID).Photos)
}

func TestSwapAndReset_ConcurrentTrackLandsExactlyOnce(t *testing.T) {
	svc := newTestService(t)
	companyID := newID(t)
	ctx := context.Background()

	const total = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			_ = svc.Track(ctx, companyID, ledgerdomain.MeterQueries, 1)
		}
	}()

	var swapped uint64
	for i := 0; i < 20; i++ {
		if snapshot, ok := svc.SwapAndReset(companyID); ok {
			swapped += snapshot.Queries
		}
	}
	wg.Wait()

	final, ok := svc.SwapAndReset(companyID)
	require.True(t, ok)
	assert.Equal(t, uint64(total), swapped+final.Queries)
}

func TestSwapAndReset_UnknownCompany(t *testing.T) {
	svc := newTestService(t)

	_, ok := svc.SwapAndReset(newID(t))
	assert.False(t, ok)
}
