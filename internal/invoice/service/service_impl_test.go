package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/metriqhq/metriq/internal/clock"
	"github.com/metriqhq/metriq/internal/config"
	cycledomain "github.com/metriqhq/metriq/internal/cycle/domain"
	cycleservice "github.com/metriqhq/metriq/internal/cycle/service"
	invoicedomain "github.com/metriqhq/metriq/internal/invoice/domain"
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	ledgerservice "github.com/metriqhq/metriq/internal/ledger/service"
	"github.com/metriqhq/metriq/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

type fixture struct {
	svc    invoicedomain.Service
	cycles cycledomain.Service
	ledger ledgerdomain.Service
	clock  *clock.FakeClock
	db     *gorm.DB
	node   *snowflake.Node
}

func newFixture(t *testing.T, cfg pricing.Config) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:invoicetest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&cycledomain.Cycle{},
		&cycledomain.UsageSnapshot{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{Log: zap.NewNop()})
	cycleSvc := cycleservice.NewService(cycleservice.ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fakeClock,
		Ledger: ledgerSvc,
	})
	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fakeClock,
		Cycles:  cycleSvc,
		Pricing: config.NewStaticPricingHolder(cfg),
	})

	return &fixture{svc: svc, cycles: cycleSvc, ledger: ledgerSvc, clock: fakeClock, db: db, node: node}
}

func (f *fixture) closeWithUsage(t *testing.T, companyID snowflake.ID, queries, documents, photos uint64, storageGB float64) cycledomain.UsageSnapshot {
	t.Helper()
	ctx := context.Background()
	_, err := f.cycles.EnsureOpen(ctx, companyID)
	require.NoError(t, err)
	if queries > 0 {
		require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterQueries, float64(queries)))
	}
	if documents > 0 {
		require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterDocuments, float64(documents)))
	}
	if photos > 0 {
		require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterPhotos, float64(photos)))
	}
	if storageGB > 0 {
		require.NoError(t, f.ledger.Track(ctx, companyID, ledgerdomain.MeterStorageGB, storageGB))
	}
	snapshot, err := f.cycles.Close(ctx, companyID)
	require.NoError(t, err)
	return snapshot
}

func noDiscountConfig() pricing.Config {
	cfg := pricing.DefaultConfig()
	cfg.FoundingDiscountPct = 0
	return cfg
}

func TestGenerate_ShippedPlanExample(t *testing.T) {
	f := newFixture(t, noDiscountConfig())
	companyID := f.node.Generate()
	snapshot := f.closeWithUsage(t, companyID, 650, 28, 130, 12.5)

	invoice, err := f.svc.Generate(context.Background(), companyID, snapshot.CycleID)
	require.NoError(t, err)

	assert.Equal(t, int64(4900), invoice.FlatFeeCents)
	assert.Equal(t, int64(1375), invoice.UsageCents)
	assert.Equal(t, int64(6275), invoice.SubtotalCents)
	assert.Equal(t, int64(0), invoice.DiscountCents)
	assert.Equal(t, int64(6275), invoice.TotalCents)
	assert.Equal(t, "USD", invoice.Currency)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, invoice.Status)

	// Breakdown rows stay in the fixed meter order.
	require.Len(t, invoice.Lines, 4)
	wantKinds := []ledgerdomain.MeterKind{
		ledgerdomain.MeterQueries,
		ledgerdomain.MeterDocuments,
		ledgerdomain.MeterPhotos,
		ledgerdomain.MeterStorageGB,
	}
	wantAmounts := []int64{750, 200, 300, 125}
	for i, line := range invoice.Lines {
		assert.Equal(t, wantKinds[i], line.MeterKind)
		assert.Equal(t, wantAmounts[i], line.AmountCents)
	}
}

func TestGenerate_AtQuotaBillsFlatFeeOnly(t *testing.T) {
	f := newFixture(t, noDiscountConfig())
	companyID := f.node.Generate()
	snapshot := f.closeWithUsage(t, companyID, 500, 20, 100, 10)

	invoice, err := f.svc.Generate(context.Background(), companyID, snapshot.CycleID)
	require.NoError(t, err)

	assert.Equal(t, int64(0), invoice.UsageCents)
	assert.Equal(t, int64(4900), invoice.TotalCents)
	for _, line := range invoice.Lines {
		assert.Zero(t, line.Overage)
		assert.Zero(t, line.AmountCents)
	}
}

func TestGenerate_FoundingDiscount(t *testing.T) {
	f := newFixture(t, pricing.DefaultConfig())
	companyID := f.node.Generate()
	snapshot := f.closeWithUsage(t, companyID, 650, 28, 130, 12.5)

	invoice, err := f.svc.Generate(context.Background(), companyID, snapshot.CycleID)
	require.NoError(t, err)

	// 15% off 6275: 5333.75 raw, half-to-even once at the end.
	assert.Equal(t, int64(6275), invoice.SubtotalCents)
	assert.Equal(t, int64(5334), invoice.TotalCents)
	assert.Equal(t, int64(941), invoice.DiscountCents)
}

func TestGenerate_Idempotent(t *testing.T) {
	f := newFixture(t, noDiscountConfig())
	companyID := f.node.Generate()
	snapshot := f.closeWithUsage(t, companyID, 650, 0, 0, 0)

	first, err := f.svc.Generate(context.Background(), companyID, snapshot.CycleID)
	require.NoError(t, err)

	second, err := f.svc.Generate(context.Background(), companyID, snapshot.CycleID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)
	assert.Equal(t, first.TotalCents, second.TotalCents)
	require.Len(t, second.Lines, 4)
}

func TestGenerate_UnknownCycle(t *testing.T) {
	f := newFixture(t, noDiscountConfig())

	_, err := f.svc.Generate(context.Background(), f.node.Generate(), f.node.Generate())
	assert.ErrorIs(t, err, cycledomain.ErrSnapshotNotFound)
}

func TestGenerate_InvoiceNumberSequence(t *testing.T) {
	f := newFixture(t, noDiscountConfig())
	ctx := context.Background()

	a := f.node.Generate()
	b := f.node.Generate()
	snapA := f.closeWithUsage(t, a, 10, 0, 0, 0)
	snapB := f.closeWithUsage(t, b, 10, 0, 0, 0)

	invA, err := f.svc.Generate(ctx, a, snapA.CycleID)
	require.NoError(t, err)
	invB, err := f.svc.Generate(ctx, b, snapB.CycleID)
	require.NoError(t, err)

	assert.Equal(t, "INV-20260801-000001", invA.InvoiceNumber)
	assert.Equal(t, "INV-20260801-000002", invB.InvoiceNumber)
}

// When a concurrent issuer grabs the number the daily count points at,
// the unique index rejects it and generation retries with the next
// sequence instead of storing a duplicate number.
func TestGenerate_NumberCollisionTakesNextSequence(t *testing.T) {
	f := newFixture(t, noDiscountConfig())
	ctx := context.Background()
	companyID := f.node.Generate()
	snapshot := f.closeWithUsage(t, companyID, 10, 0, 0, 0)

	// One invoice already issued today, so the daily count points at
	// sequence 2. A concurrent issuer already holds 000002.
	issued := f.clock.Now()
	require.NoError(t, f.db.Create(&invoicedomain.Invoice{
		ID:            f.node.Generate(),
		CompanyID:     f.node.Generate(),
		CycleID:       f.node.Generate(),
		InvoiceNumber: "INV-20260801-000002",
		Status:        invoicedomain.InvoiceStatusIssued,
		Currency:      "USD",
		IssuedAt:      issued,
		CreatedAt:     issued,
		UpdatedAt:     issued,
	}).Error)

	invoice, err := f.svc.Generate(ctx, companyID, snapshot.CycleID)
	require.NoError(t, err)
	assert.Equal(t, "INV-20260801-000003", invoice.InvoiceNumber)
	require.Len(t, invoice.Lines, 4)

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).
		Where("invoice_number = ?", invoice.InvoiceNumber).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetByID(t *testing.T) {
	f := newFixture(t, noDiscountConfig())
	companyID := f.node.Generate()
	snapshot := f.closeWithUsage(t, companyID, 650, 0, 0, 0)

	generated, err := f.svc.Generate(context.Background(), companyID, snapshot.CycleID)
	require.NoError(t, err)

	loaded, err := f.svc.GetByID(context.Background(), generated.ID)
	require.NoError(t, err)
	assert.Equal(t, generated.InvoiceNumber, loaded.InvoiceNumber)
	require.Len(t, loaded.Lines, 4)
	assert.Equal(t, ledgerdomain.MeterQueries, loaded.Lines[0].MeterKind)

	_, err = f.svc.GetByID(context.Background(), f.node.Generate())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}
