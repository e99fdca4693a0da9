package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/metriqhq/metriq/internal/clock"
	cycledomain "github.com/metriqhq/metriq/internal/cycle/domain"
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	obsmetrics "github.com/metriqhq/metriq/internal/observability/metrics"
	"github.com/metriqhq/metriq/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Ledger  ledgerdomain.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	ledger  ledgerdomain.Service
	metrics *obsmetrics.Metrics

	cyclerepo    repository.Repository[cycledomain.Cycle]
	snapshotrepo repository.Repository[cycledomain.UsageSnapshot]

	// openCycles caches the OPEN cycle per company so EnsureOpen is a map
	// read after first contact. Only this service mutates cycle rows.
	mu         sync.RWMutex
	openCycles map[snowflake.ID]cycledomain.Cycle

	// closing serializes Close per company; overlapping closes are
	// rejected, not queued.
	closing sync.Map
}

func NewService(p ServiceParam) cycledomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("cycle.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		ledger:  p.Ledger,
		metrics: p.Metrics,

		cyclerepo:    repository.ProvideStore[cycledomain.Cycle](p.DB),
		snapshotrepo: repository.ProvideStore[cycledomain.UsageSnapshot](p.DB),

		openCycles: make(map[snowflake.ID]cycledomain.Cycle),
	}
}

func (s *Service) EnsureOpen(ctx context.Context, companyID snowflake.ID) (cycledomain.Cycle, error) {
	s.mu.RLock()
	cached, ok := s.openCycles[companyID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.openCycles[companyID]; ok {
		return cached, nil
	}

	existing, err := s.findOpenCycle(ctx, companyID)
	if err != nil {
		return cycledomain.Cycle{}, err
	}
	if existing != nil {
		s.openCycles[companyID] = *existing
		return *existing, nil
	}

	opened, err := s.openCycle(ctx, companyID, s.clock.Now())
	if err != nil {
		return cycledomain.Cycle{}, err
	}
	s.openCycles[companyID] = opened
	return opened, nil
}

func (s *Service) Close(ctx context.Context, companyID snowflake.ID) (cycledomain.UsageSnapshot, error) {
	if _, loaded := s.closing.LoadOrStore(companyID, struct{}{}); loaded {
		return cycledomain.UsageSnapshot{}, cycledomain.ErrConcurrentCloseConflict
	}
	defer s.closing.Delete(companyID)

	s.mu.RLock()
	cycle, ok := s.openCycles[companyID]
	s.mu.RUnlock()
	if !ok {
		existing, err := s.findOpenCycle(ctx, companyID)
		if err != nil {
			return cycledomain.UsageSnapshot{}, err
		}
		if existing == nil {
			return cycledomain.UsageSnapshot{}, cycledomain.ErrNoOpenCycle
		}
		cycle = *existing
	}

	// The swap is the cycle boundary: everything tracked before this
	// line bills to the closing cycle, everything after to its successor.
	counters, _ := s.ledger.SwapAndReset(companyID)

	now := s.clock.Now()
	snapshot := cycledomain.UsageSnapshot{
		ID:        s.genID.Generate(),
		CycleID:   cycle.ID,
		CompanyID: companyID,
		Queries:   counters.Queries,
		Documents: counters.Documents,
		Photos:    counters.Photos,
		StorageGB: counters.StorageGB,
		ClosedAt:  now,
		CreatedAt: now,
	}
	next := cycledomain.Cycle{
		ID:        s.genID.Generate(),
		CompanyID: companyID,
		StartedAt: now,
		Status:    cycledomain.CycleStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE billing_cycles
			 SET status = ?, closed_at = ?, updated_at = ?
			 WHERE company_id = ? AND id = ? AND status = ?`,
			cycledomain.CycleStatusClosed,
			now,
			now,
			companyID,
			cycle.ID,
			cycledomain.CycleStatusOpen,
		)
		if res.Error != nil {
			return res.Error
		}
		// Zero rows means the cycle is no longer OPEN: another instance
		// closed it and our cached copy is stale.
		if res.RowsAffected == 0 {
			return cycledomain.ErrConcurrentCloseConflict
		}
		if err := s.snapshotrepo.WithTrx(tx).Create(ctx, &snapshot); err != nil {
			return err
		}
		return s.cyclerepo.WithTrx(tx).Create(ctx, &next)
	})
	if err != nil {
		s.restoreCounters(ctx, companyID, counters)
		if errors.Is(err, cycledomain.ErrConcurrentCloseConflict) {
			s.mu.Lock()
			delete(s.openCycles, companyID)
			s.mu.Unlock()
		}
		return cycledomain.UsageSnapshot{}, err
	}

	s.mu.Lock()
	s.openCycles[companyID] = next
	s.mu.Unlock()

	s.metrics.IncCycleClosed()
	s.log.Info("billing cycle closed",
		zap.String("company_id", companyID.String()),
		zap.String("cycle_id", cycle.ID.String()),
		zap.Uint64("queries", snapshot.Queries),
		zap.Uint64("documents", snapshot.Documents),
		zap.Uint64("photos", snapshot.Photos),
		zap.Float64("storage_gb", snapshot.StorageGB),
	)

	return snapshot, nil
}

func (s *Service) GetSnapshot(ctx context.Context, companyID, cycleID snowflake.ID) (cycledomain.UsageSnapshot, error) {
	snapshot, err := s.snapshotrepo.FindOne(ctx, &cycledomain.UsageSnapshot{
		CompanyID: companyID,
		CycleID:   cycleID,
	})
	if err != nil {
		return cycledomain.UsageSnapshot{}, err
	}
	if snapshot == nil {
		return cycledomain.UsageSnapshot{}, cycledomain.ErrSnapshotNotFound
	}
	return *snapshot, nil
}

func (s *Service) ListOpenStartedBefore(ctx context.Context, cutoff time.Time) ([]cycledomain.Cycle, error) {
	var cycles []cycledomain.Cycle
	err := s.db.WithContext(ctx).
		Where("status = ? AND started_at <= ?", cycledomain.CycleStatusOpen, cutoff).
		Order("started_at").
		Find(&cycles).Error
	if err != nil {
		return nil, err
	}
	return cycles, nil
}

func (s *Service) findOpenCycle(ctx context.Context, companyID snowflake.ID) (*cycledomain.Cycle, error) {
	return s.cyclerepo.FindOne(ctx, &cycledomain.Cycle{
		CompanyID: companyID,
		Status:    cycledomain.CycleStatusOpen,
	})
}

func (s *Service) openCycle(ctx context.Context, companyID snowflake.ID, now time.Time) (cycledomain.Cycle, error) {
	cycle := cycledomain.Cycle{
		ID:        s.genID.Generate(),
		CompanyID: companyID,
		StartedAt: now,
		Status:    cycledomain.CycleStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.cyclerepo.Create(ctx, &cycle); err != nil {
		return cycledomain.Cycle{}, err
	}
	return cycle, nil
}

// restoreCounters merges a displaced snapshot back into the live ledger
// when the close transaction failed. Nothing tracked is ever dropped.
func (s *Service) restoreCounters(ctx context.Context, companyID snowflake.ID, counters ledgerdomain.UsageCounters) {
	restore := []struct {
		kind   ledgerdomain.MeterKind
		amount float64
	}{
		{ledgerdomain.MeterQueries, float64(counters.Queries)},
		{ledgerdomain.MeterDocuments, float64(counters.Documents)},
		{ledgerdomain.MeterPhotos, float64(counters.Photos)},
		{ledgerdomain.MeterStorageGB, counters.StorageGB},
	}
	for _, r := range restore {
		if r.amount <= 0 {
			continue
		}
		if err := s.ledger.Track(ctx, companyID, r.kind, r.amount); err != nil {
			s.log.Error("failed to restore counters after close rollback",
				zap.String("company_id", companyID.String()),
				zap.String("meter_kind", string(r.kind)),
				zap.Error(err),
			)
		}
	}
}
