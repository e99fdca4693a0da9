package service

import (
	"context"
	"math"
	"sync"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	obsmetrics "github.com/metriqhq/metriq/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// counters is the mutable per-company state. The mutex covers every read
// and write, so the close-time swap observes no partial increment.
type counters struct {
	mu        sync.Mutex
	queries   uint64
	documents uint64
	photos    uint64
	storageGB float64
}

func (c *counters) snapshotLocked() ledgerdomain.UsageCounters {
	return ledgerdomain.UsageCounters{
		Queries:   c.queries,
		Documents: c.documents,
		Photos:    c.photos,
		StorageGB: c.storageGB,
	}
}

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Service keys live counters by company. The outer lock only guards map
// shape; companies never contend with each other on the hot path.
type Service struct {
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	mu        sync.RWMutex
	companies map[snowflake.ID]*counters
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		log:       p.Log.Named("ledger.service"),
		metrics:   p.Metrics,
		companies: make(map[snowflake.ID]*counters),
	}
}

func (s *Service) Track(ctx context.Context, companyID snowflake.ID, kind ledgerdomain.MeterKind, amount float64) error {
	_ = ctx

	if _, err := ledgerdomain.ParseMeterKind(string(kind)); err != nil {
		s.metrics.IncUsageRejected("invalid_meter_kind")
		return ledgerdomain.ErrInvalidMeterKind
	}

	if kind.Countable() {
		if amount <= 0 || amount != math.Trunc(amount) {
			s.metrics.IncUsageRejected("non_positive_amount")
			return ledgerdomain.ErrNonPositiveAmount
		}
	} else {
		if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
			s.metrics.IncUsageRejected("non_positive_amount")
			return ledgerdomain.ErrNonPositiveAmount
		}
		if amount == 0 {
			return nil
		}
	}

	c := s.countersFor(companyID)

	c.mu.Lock()
	switch kind {
	case ledgerdomain.MeterQueries:
		c.queries += uint64(amount)
	case ledgerdomain.MeterDocuments:
		c.documents += uint64(amount)
	case ledgerdomain.MeterPhotos:
		c.photos += uint64(amount)
	case ledgerdomain.MeterStorageGB:
		c.storageGB += amount
	}
	c.mu.Unlock()

	s.metrics.IncUsageTracked(string(kind))
	return nil
}

func (s *Service) Summary(companyID snowflake.ID) ledgerdomain.UsageCounters {
	s.mu.RLock()
	c, ok := s.companies[companyID]
	s.mu.RUnlock()
	if !ok {
		return ledgerdomain.UsageCounters{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (s *Service) SwapAndReset(companyID snowflake.ID) (ledgerdomain.UsageCounters, bool) {
	s.mu.RLock()
	c, ok := s.companies[companyID]
	s.mu.RUnlock()
	if !ok {
		return ledgerdomain.UsageCounters{}, false
	}

	c.mu.Lock()
	snapshot := c.snapshotLocked()
	c.queries = 0
	c.documents = 0
	c.photos = 0
	c.storageGB = 0
	c.mu.Unlock()

	return snapshot, true
}

// countersFor returns the live counter set, creating it on first contact.
func (s *Service) countersFor(companyID snowflake.ID) *counters {
	s.mu.RLock()
	c, ok := s.companies[companyID]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.companies[companyID]; ok {
		return c
	}
	c = &counters{}
	s.companies[companyID] = c
	return c
}
