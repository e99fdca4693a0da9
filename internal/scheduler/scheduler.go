// Package scheduler closes billing cycles that have run their full
// length and generates the invoice for each closed cycle.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/metriqhq/metriq/internal/clock"
	cycledomain "github.com/metriqhq/metriq/internal/cycle/domain"
	invoicedomain "github.com/metriqhq/metriq/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	CycleSvc   cycledomain.Service
	InvoiceSvc invoicedomain.Service
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	cycleSvc   cycledomain.Service
	invoiceSvc invoicedomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.CycleSvc == nil || p.InvoiceSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		cycleSvc:   p.CycleSvc,
		invoiceSvc: p.InvoiceSvc,
	}, nil
}

// RunOnce closes every open cycle whose period has elapsed, oldest
// first, and invoices each closed cycle. Per-company failures are
// joined, never fatal to the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.CycleLength)
	due, err := s.cycleSvc.ListOpenStartedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(due) > s.cfg.MaxCloseBatchSize {
		due = due[:s.cfg.MaxCloseBatchSize]
	}

	var errs error
	for _, cycle := range due {
		snapshot, err := s.cycleSvc.Close(ctx, cycle.CompanyID)
		if err != nil {
			// Another closer got there first; the cycle is no longer due.
			if errors.Is(err, cycledomain.ErrConcurrentCloseConflict) ||
				errors.Is(err, cycledomain.ErrNoOpenCycle) {
				continue
			}
			errs = errors.Join(errs, err)
			continue
		}

		if _, err := s.invoiceSvc.Generate(ctx, cycle.CompanyID, snapshot.CycleID); err != nil {
			errs = errors.Join(errs, err)
			continue
		}

		s.log.Info("cycle closed and invoiced",
			zap.String("company_id", cycle.CompanyID.String()),
			zap.String("cycle_id", snapshot.CycleID.String()),
		)
	}
	return errs
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
