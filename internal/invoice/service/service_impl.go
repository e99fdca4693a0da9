package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/metriqhq/metriq/internal/clock"
	"github.com/metriqhq/metriq/internal/config"
	cycledomain "github.com/metriqhq/metriq/internal/cycle/domain"
	invoicedomain "github.com/metriqhq/metriq/internal/invoice/domain"
	"github.com/metriqhq/metriq/internal/invoice/format"
	obsmetrics "github.com/metriqhq/metriq/internal/observability/metrics"
	"github.com/metriqhq/metriq/pkg/db"
	"github.com/metriqhq/metriq/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxNumberAttempts bounds how many sequence bumps one Generate call
// spends resolving invoice number collisions.
const maxNumberAttempts = 5

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cycles  cycledomain.Service
	Pricing *config.PricingHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	cycles  cycledomain.Service
	pricing *config.PricingHolder
	metrics *obsmetrics.Metrics

	invoicerepo repository.Repository[invoicedomain.Invoice]
	linerepo    repository.Repository[invoicedomain.InvoiceLine]
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		cycles:  p.Cycles,
		pricing: p.Pricing,
		metrics: p.Metrics,

		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		linerepo:    repository.ProvideStore[invoicedomain.InvoiceLine](p.DB),
	}
}

func (s *Service) Generate(ctx context.Context, companyID, cycleID snowflake.ID) (invoicedomain.Invoice, error) {
	snapshot, err := s.cycles.GetSnapshot(ctx, companyID, cycleID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	cfg := s.pricing.Current()
	plan := cfg.Plan()

	priced, usageCents, err := priceUsage(plan, snapshot.Counters())
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	subtotal := plan.FlatFeeCents + usageCents
	discountCents := cfg.FoundingDiscount().Apply(subtotal)
	total := subtotal - discountCents

	now := s.clock.Now()
	seq, err := s.nextSequence(ctx, now)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	invoice := invoicedomain.Invoice{
		ID:            s.genID.Generate(),
		CompanyID:     companyID,
		CycleID:       cycleID,
		Status:        invoicedomain.InvoiceStatusIssued,
		Currency:      plan.Currency,
		FlatFeeCents:  plan.FlatFeeCents,
		UsageCents:    usageCents,
		SubtotalCents: subtotal,
		DiscountCents: discountCents,
		TotalCents:    total,
		IssuedAt:      now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	lines := make([]invoicedomain.InvoiceLine, 0, len(priced))
	for i, line := range priced {
		lines = append(lines, invoicedomain.InvoiceLine{
			ID:          s.genID.Generate(),
			InvoiceID:   invoice.ID,
			Position:    i,
			MeterKind:   line.kind,
			Used:        line.used,
			Included:    line.included,
			Overage:     line.overage,
			RateCents:   line.rateCents,
			AmountCents: line.amountCents,
			CreatedAt:   now,
		})
	}

	// Concurrent generators can race the daily sequence count. The unique
	// index on invoice_number catches the loser, which takes the next
	// sequence and tries again.
	for attempt := int64(0); attempt < maxNumberAttempts; attempt++ {
		invoice.InvoiceNumber, err = format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, now, seq+attempt)
		if err != nil {
			return invoicedomain.Invoice{}, err
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.invoicerepo.WithTrx(tx).Create(ctx, &invoice); err != nil {
				return err
			}
			for i := range lines {
				if err := s.linerepo.WithTrx(tx).Create(ctx, &lines[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			invoice.Lines = lines

			s.metrics.IncInvoiceGenerated()
			s.log.Info("invoice generated",
				zap.String("company_id", companyID.String()),
				zap.String("cycle_id", cycleID.String()),
				zap.String("invoice_number", invoice.InvoiceNumber),
				zap.Int64("total_cents", invoice.TotalCents),
			)
			return invoice, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return invoicedomain.Invoice{}, err
		}

		// A second Generate for the same cycle trips ux_invoice_cycle.
		// Idempotent by contract: hand back the stored invoice.
		existing, getErr := s.getByCycle(ctx, cycleID)
		if getErr == nil {
			return existing, nil
		}
		if !errors.Is(getErr, invoicedomain.ErrInvoiceNotFound) {
			return invoicedomain.Invoice{}, getErr
		}
		// No invoice for this cycle, so the collision was on the number.
	}

	s.log.Warn("invoice number sequence exhausted",
		zap.String("company_id", companyID.String()),
		zap.String("cycle_id", cycleID.String()),
	)
	return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNumberConflict
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	found, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: id})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if found == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return s.attachLines(ctx, *found)
}

func (s *Service) getByCycle(ctx context.Context, cycleID snowflake.ID) (invoicedomain.Invoice, error) {
	found, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{CycleID: cycleID})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if found == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return s.attachLines(ctx, *found)
}

func (s *Service) attachLines(ctx context.Context, invoice invoicedomain.Invoice) (invoicedomain.Invoice, error) {
	var lines []invoicedomain.InvoiceLine
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("position").
		Find(&lines).Error
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoice.Lines = lines
	return invoice, nil
}

// nextSequence numbers invoices within the issue day, starting at 1.
func (s *Service) nextSequence(ctx context.Context, issuedAt time.Time) (int64, error) {
	dayStart := time.Date(issuedAt.Year(), issuedAt.Month(), issuedAt.Day(), 0, 0, 0, 0, time.UTC)
	var count int64
	err := s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("issued_at >= ? AND issued_at < ?", dayStart, dayStart.Add(24*time.Hour)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}
