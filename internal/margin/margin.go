// Package margin checks overage rates against the assumed unit cost
// model. A rate change that drops any meter below the configured
// threshold should be caught here before it ships.
package margin

import (
	"fmt"

	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	"github.com/metriqhq/metriq/internal/pricing"
)

// Report is the margin verdict for one meter kind.
type Report struct {
	MeterKind      ledgerdomain.MeterKind `json:"meter_kind"`
	CostCents      float64                `json:"cost_cents"`
	PriceCents     int64                  `json:"price_cents"`
	MarginPct      float64                `json:"margin_pct"`
	ThresholdPct   float64                `json:"threshold_pct"`
	MeetsThreshold bool                   `json:"meets_threshold"`
}

// Verify computes the gross margin of every meter's overage rate against
// the cost model, in the fixed meter order. A meter with a zero or
// missing rate fails by definition: it cannot cover any cost.
func Verify(cfg pricing.Config) ([]Report, error) {
	plan := cfg.Plan()
	reports := make([]Report, 0, len(ledgerdomain.MeterKinds()))
	for _, kind := range ledgerdomain.MeterKinds() {
		rate, err := plan.Rate(kind)
		if err != nil {
			return nil, fmt.Errorf("margin: %w for %q", err, kind)
		}
		cost, ok := cfg.CostModel[string(kind)]
		if !ok {
			return nil, fmt.Errorf("margin: cost model missing %q", kind)
		}

		report := Report{
			MeterKind:    kind,
			CostCents:    cost,
			PriceCents:   rate.OverageRateCents,
			ThresholdPct: cfg.MarginThreshold,
		}
		if rate.OverageRateCents > 0 {
			price := float64(rate.OverageRateCents)
			report.MarginPct = (price - cost) / price
			report.MeetsThreshold = report.MarginPct >= cfg.MarginThreshold
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// AllMeetThreshold reports whether every meter clears the threshold.
func AllMeetThreshold(reports []Report) bool {
	for _, r := range reports {
		if !r.MeetsThreshold {
			return false
		}
	}
	return true
}
