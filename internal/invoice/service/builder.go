package service

import (
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	"github.com/metriqhq/metriq/internal/pricing"
)

// pricedLine is the pure pricing result for one meter, before any
// identifiers are attached.
type pricedLine struct {
	kind        ledgerdomain.MeterKind
	used        float64
	included    float64
	overage     float64
	rateCents   int64
	amountCents int64
}

// priceUsage walks the meter kinds in their fixed order and prices each
// against the plan. Pure: same snapshot and plan, same lines.
func priceUsage(plan pricing.Plan, counters ledgerdomain.UsageCounters) ([]pricedLine, int64, error) {
	lines := make([]pricedLine, 0, len(ledgerdomain.MeterKinds()))
	var usageCents int64
	for _, kind := range ledgerdomain.MeterKinds() {
		rate, err := plan.Rate(kind)
		if err != nil {
			return nil, 0, err
		}
		used := counters.Value(kind)
		overage := pricing.Overage(used, rate.Included)
		amount := pricing.LineCharge(overage, rate.OverageRateCents)
		lines = append(lines, pricedLine{
			kind:        kind,
			used:        used,
			included:    rate.Included,
			overage:     overage,
			rateCents:   rate.OverageRateCents,
			amountCents: amount,
		})
		usageCents += amount
	}
	return lines, usageCents, nil
}
