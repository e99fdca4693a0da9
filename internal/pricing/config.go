package pricing

import (
	"errors"
	"fmt"

	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
)

// Config is the full pricing configuration: the live plan, the assumed
// per-unit cost model, and the discount/margin knobs. Loaded from
// pricing.yml and hot-reloaded by the config holder.
type Config struct {
	Currency            string               `mapstructure:"currency"`
	FlatFeeCents        int64                `mapstructure:"flat_fee_cents"`
	Meters              map[string]MeterRate `mapstructure:"meters"`
	FoundingDiscountPct float64              `mapstructure:"founding_discount_pct"`
	MarginThreshold     float64              `mapstructure:"margin_threshold"`
	DisplayRate         float64              `mapstructure:"display_rate"`
	DisplayCurrency     string               `mapstructure:"display_currency"`
	CostModel           map[string]float64   `mapstructure:"cost_model"`
}

// DefaultConfig is the shipped pricing table. Every overage rate clears the
// 0.80 margin threshold against the shipped cost model; the margin
// regression test pins this.
func DefaultConfig() Config {
	return Config{
		Currency:     "USD",
		FlatFeeCents: 4900,
		Meters: map[string]MeterRate{
			string(ledgerdomain.MeterQueries):   {Included: 500, OverageRateCents: 5},
			string(ledgerdomain.MeterDocuments): {Included: 20, OverageRateCents: 25},
			string(ledgerdomain.MeterPhotos):    {Included: 100, OverageRateCents: 10},
			string(ledgerdomain.MeterStorageGB): {Included: 10, OverageRateCents: 50},
		},
		FoundingDiscountPct: 0.15,
		MarginThreshold:     0.80,
		DisplayRate:         1.0,
		DisplayCurrency:     "USD",
		CostModel: map[string]float64{
			string(ledgerdomain.MeterQueries):   0.4,
			string(ledgerdomain.MeterDocuments): 3,
			string(ledgerdomain.MeterPhotos):    1.5,
			string(ledgerdomain.MeterStorageGB): 8,
		},
	}
}

// Plan builds the immutable plan view consumed by the invoice builder.
func (c Config) Plan() Plan {
	meters := make(map[ledgerdomain.MeterKind]MeterRate, len(c.Meters))
	for key, rate := range c.Meters {
		meters[ledgerdomain.MeterKind(key)] = rate
	}
	return Plan{
		Currency:     c.Currency,
		FlatFeeCents: c.FlatFeeCents,
		Meters:       meters,
	}
}

// FoundingDiscount is the policy applied to founding-tier companies.
func (c Config) FoundingDiscount() DiscountPolicy {
	if c.FoundingDiscountPct <= 0 {
		return NoDiscount()
	}
	return PercentageOff(c.FoundingDiscountPct)
}

// Validate rejects configs that would misprice or skip a meter kind.
func (c Config) Validate() error {
	if c.FlatFeeCents < 0 {
		return errors.New("pricing.flat_fee_cents must be non-negative")
	}
	for _, kind := range ledgerdomain.MeterKinds() {
		rate, ok := c.Meters[string(kind)]
		if !ok {
			return fmt.Errorf("pricing.meters missing %q", kind)
		}
		if rate.Included < 0 || rate.OverageRateCents < 0 {
			return fmt.Errorf("pricing.meters[%q] has negative values", kind)
		}
	}
	if c.FoundingDiscountPct < 0 || c.FoundingDiscountPct >= 1 {
		return errors.New("pricing.founding_discount_pct must be in [0, 1)")
	}
	if c.MarginThreshold <= 0 || c.MarginThreshold >= 1 {
		return errors.New("pricing.margin_threshold must be in (0, 1)")
	}
	if c.DisplayRate <= 0 {
		return errors.New("pricing.display_rate must be positive")
	}
	return nil
}
