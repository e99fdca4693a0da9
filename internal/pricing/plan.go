// Package pricing holds the plan table, overage math and discount policies.
// All stored money is int64 minor units (USD cents); binary floats only
// carry quantities, never persisted totals.
package pricing

import (
	"errors"
	"math"

	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
)

// MeterRate is the plan entry for one meter kind.
type MeterRate struct {
	Included         float64 `mapstructure:"included" json:"included"`
	OverageRateCents int64   `mapstructure:"overage_rate_cents" json:"overage_rate_cents"`
}

// Plan is an immutable flat-fee plan with per-meter overage rates.
type Plan struct {
	Currency     string
	FlatFeeCents int64
	Meters       map[ledgerdomain.MeterKind]MeterRate
}

var ErrUnknownMeterRate = errors.New("unknown_meter_rate")

// Rate returns the included quantity and overage rate for a meter kind.
func (p Plan) Rate(kind ledgerdomain.MeterKind) (MeterRate, error) {
	rate, ok := p.Meters[kind]
	if !ok {
		return MeterRate{}, ErrUnknownMeterRate
	}
	return rate, nil
}

// Overage is usage beyond the included quantity, floored at zero.
func Overage(used, included float64) float64 {
	return math.Max(0, used-included)
}

// LineCharge prices one meter line. Rounding happens exactly once here,
// half-to-even, so charges never accumulate rounding drift across lines.
func LineCharge(overage float64, rateCents int64) int64 {
	return RoundCents(overage * float64(rateCents))
}

// RoundCents rounds a raw cent value half-to-even.
func RoundCents(raw float64) int64 {
	return int64(math.RoundToEven(raw))
}
