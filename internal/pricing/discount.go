package pricing

// DiscountKind tags the discount strategy applied to an invoice total.
type DiscountKind string

const (
	DiscountNone       DiscountKind = "none"
	DiscountPercentage DiscountKind = "percentage_off"
	DiscountFixed      DiscountKind = "fixed_off"
)

// DiscountPolicy is a pure strategy from pre-discount total to a discount
// amount. It replaces ad hoc boolean customer flags.
type DiscountPolicy struct {
	Kind        DiscountKind `json:"kind"`
	Percent     float64      `json:"percent,omitempty"`
	AmountCents int64        `json:"amount_cents,omitempty"`
}

func NoDiscount() DiscountPolicy {
	return DiscountPolicy{Kind: DiscountNone}
}

func PercentageOff(pct float64) DiscountPolicy {
	return DiscountPolicy{Kind: DiscountPercentage, Percent: pct}
}

func FixedOff(cents int64) DiscountPolicy {
	return DiscountPolicy{Kind: DiscountFixed, AmountCents: cents}
}

// Apply returns a discount in [0, preDiscountCents].
func (p DiscountPolicy) Apply(preDiscountCents int64) int64 {
	if preDiscountCents <= 0 {
		return 0
	}

	var discount int64
	switch p.Kind {
	case DiscountPercentage:
		if p.Percent <= 0 {
			return 0
		}
		discount = RoundCents(float64(preDiscountCents) * p.Percent)
	case DiscountFixed:
		discount = p.AmountCents
	default:
		return 0
	}

	if discount < 0 {
		return 0
	}
	if discount > preDiscountCents {
		return preDiscountCents
	}
	return discount
}
