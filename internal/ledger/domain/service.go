package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service is the usage ledger: the only writer of open-cycle counters.
type Service interface {
	// Track increments one counter in the company's current open cycle.
	// Countable meters require a positive integral amount; storage accepts
	// any positive magnitude and treats zero as a no-op.
	Track(ctx context.Context, companyID snowflake.ID, kind MeterKind, amount float64) error

	// Summary returns a consistent copy of the open-cycle counters.
	Summary(companyID snowflake.ID) UsageCounters

	// SwapAndReset atomically replaces the company's counters with a zeroed
	// set and returns the displaced values. Concurrent Track calls land on
	// exactly one side of the swap. The second return is false when the
	// company has never been tracked.
	SwapAndReset(companyID snowflake.ID) (UsageCounters, bool)
}
