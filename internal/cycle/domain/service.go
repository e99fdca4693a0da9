package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// EnsureOpen moves a company from UNINITIALIZED to OPEN on first
	// contact, or returns the current open cycle. Cached after the first
	// call, so the tracking hot path stays off the database.
	EnsureOpen(ctx context.Context, companyID snowflake.ID) (Cycle, error)

	// Close swaps the company's live counters for a zeroed set, persists
	// the displaced values as a snapshot stamped with the closed cycle,
	// and opens the successor cycle with started_at = closed_at.
	Close(ctx context.Context, companyID snowflake.ID) (UsageSnapshot, error)

	// GetSnapshot loads the snapshot of a closed cycle.
	GetSnapshot(ctx context.Context, companyID, cycleID snowflake.ID) (UsageSnapshot, error)

	// ListOpenStartedBefore returns open cycles whose period began at or
	// before the cutoff. Used by the close scheduler.
	ListOpenStartedBefore(ctx context.Context, cutoff time.Time) ([]Cycle, error)
}

var (
	ErrNoOpenCycle             = errors.New("no_open_cycle")
	ErrConcurrentCloseConflict = errors.New("concurrent_close_conflict")
	ErrSnapshotNotFound        = errors.New("snapshot_not_found")
)
