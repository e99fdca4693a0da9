// Package domain contains persistence models for billing cycles.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	"gorm.io/datatypes"
)

// CycleStatus represents the lifecycle of a billing cycle.
type CycleStatus string

const (
	CycleStatusOpen   CycleStatus = "OPEN"
	CycleStatusClosed CycleStatus = "CLOSED"
)

// Cycle represents one billing period for a company. Exactly one OPEN
// cycle exists per company; a CLOSED cycle is terminal.
type Cycle struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	CompanyID snowflake.ID      `gorm:"not null;index"`
	StartedAt time.Time         `gorm:"not null"`
	ClosedAt  *time.Time        `gorm:""`
	Status    CycleStatus       `gorm:"type:text;not null;default:'OPEN'"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Cycle) TableName() string { return "billing_cycles" }

// UsageSnapshot is the immutable counter copy taken at cycle close. It is
// the only form in which historical usage reaches the invoice builder.
type UsageSnapshot struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	CycleID   snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_snapshot_cycle"`
	CompanyID snowflake.ID `gorm:"not null;index"`
	Queries   uint64       `gorm:"not null"`
	Documents uint64       `gorm:"not null"`
	Photos    uint64       `gorm:"not null"`
	StorageGB float64      `gorm:"not null"`
	ClosedAt  time.Time    `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageSnapshot) TableName() string { return "usage_snapshots" }

// Counters returns the snapshot as ledger counters.
func (s UsageSnapshot) Counters() ledgerdomain.UsageCounters {
	return ledgerdomain.UsageCounters{
		Queries:   s.Queries,
		Documents: s.Documents,
		Photos:    s.Photos,
		StorageGB: s.StorageGB,
	}
}
