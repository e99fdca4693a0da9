// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusIssued InvoiceStatus = "ISSUED"
	InvoiceStatusPaid   InvoiceStatus = "PAID"
	InvoiceStatusVoid   InvoiceStatus = "VOID"
)

// Invoice is the priced result of one closed billing cycle. All amounts
// are minor units of Currency. The unique index on CycleID makes
// generation idempotent (one cycle, one invoice); the one on
// InvoiceNumber keeps numbers collision-free under concurrent issue.
type Invoice struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	CompanyID     snowflake.ID      `gorm:"not null;index"`
	CycleID       snowflake.ID      `gorm:"not null;uniqueIndex:ux_invoice_cycle"`
	InvoiceNumber string            `gorm:"type:text;not null;uniqueIndex:ux_invoice_number"`
	Status        InvoiceStatus     `gorm:"type:text;not null;default:'ISSUED'"`
	Currency      string            `gorm:"type:text;not null"`
	FlatFeeCents  int64             `gorm:"not null"`
	UsageCents    int64             `gorm:"not null"`
	SubtotalCents int64             `gorm:"not null"`
	DiscountCents int64             `gorm:"not null"`
	TotalCents    int64             `gorm:"not null"`
	IssuedAt      time.Time         `gorm:"not null"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Lines []InvoiceLine `gorm:"-"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is one meter breakdown row. Position preserves the fixed
// meter order so rendered invoices are stable across runs.
type InvoiceLine struct {
	ID          snowflake.ID           `gorm:"primaryKey"`
	InvoiceID   snowflake.ID           `gorm:"not null;index"`
	Position    int                    `gorm:"not null"`
	MeterKind   ledgerdomain.MeterKind `gorm:"type:text;not null"`
	Used        float64                `gorm:"not null"`
	Included    float64                `gorm:"not null"`
	Overage     float64                `gorm:"not null"`
	RateCents   int64                  `gorm:"not null"`
	AmountCents int64                  `gorm:"not null"`
	CreatedAt   time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }
