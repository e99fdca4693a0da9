package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Generate prices the snapshot of a closed cycle and persists the
	// invoice. Generating twice for the same cycle returns the stored
	// invoice unchanged.
	Generate(ctx context.Context, companyID, cycleID snowflake.ID) (Invoice, error)

	// GetByID loads an invoice with its breakdown lines.
	GetByID(ctx context.Context, id snowflake.ID) (Invoice, error)
}

var (
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrInvoiceNumberConflict = errors.New("invoice_number_conflict")
)
