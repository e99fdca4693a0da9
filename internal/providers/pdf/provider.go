// Package pdf renders invoices as PDF documents.
package pdf

import (
	"context"
	"io"

	invoicedomain "github.com/metriqhq/metriq/internal/invoice/domain"
	"go.uber.org/fx"
)

type Provider interface {
	GenerateInvoice(ctx context.Context, invoice invoicedomain.Invoice) (io.Reader, error)
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)
