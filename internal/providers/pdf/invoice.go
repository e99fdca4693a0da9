package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	invoicedomain "github.com/metriqhq/metriq/internal/invoice/domain"
	"github.com/metriqhq/metriq/internal/invoice/format"
)

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateInvoice(ctx context.Context, invoice invoicedomain.Invoice) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(10,
		text.NewCol(12, "Invoice", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+invoice.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date of issue: "+invoice.IssuedAt.Format("2006-01-02"), props.Text{Top: 4}),
			text.New("Company: "+invoice.CompanyID.String(), props.Text{Top: 8}),
			text.New("Billing cycle: "+invoice.CycleID.String(), props.Text{Top: 12}),
		),
		col.New(6),
	)

	m.AddRow(15,
		text.NewCol(12, fmt.Sprintf("%s %s due", format.Cents(invoice.TotalCents), invoice.Currency), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	// Table Header
	m.AddRow(10,
		text.NewCol(4, "Meter", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Used", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Included", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Overage", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range invoice.Lines {
		m.AddRow(12,
			text.NewCol(4, string(line.MeterKind), props.Text{Size: 9}),
			text.NewCol(2, formatQuantity(line.Used), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, formatQuantity(line.Included), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, formatQuantity(line.Overage), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, format.Cents(line.AmountCents), props.Text{Size: 9, Align: align.Right}),
		)
	}

	// Footer Totals
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Base fee", props.Text{Size: 9}),
		text.NewCol(2, format.Cents(invoice.FlatFeeCents), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Usage", props.Text{Size: 9}),
		text.NewCol(2, format.Cents(invoice.UsageCents), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, format.Cents(invoice.SubtotalCents), props.Text{Size: 9, Align: align.Right}),
	)
	if invoice.DiscountCents > 0 {
		m.AddRow(10,
			col.New(8),
			text.NewCol(2, "Discount", props.Text{Size: 9}),
			text.NewCol(2, "-"+format.Cents(invoice.DiscountCents), props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Amount due", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, format.Cents(invoice.TotalCents), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func formatQuantity(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
