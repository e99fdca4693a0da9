package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/metriqhq/metriq/internal/invoice/domain"
	"github.com/metriqhq/metriq/internal/invoice/format"
)

type generateInvoiceRequest struct {
	CycleID string `json:"cycle_id" binding:"required"`
}

type invoiceLineResponse struct {
	MeterKind   string  `json:"meter_kind"`
	Used        float64 `json:"used"`
	Included    float64 `json:"included"`
	Overage     float64 `json:"overage"`
	RateCents   int64   `json:"rate_cents"`
	AmountCents int64   `json:"amount_cents"`
}

type invoiceResponse struct {
	ID            string                `json:"id"`
	CompanyID     string                `json:"company_id"`
	CycleID       string                `json:"cycle_id"`
	InvoiceNumber string                `json:"invoice_number"`
	Status        string                `json:"status"`
	Currency      string                `json:"currency"`
	FlatFeeCents  int64                 `json:"flat_fee_cents"`
	UsageCents    int64                 `json:"usage_cents"`
	SubtotalCents int64                 `json:"subtotal_cents"`
	DiscountCents int64                 `json:"discount_cents"`
	TotalCents    int64                 `json:"total_cents"`
	IssuedAt      string                `json:"issued_at"`
	Lines         []invoiceLineResponse `json:"lines"`

	DisplayCurrency   string `json:"display_currency"`
	DisplayTotalCents int64  `json:"display_total_cents"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	companyID, err := snowflake.ParseString(c.Param("company_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	cycleID, err := snowflake.ParseString(strings.TrimSpace(req.CycleID))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoice, err := s.invoiceSvc.Generate(c.Request.Context(), companyID, cycleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.invoiceResponse(invoice))
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoice, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.invoiceResponse(invoice))
}

func (s *Server) GetInvoicePDF(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoice, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	reader, err := s.pdf.GenerateInvoice(c.Request.Context(), invoice)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	doc, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+invoice.InvoiceNumber+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", doc)
}

// invoiceResponse converts stored amounts to the wire shape. Display
// conversion happens here and only here; stored cents stay USD.
func (s *Server) invoiceResponse(invoice invoicedomain.Invoice) invoiceResponse {
	cfg := s.pricing.Current()

	lines := make([]invoiceLineResponse, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		lines = append(lines, invoiceLineResponse{
			MeterKind:   string(line.MeterKind),
			Used:        line.Used,
			Included:    line.Included,
			Overage:     line.Overage,
			RateCents:   line.RateCents,
			AmountCents: line.AmountCents,
		})
	}

	return invoiceResponse{
		ID:            invoice.ID.String(),
		CompanyID:     invoice.CompanyID.String(),
		CycleID:       invoice.CycleID.String(),
		InvoiceNumber: invoice.InvoiceNumber,
		Status:        string(invoice.Status),
		Currency:      invoice.Currency,
		FlatFeeCents:  invoice.FlatFeeCents,
		UsageCents:    invoice.UsageCents,
		SubtotalCents: invoice.SubtotalCents,
		DiscountCents: invoice.DiscountCents,
		TotalCents:    invoice.TotalCents,
		IssuedAt:      invoice.IssuedAt.Format("2006-01-02T15:04:05Z07:00"),
		Lines:         lines,

		DisplayCurrency:   cfg.DisplayCurrency,
		DisplayTotalCents: format.DisplayCents(invoice.TotalCents, cfg.DisplayRate),
	}
}
