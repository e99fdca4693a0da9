package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
)

type trackUsageRequest struct {
	CompanyID string   `json:"company_id" binding:"required"`
	MeterKind string   `json:"meter_kind" binding:"required"`
	Amount    *float64 `json:"amount"`
}

type usageSummaryResponse struct {
	CompanyID string                     `json:"company_id"`
	Counters  ledgerdomain.UsageCounters `json:"counters"`
}

func (s *Server) TrackUsage(c *gin.Context) {
	var req trackUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	companyID, err := snowflake.ParseString(strings.TrimSpace(req.CompanyID))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	kind, err := ledgerdomain.ParseMeterKind(strings.TrimSpace(req.MeterKind))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Amount defaults to one event when absent.
	amount := 1.0
	if req.Amount != nil {
		amount = *req.Amount
	}

	ctx := c.Request.Context()
	if _, err := s.cycleSvc.EnsureOpen(ctx, companyID); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.ledgerSvc.Track(ctx, companyID, kind, amount); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, usageSummaryResponse{
		CompanyID: companyID.String(),
		Counters:  s.ledgerSvc.Summary(companyID),
	})
}

func (s *Server) GetUsage(c *gin.Context) {
	companyID, err := snowflake.ParseString(c.Param("company_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	c.JSON(http.StatusOK, usageSummaryResponse{
		CompanyID: companyID.String(),
		Counters:  s.ledgerSvc.Summary(companyID),
	})
}
