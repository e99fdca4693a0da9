// Package server exposes the billing engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/metriqhq/metriq/internal/config"
	"github.com/metriqhq/metriq/internal/cycle"
	cycledomain "github.com/metriqhq/metriq/internal/cycle/domain"
	"github.com/metriqhq/metriq/internal/invoice"
	invoicedomain "github.com/metriqhq/metriq/internal/invoice/domain"
	"github.com/metriqhq/metriq/internal/ledger"
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	obsmetrics "github.com/metriqhq/metriq/internal/observability/metrics"
	obstracing "github.com/metriqhq/metriq/internal/observability/tracing"
	"github.com/metriqhq/metriq/internal/providers/pdf"
	"github.com/metriqhq/metriq/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	obsmetrics.Module,
	obstracing.Module,
	fx.Provide(registerGin),
	ledger.Module,
	cycle.Module,
	invoice.Module,
	pdf.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return r
}

func registerGin(reg *prometheus.Registry) *gin.Engine {
	return NewEngine(reg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine

	genID      *snowflake.Node
	ledgerSvc  ledgerdomain.Service
	cycleSvc   cycledomain.Service
	invoiceSvc invoicedomain.Service
	pricing    *config.PricingHolder
	pdf        pdf.Provider
}

type ServerParam struct {
	fx.In

	Engine     *gin.Engine
	GenID      *snowflake.Node
	LedgerSvc  ledgerdomain.Service
	CycleSvc   cycledomain.Service
	InvoiceSvc invoicedomain.Service
	Pricing    *config.PricingHolder
	PDF        pdf.Provider
}

func NewServer(p ServerParam) *Server {
	s := &Server{
		engine:     p.Engine,
		genID:      p.GenID,
		ledgerSvc:  p.LedgerSvc,
		cycleSvc:   p.CycleSvc,
		invoiceSvc: p.InvoiceSvc,
		pricing:    p.Pricing,
		pdf:        p.PDF,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/usage", s.TrackUsage)
	v1.GET("/companies/:company_id/usage", s.GetUsage)
	v1.POST("/companies/:company_id/cycles/close", s.CloseCycle)
	v1.POST("/companies/:company_id/invoices", s.GenerateInvoice)
	v1.GET("/invoices/:id", s.GetInvoice)
	v1.GET("/invoices/:id/pdf", s.GetInvoicePDF)
	v1.GET("/margins", s.GetMargins)
}
