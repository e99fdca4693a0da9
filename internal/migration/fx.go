package migration

import (
	"github.com/metriqhq/metriq/internal/config"
	cycledomain "github.com/metriqhq/metriq/internal/cycle/domain"
	invoicedomain "github.com/metriqhq/metriq/internal/invoice/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// Versioned SQL migrations run on postgres. Other dialects
		// (sqlite for local runs, mysql) take the schema from the models.
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		return conn.AutoMigrate(
			&cycledomain.Cycle{},
			&cycledomain.UsageSnapshot{},
			&invoicedomain.Invoice{},
			&invoicedomain.InvoiceLine{},
		)
	}),
)
