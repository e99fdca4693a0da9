package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/metriqhq/metriq/internal/clock"
	"github.com/metriqhq/metriq/internal/config"
	"github.com/metriqhq/metriq/internal/logger"
	"github.com/metriqhq/metriq/internal/migration"
	"github.com/metriqhq/metriq/internal/server"
	"github.com/metriqhq/metriq/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus the domain modules it serves
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
