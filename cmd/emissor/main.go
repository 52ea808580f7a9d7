package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/emissor/internal/apikey"
	"github.com/smallbiznis/emissor/internal/clock"
	"github.com/smallbiznis/emissor/internal/config"
	"github.com/smallbiznis/emissor/internal/document"
	"github.com/smallbiznis/emissor/internal/emission"
	"github.com/smallbiznis/emissor/internal/fiscalconfig"
	"github.com/smallbiznis/emissor/internal/fiscalevent"
	"github.com/smallbiznis/emissor/internal/migration"
	"github.com/smallbiznis/emissor/internal/observability"
	"github.com/smallbiznis/emissor/internal/ratelimit"
	"github.com/smallbiznis/emissor/internal/server"
	"github.com/smallbiznis/emissor/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		apikey.Module,
		document.Module,
		fiscalconfig.Module,
		fiscalevent.Module,
		emission.Module,
		ratelimit.Module,

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
