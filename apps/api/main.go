package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callsight/internal/analysis"
	"github.com/smallbiznis/callsight/internal/audit"
	"github.com/smallbiznis/callsight/internal/auth"
	"github.com/smallbiznis/callsight/internal/authorization"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	"github.com/smallbiznis/callsight/internal/invitation"
	"github.com/smallbiznis/callsight/internal/invoice"
	"github.com/smallbiznis/callsight/internal/ledger"
	"github.com/smallbiznis/callsight/internal/migration"
	"github.com/smallbiznis/callsight/internal/observability"
	"github.com/smallbiznis/callsight/internal/organization"
	"github.com/smallbiznis/callsight/internal/payment"
	"github.com/smallbiznis/callsight/internal/providers"
	"github.com/smallbiznis/callsight/internal/quota"
	"github.com/smallbiznis/callsight/internal/ratelimit"
	"github.com/smallbiznis/callsight/internal/scheduler"
	"github.com/smallbiznis/callsight/internal/server"
	"github.com/smallbiznis/callsight/internal/usage"
	"github.com/smallbiznis/callsight/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		audit.Module,
		authorization.Module,
		auth.Module,
		organization.Module,
		ledger.Module,
		quota.Module,
		usage.Module,
		invoice.Module,
		providers.Module,
		payment.Module,
		invitation.Module,
		ratelimit.Module,
		analysis.Module,
		scheduler.Module,

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
