package main

import (
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/x402gate/x402gate/internal/clock"
	"github.com/x402gate/x402gate/internal/compliance"
	"github.com/x402gate/x402gate/internal/config"
	"github.com/x402gate/x402gate/internal/distlock"
	"github.com/x402gate/x402gate/internal/endpoint"
	"github.com/x402gate/x402gate/internal/escrow"
	"github.com/x402gate/x402gate/internal/facilitator"
	"github.com/x402gate/x402gate/internal/gateway"
	"github.com/x402gate/x402gate/internal/logger"
	"github.com/x402gate/x402gate/internal/metering"
	"github.com/x402gate/x402gate/internal/migration"
	"github.com/x402gate/x402gate/internal/organization"
	"github.com/x402gate/x402gate/internal/scheduler"
	"github.com/x402gate/x402gate/internal/server"
	"github.com/x402gate/x402gate/internal/webhook"
	"github.com/x402gate/x402gate/pkg/db"
	"go.uber.org/fx"
)

func newSnowflakeNode() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("NODE_ID"); raw != "" {
		if parsed, err := snowflake.ParseString(raw); err == nil {
			nodeID = int64(parsed)
		}
	}
	return snowflake.NewNode(nodeID % 1024)
}

func main() {
	fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		db.Module,
		migration.Module,
		fx.Provide(newSnowflakeNode),

		organization.Module,
		endpoint.Module,
		facilitator.Module,
		compliance.Module,
		metering.Module,
		escrow.Module,
		webhook.Module,
		distlock.Module,
		gateway.Module,
		scheduler.Module,
		server.Module,
	).Run()
}
