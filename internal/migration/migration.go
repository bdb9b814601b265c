// Package migration applies the schema on startup.
package migration

import (
	compliancedomain "github.com/x402gate/x402gate/internal/compliance/domain"
	endpointdomain "github.com/x402gate/x402gate/internal/endpoint/domain"
	escrowdomain "github.com/x402gate/x402gate/internal/escrow/domain"
	meteringdomain "github.com/x402gate/x402gate/internal/metering/domain"
	orgdomain "github.com/x402gate/x402gate/internal/organization/domain"
	webhookdomain "github.com/x402gate/x402gate/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models returns every persisted model in dependency order.
func Models() []any {
	return []any{
		&orgdomain.Settings{},
		&endpointdomain.Endpoint{},
		&endpointdomain.PriceQuote{},
		&compliancedomain.Rule{},
		&meteringdomain.UsageRecord{},
		&meteringdomain.FreeTierUsage{},
		&escrowdomain.Holding{},
		&webhookdomain.Endpoint{},
	}
}

func AutoMigrate(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	log.Info("schema migrated")
	return nil
}

var Module = fx.Module("migration",
	fx.Invoke(AutoMigrate),
)
