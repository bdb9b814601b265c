package metering

import (
	"github.com/x402gate/x402gate/internal/metering/service"
	"go.uber.org/fx"
)

var Module = fx.Module("metering.service",
	fx.Provide(service.NewService),
)
