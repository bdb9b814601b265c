package organization

import (
	"github.com/x402gate/x402gate/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(service.NewService),
)
