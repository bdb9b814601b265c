package escrow

import (
	"github.com/x402gate/x402gate/internal/escrow/service"
	"go.uber.org/fx"
)

var Module = fx.Module("escrow.service",
	fx.Provide(service.NewService),
)
