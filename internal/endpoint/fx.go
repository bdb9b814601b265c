package endpoint

import (
	"github.com/x402gate/x402gate/internal/endpoint/service"
	"go.uber.org/fx"
)

var Module = fx.Module("endpoint.service",
	fx.Provide(service.NewService),
)
