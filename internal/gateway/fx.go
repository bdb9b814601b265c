package gateway

import (
	"github.com/x402gate/x402gate/internal/config"
	"github.com/x402gate/x402gate/internal/gateway/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewForwarder(cfg config.Config, log *zap.Logger) *service.Forwarder {
	return service.NewForwarder(cfg.Gateway, log)
}

var Module = fx.Module("gateway.service",
	fx.Provide(NewForwarder),
	fx.Provide(service.NewService),
)
