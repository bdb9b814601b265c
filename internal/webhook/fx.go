package webhook

import (
	"context"

	domain "github.com/x402gate/x402gate/internal/webhook/domain"
	"github.com/x402gate/x402gate/internal/webhook/service"
	"go.uber.org/fx"
)

func NewService(lc fx.Lifecycle, p service.ServiceParam) domain.Service {
	svc := service.New(p)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			svc.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			svc.Stop()
			return nil
		},
	})
	return svc
}

var Module = fx.Module("webhook.service",
	fx.Provide(NewService),
)
