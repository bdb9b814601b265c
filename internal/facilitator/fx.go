package facilitator

import (
	"github.com/x402gate/x402gate/internal/clock"
	"github.com/x402gate/x402gate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Param struct {
	fx.In

	Cfg   config.Config
	Clock clock.Clock
	Log   *zap.Logger
}

// New selects the facilitator variant from configuration and wraps it with
// quote-token enforcement.
func New(p Param, signer *QuoteSigner) Facilitator {
	var inner Facilitator
	switch p.Cfg.Facilitator.Kind {
	case config.FacilitatorRemote:
		inner = NewRemote(p.Cfg.Facilitator, p.Log)
	case config.FacilitatorCDP:
		inner = NewCDP(p.Cfg.Facilitator, p.Log)
	default:
		inner = NewSimulated(p.Clock, p.Log)
	}
	return NewValidating(inner, signer)
}

func NewSignerFromConfig(p Param) *QuoteSigner {
	return NewQuoteSigner(p.Cfg.Facilitator.QuoteSigningSecret, p.Cfg.Facilitator.QuoteTTL, p.Clock)
}

var Module = fx.Module("facilitator",
	fx.Provide(New),
	fx.Provide(NewSignerFromConfig),
)
