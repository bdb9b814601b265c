package compliance

import (
	domain "github.com/x402gate/x402gate/internal/compliance/domain"
	"github.com/x402gate/x402gate/internal/compliance/geo"
	"github.com/x402gate/x402gate/internal/compliance/service"
	"github.com/x402gate/x402gate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewGeoResolver opens the configured mmdb database, falling back to an empty
// static resolver when none is configured. Geo rules then never match, which
// matches the fail-open posture of the gate.
func NewGeoResolver(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (domain.GeoResolver, error) {
	if cfg.GeoIPDatabasePath == "" {
		log.Warn("no geoip database configured, geo rules will not match")
		return geo.Static{}, nil
	}
	resolver, err := geo.Open(cfg.GeoIPDatabasePath)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(resolver.Close))
	return resolver, nil
}

var Module = fx.Module("compliance.service",
	fx.Provide(NewGeoResolver),
	fx.Provide(service.NewService),
)
