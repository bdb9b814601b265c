package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/x402gate/x402gate/internal/clock"
	"github.com/x402gate/x402gate/internal/config"
	orgdomain "github.com/x402gate/x402gate/internal/organization/domain"
	"github.com/x402gate/x402gate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   config.Config
	clock clock.Clock
}

func NewService(p ServiceParam) orgdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("organization.service"),
		cfg:   p.Cfg,
		clock: p.Clock,
	}
}

func (s *Service) Get(ctx context.Context, orgID snowflake.ID) (orgdomain.Settings, error) {
	if orgID == 0 {
		return orgdomain.Settings{}, orgdomain.ErrInvalidOrganization
	}

	var settings orgdomain.Settings
	err := s.db.WithContext(ctx).Where("org_id = ?", orgID).First(&settings).Error
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return orgdomain.Settings{}, err
	}

	now := s.clock.Now()
	settings = orgdomain.Settings{
		OrgID:              orgID,
		EscrowHoldHours:    s.cfg.DefaultEscrowHoldHours,
		FreeTierLimit:      s.cfg.DefaultFreeTierLimit,
		FreeTierPeriodDays: s.cfg.DefaultFreeTierPeriodDays,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.db.WithContext(ctx).Create(&settings).Error; err != nil {
		// Another request may have created the row concurrently.
		if db.IsDuplicateKeyErr(err) {
			var existing orgdomain.Settings
			if ferr := s.db.WithContext(ctx).Where("org_id = ?", orgID).First(&existing).Error; ferr == nil {
				return existing, nil
			}
		}
		return orgdomain.Settings{}, err
	}
	return settings, nil
}

func (s *Service) Update(ctx context.Context, orgID snowflake.ID, req orgdomain.UpdateSettingsRequest) (orgdomain.Settings, error) {
	settings, err := s.Get(ctx, orgID)
	if err != nil {
		return orgdomain.Settings{}, err
	}

	if req.EscrowHoldHours != nil {
		if *req.EscrowHoldHours < 0 {
			return orgdomain.Settings{}, orgdomain.ErrInvalidSettings
		}
		settings.EscrowHoldHours = *req.EscrowHoldHours
	}
	if req.FreeTierLimit != nil {
		if *req.FreeTierLimit < 0 {
			return orgdomain.Settings{}, orgdomain.ErrInvalidSettings
		}
		settings.FreeTierLimit = *req.FreeTierLimit
	}
	if req.FreeTierPeriodDays != nil {
		if *req.FreeTierPeriodDays <= 0 {
			return orgdomain.Settings{}, orgdomain.ErrInvalidSettings
		}
		settings.FreeTierPeriodDays = *req.FreeTierPeriodDays
	}

	settings.UpdatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Save(&settings).Error; err != nil {
		return orgdomain.Settings{}, err
	}
	return settings, nil
}
