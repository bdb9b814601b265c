package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type UpdateSettingsRequest struct {
	EscrowHoldHours    *int `json:"escrow_hold_hours"`
	FreeTierLimit      *int `json:"free_tier_limit"`
	FreeTierPeriodDays *int `json:"free_tier_period_days"`
}

type Service interface {
	// Get returns the org settings, creating defaults on first access.
	Get(ctx context.Context, orgID snowflake.ID) (Settings, error)
	Update(ctx context.Context, orgID snowflake.ID, req UpdateSettingsRequest) (Settings, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSettings     = errors.New("invalid_settings")
)
