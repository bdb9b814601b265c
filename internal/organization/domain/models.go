// Package domain contains per-organization gateway settings.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Settings holds the billing knobs an organization controls: how long
// collected funds stay in escrow and how generous the free tier is.
type Settings struct {
	OrgID              snowflake.ID `gorm:"primaryKey" json:"org_id"`
	EscrowHoldHours    int          `gorm:"not null" json:"escrow_hold_hours"`
	FreeTierLimit      int          `gorm:"not null" json:"free_tier_limit"`
	FreeTierPeriodDays int          `gorm:"not null" json:"free_tier_period_days"`
	CreatedAt          time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null" json:"updated_at"`
}

func (Settings) TableName() string { return "org_settings" }
