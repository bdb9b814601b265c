// Package domain contains compliance rule persistence models and the
// authorization decision contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Rule types, in decision precedence order.
const (
	RuleWalletDeny  = "wallet_deny"
	RuleWalletAllow = "wallet_allow"
	RuleGeoBlock    = "geo_block"
)

// Rule is one compliance policy entry. Values holds wallet addresses for
// wallet rules and ISO country codes for geo rules.
type Rule struct {
	ID          snowflake.ID                `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID                `gorm:"not null;index" json:"org_id"`
	Type        string                      `gorm:"type:text;not null" json:"type"`
	Priority    int                         `gorm:"not null;default:100" json:"priority"`
	Values      datatypes.JSONSlice[string] `json:"values"`
	Description string                      `gorm:"type:text" json:"description"`
	Active      bool                        `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time                   `gorm:"not null" json:"updated_at"`
}

func (Rule) TableName() string { return "compliance_rules" }

// Decision is the outcome of an authorization check. A denied decision names
// the rule that produced it.
type Decision struct {
	Allowed  bool         `json:"allowed"`
	RuleID   snowflake.ID `json:"rule_id,omitempty"`
	RuleType string       `json:"rule_type,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// Allow is the default decision when no rule denies the request.
var Allow = Decision{Allowed: true}
