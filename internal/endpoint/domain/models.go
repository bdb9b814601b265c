// Package domain contains persistence models for protected endpoints and
// their versioned price quotes.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Endpoint identifies a protected upstream resource. Identity (path+method)
// is immutable; configuration is mutable.
type Endpoint struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"org_id"`
	Path        string       `gorm:"type:text;not null;uniqueIndex:idx_endpoints_route,priority:2" json:"path"`
	Method      string       `gorm:"type:text;not null;uniqueIndex:idx_endpoints_route,priority:1" json:"method"`
	UpstreamURL string       `gorm:"type:text;not null" json:"upstream_url"`
	Description string       `gorm:"type:text" json:"description"`
	MimeType    string       `gorm:"type:text" json:"mime_type"`

	// Asset overrides the network default token contract when set.
	Asset    string                      `gorm:"type:text" json:"asset"`
	PayTo    string                      `gorm:"type:text;not null" json:"pay_to"`
	Networks datatypes.JSONSlice[string] `json:"networks"`
	Active   bool                        `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Endpoint) TableName() string { return "endpoints" }

// PriceQuote is one immutable version of an endpoint's price. The current
// price is the version with the latest effective_from <= now; superseding a
// price inserts a new version.
type PriceQuote struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	EndpointID    snowflake.ID `gorm:"not null;index" json:"endpoint_id"`
	Amount        string       `gorm:"type:text;not null" json:"amount"`
	Currency      string       `gorm:"type:text;not null" json:"currency"`
	Network       string       `gorm:"type:text;not null" json:"network"`
	EffectiveFrom time.Time    `gorm:"not null;index" json:"effective_from"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (PriceQuote) TableName() string { return "price_quotes" }
