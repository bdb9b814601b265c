// Package domain contains the usage ledger models. Every request admitted by
// the gateway, paid or free, produces exactly one usage record keyed by its
// request id.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Usage record statuses.
const (
	StatusUnpaid   = "unpaid"
	StatusPaid     = "paid"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"
)

// UsageRecord is one metered request. RequestID is the idempotency key:
// concurrent writes for the same request collapse to a single row.
type UsageRecord struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null;index" json:"org_id"`
	EndpointID snowflake.ID `gorm:"not null;index:idx_usage_endpoint_payer" json:"endpoint_id"`
	RequestID  string       `gorm:"type:text;not null;uniqueIndex:idx_usage_request_id" json:"request_id"`
	Payer      string       `gorm:"type:text;index:idx_usage_endpoint_payer" json:"payer"`

	Amount   string `gorm:"type:text" json:"amount"`
	Currency string `gorm:"type:text" json:"currency"`
	Network  string `gorm:"type:text" json:"network"`

	Status   string `gorm:"type:text;not null" json:"status"`
	FreeTier bool   `gorm:"not null;default:false" json:"free_tier"`

	TxHash     string `gorm:"type:text" json:"tx_hash,omitempty"`
	FailReason string `gorm:"type:text" json:"fail_reason,omitempty"`

	LatencyMS    int64 `json:"latency_ms"`
	ResponseCode int   `json:"response_code"`

	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (UsageRecord) TableName() string { return "usage_records" }

// FreeTierUsage counts free calls by one payer on one endpoint within one
// period. A new period inserts a new row; the count only grows. The unique
// index makes the increment an atomic upsert across gateway instances.
type FreeTierUsage struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null;uniqueIndex:idx_free_tier_period,priority:1" json:"org_id"`
	EndpointID snowflake.ID `gorm:"not null;uniqueIndex:idx_free_tier_period,priority:2" json:"endpoint_id"`
	Payer      string       `gorm:"type:text;not null;uniqueIndex:idx_free_tier_period,priority:3" json:"payer"`

	// PeriodStart anchors the period to a fixed epoch-aligned boundary so
	// every gateway instance computes the same bucket.
	PeriodStart time.Time `gorm:"not null;uniqueIndex:idx_free_tier_period,priority:4" json:"period_start"`

	Count int64 `gorm:"not null;default:0" json:"count"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (FreeTierUsage) TableName() string { return "free_tier_usage" }

// PeriodStart returns the fixed period boundary containing now. Periods are
// aligned to whole days since the Unix epoch.
func PeriodStart(now time.Time, periodDays int) time.Time {
	if periodDays <= 0 {
		periodDays = 30
	}
	day := now.Unix() / 86400
	start := day - day%int64(periodDays)
	return time.Unix(start*86400, 0).UTC()
}
