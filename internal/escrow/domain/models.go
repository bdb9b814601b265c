// Package domain contains escrow holding models. A holding tracks one settled
// payment from capture until release, refund or dispute resolution.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Holding statuses.
const (
	StatusPending  = "pending"
	StatusReleased = "released"
	StatusRefunded = "refunded"
	StatusDisputed = "disputed"
)

// Holding is one escrowed settlement. The unique index on UsageRecordID
// guarantees at most one holding per paid request.
type Holding struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID `gorm:"not null;index" json:"org_id"`
	EndpointID    snowflake.ID `gorm:"not null;index" json:"endpoint_id"`
	UsageRecordID snowflake.ID `gorm:"not null;uniqueIndex:idx_escrow_usage_record" json:"usage_record_id"`

	Payer    string `gorm:"type:text;not null" json:"payer"`
	Amount   string `gorm:"type:text;not null" json:"amount"`
	Currency string `gorm:"type:text;not null" json:"currency"`
	Network  string `gorm:"type:text;not null" json:"network"`
	TxHash   string `gorm:"type:text" json:"tx_hash,omitempty"`

	Status string `gorm:"type:text;not null;index:idx_escrow_due,priority:1" json:"status"`

	// ReleaseAt is when the hold matures and the sweep may release it.
	ReleaseAt  time.Time  `gorm:"not null;index:idx_escrow_due,priority:2" json:"release_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`

	DisputeReason string `gorm:"type:text" json:"dispute_reason,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Holding) TableName() string { return "escrow_holdings" }

// Summary aggregates an organization's holdings: row counts per status plus
// the derived amount views. ReleasedTodayAmount covers releases since the
// start of the current UTC day.
type Summary struct {
	Pending  int64 `json:"pending"`
	Released int64 `json:"released"`
	Refunded int64 `json:"refunded"`
	Disputed int64 `json:"disputed"`

	PendingAmount       string `json:"pending_amount"`
	ReleasedTodayAmount string `json:"released_today_amount"`
	RefundedAmount      string `json:"refunded_amount"`
}
