// Package domain contains webhook endpoint models and the outbound event
// envelope.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event types emitted by the gateway.
const (
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentFailed    = "payment.failed"
	EventEscrowReleased   = "escrow.released"
	EventEscrowDisputed   = "escrow.disputed"
	EventEscrowRefunded   = "escrow.refunded"
)

// Endpoint is a subscriber URL. EventTypes filters delivery; empty means all
// events. ConsecutiveFailures counts deliveries that exhausted every retry
// since the last success.
type Endpoint struct {
	ID         snowflake.ID                `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID                `gorm:"not null;index" json:"org_id"`
	URL        string                      `gorm:"type:text;not null" json:"url"`
	Secret     string                      `gorm:"type:text;not null" json:"-"`
	EventTypes datatypes.JSONSlice[string] `json:"event_types"`
	Active     bool                        `gorm:"not null;default:true" json:"active"`

	ConsecutiveFailures int        `gorm:"not null;default:0" json:"consecutive_failures"`
	LastDeliveryAt      *time.Time `json:"last_delivery_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Endpoint) TableName() string { return "webhook_endpoints" }

// Matches reports whether the endpoint subscribes to the event type.
func (e Endpoint) Matches(eventType string) bool {
	if len(e.EventTypes) == 0 {
		return true
	}
	for _, t := range e.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Event is the delivery envelope posted to subscribers.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	Data      any       `json:"data"`
}
