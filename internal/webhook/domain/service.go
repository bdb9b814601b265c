package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateEndpointRequest struct {
	OrgID      string   `json:"org_id"`
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	EventTypes []string `json:"event_types"`
}

type UpdateEndpointRequest struct {
	URL        *string   `json:"url"`
	Secret     *string   `json:"secret"`
	EventTypes *[]string `json:"event_types"`
	Active     *bool     `json:"active"`
}

// Service manages webhook subscriptions and fans events out to them.
type Service interface {
	Create(ctx context.Context, req CreateEndpointRequest) (*Endpoint, error)
	List(ctx context.Context, orgID snowflake.ID) ([]Endpoint, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateEndpointRequest) (*Endpoint, error)
	Delete(ctx context.Context, id snowflake.ID) error

	// Broadcast enqueues an event for delivery to every matching active
	// endpoint of the organization. It never blocks the caller: when the
	// queue is full the event is dropped and logged.
	Broadcast(orgID snowflake.ID, eventType string, data any)
}

var (
	ErrEndpointNotFound = errors.New("webhook_endpoint_not_found")
	ErrInvalidEndpoint  = errors.New("invalid_webhook_endpoint")
)
