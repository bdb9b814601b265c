package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/x402gate/x402gate/internal/x402"
)

type CreateEndpointRequest struct {
	OrgID       string   `json:"org_id"`
	Path        string   `json:"path"`
	Method      string   `json:"method"`
	UpstreamURL string   `json:"upstream_url"`
	Description string   `json:"description"`
	MimeType    string   `json:"mime_type"`
	Asset       string   `json:"asset"`
	PayTo       string   `json:"pay_to"`
	Networks    []string `json:"networks"`
}

type UpdateEndpointRequest struct {
	UpstreamURL *string `json:"upstream_url"`
	Description *string `json:"description"`
	Asset       *string `json:"asset"`
	PayTo       *string `json:"pay_to"`
	Active      *bool   `json:"active"`
}

type CreatePriceQuoteRequest struct {
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Network       string    `json:"network"`
	EffectiveFrom time.Time `json:"effective_from"`
}

type Service interface {
	Create(ctx context.Context, req CreateEndpointRequest) (*Endpoint, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Endpoint, error)
	List(ctx context.Context, orgID snowflake.ID) ([]Endpoint, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateEndpointRequest) (*Endpoint, error)

	// ResolveRoute returns the active endpoint registered for method+path.
	ResolveRoute(ctx context.Context, method, path string) (*Endpoint, error)

	AddPriceQuote(ctx context.Context, endpointID snowflake.ID, req CreatePriceQuoteRequest) (*PriceQuote, error)
	// CurrentQuote returns the price version with the latest
	// effective_from <= now.
	CurrentQuote(ctx context.Context, endpointID snowflake.ID, now time.Time) (*PriceQuote, error)

	// BuildRequirements derives the per-request payment requirements from the
	// endpoint and its current price quote.
	BuildRequirements(ctx context.Context, ep *Endpoint, now time.Time) (x402.PaymentRequirements, *PriceQuote, error)
}

var (
	ErrEndpointNotFound = errors.New("endpoint_not_found")
	ErrEndpointInactive = errors.New("endpoint_inactive")
	ErrInvalidEndpoint  = errors.New("invalid_endpoint")
	ErrNoCurrentPrice   = errors.New("no_current_price")
	ErrInvalidPrice     = errors.New("invalid_price")
)
