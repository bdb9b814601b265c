package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateRuleRequest struct {
	OrgID       string   `json:"org_id"`
	Type        string   `json:"type"`
	Priority    int      `json:"priority"`
	Values      []string `json:"values"`
	Description string   `json:"description"`
}

type UpdateRuleRequest struct {
	Priority    *int      `json:"priority"`
	Values      *[]string `json:"values"`
	Description *string   `json:"description"`
	Active      *bool     `json:"active"`
}

// CheckInput identifies the caller being screened. Country is resolved from
// ClientIP when empty.
type CheckInput struct {
	OrgID    snowflake.ID
	Payer    string
	ClientIP string
}

// Service screens payers against an organization's compliance rules.
type Service interface {
	CreateRule(ctx context.Context, req CreateRuleRequest) (*Rule, error)
	ListRules(ctx context.Context, orgID snowflake.ID) ([]Rule, error)
	UpdateRule(ctx context.Context, id snowflake.ID, req UpdateRuleRequest) (*Rule, error)
	DeleteRule(ctx context.Context, id snowflake.ID) error

	// Authorize evaluates active rules for the organization. Wallet denies
	// take precedence over wallet allows, which take precedence over geo
	// blocks. Geo resolution failures never block the request.
	Authorize(ctx context.Context, in CheckInput) (Decision, error)
}

// GeoResolver maps a client IP to an ISO 3166-1 alpha-2 country code.
type GeoResolver interface {
	Country(ip string) (string, error)
}

var (
	ErrRuleNotFound = errors.New("rule_not_found")
	ErrInvalidRule  = errors.New("invalid_rule")
)
