package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// OpenInput describes a new holding for a settled payment.
type OpenInput struct {
	OrgID         snowflake.ID
	EndpointID    snowflake.ID
	UsageRecordID snowflake.ID
	Payer         string
	Amount        string
	Currency      string
	Network       string
	TxHash        string
	HoldFor       time.Duration
}

// Service manages escrow holdings. All transitions are compare-and-set on the
// current status so sweeps and manual operations are idempotent.
type Service interface {
	// Open creates a pending holding, or returns the existing one when a
	// holding for the usage record already exists.
	Open(ctx context.Context, in OpenInput) (*Holding, error)

	Get(ctx context.Context, id snowflake.ID) (*Holding, error)
	List(ctx context.Context, orgID snowflake.ID, status string, limit int) ([]Holding, error)
	Summarize(ctx context.Context, orgID snowflake.ID) (Summary, error)

	// ReleaseDue releases pending holdings whose release time has passed, up
	// to batchSize per call, and returns the holdings it released.
	ReleaseDue(ctx context.Context, now time.Time, batchSize int) ([]Holding, error)

	// Dispute freezes a pending holding; the sweep skips disputed holdings.
	Dispute(ctx context.Context, id snowflake.ID, reason string) (*Holding, error)

	// Resolve closes a disputed holding as released or refunded.
	Resolve(ctx context.Context, id snowflake.ID, outcome string) (*Holding, error)
}

var (
	ErrHoldingNotFound   = errors.New("holding_not_found")
	ErrInvalidHolding    = errors.New("invalid_holding")
	ErrInvalidTransition = errors.New("invalid_holding_transition")
)
