package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// RecordInput describes the usage row to write for a request.
type RecordInput struct {
	OrgID      snowflake.ID
	EndpointID snowflake.ID
	RequestID  string
	Payer      string
	Amount     string
	Currency   string
	Network    string
	Status     string
	FreeTier   bool
	TxHash     string
	Metadata   map[string]any
}

// ListFilter narrows usage queries.
type ListFilter struct {
	EndpointID snowflake.ID
	Payer      string
	Status     string
	Limit      int
}

// FreeTierQuota is the outcome of a quota check for the current period.
type FreeTierQuota struct {
	Allowed     bool
	Used        int64
	Limit       int
	PeriodStart time.Time
}

// Service is the usage ledger. Record is idempotent per request id; state
// transitions are compare-and-set so replays and races cannot double-apply.
type Service interface {
	// Record inserts a usage row for the request id, or returns the existing
	// one. The second return reports whether a new row was created.
	Record(ctx context.Context, in RecordInput) (*UsageRecord, bool, error)

	FindByRequestID(ctx context.Context, requestID string) (*UsageRecord, error)
	List(ctx context.Context, orgID snowflake.ID, filter ListFilter) ([]UsageRecord, error)

	// MarkPaid moves an unpaid record to paid, stamping the settlement
	// transaction. MarkFailed moves an unpaid record to failed. MarkRefunded
	// moves a paid record to refunded. All return ErrInvalidTransition when
	// the record is not in the expected state.
	MarkPaid(ctx context.Context, id snowflake.ID, txHash string) error
	MarkFailed(ctx context.Context, id snowflake.ID, reason string) error
	MarkRefunded(ctx context.Context, id snowflake.ID) error

	// RecordOutcome stamps the forwarded response code and latency.
	RecordOutcome(ctx context.Context, id snowflake.ID, responseCode int, latency time.Duration) error

	// CheckFreeTier reads the payer's counter for the current period and
	// reports whether another free call fits under the limit.
	CheckFreeTier(ctx context.Context, orgID, endpointID snowflake.ID, payer string, limit, periodDays int, now time.Time) (FreeTierQuota, error)

	// IncrementFreeTier bumps the payer's counter for the current period,
	// creating the row on first use. The upsert is atomic and conditional on
	// the counter still being under limit, so concurrent callers cannot push
	// the period past its quota; a caller losing that race gets
	// ErrFreeTierExhausted.
	IncrementFreeTier(ctx context.Context, orgID, endpointID snowflake.ID, payer string, limit, periodDays int, now time.Time) error
}

var (
	ErrRecordNotFound    = errors.New("usage_record_not_found")
	ErrInvalidRecord     = errors.New("invalid_usage_record")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrFreeTierExhausted = errors.New("free_tier_exhausted")
)
