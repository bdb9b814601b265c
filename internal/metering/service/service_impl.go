package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/x402gate/x402gate/internal/clock"
	domain "github.com/x402gate/x402gate/internal/metering/domain"
	"github.com/x402gate/x402gate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	genID *snowflake.Node
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("metering.service"),
		clock: p.Clock,
		genID: p.GenID,
	}
}

// Record inserts with ON CONFLICT DO NOTHING on the request id, then
// re-fetches on conflict so concurrent writers converge on a single row.
func (s *Service) Record(ctx context.Context, in domain.RecordInput) (*domain.UsageRecord, bool, error) {
	requestID := strings.TrimSpace(in.RequestID)
	if requestID == "" || in.OrgID == 0 || in.EndpointID == 0 {
		return nil, false, domain.ErrInvalidRecord
	}
	switch in.Status {
	case domain.StatusUnpaid, domain.StatusPaid:
	default:
		return nil, false, domain.ErrInvalidRecord
	}

	now := s.clock.Now()
	record := &domain.UsageRecord{
		ID:         s.genID.Generate(),
		OrgID:      in.OrgID,
		EndpointID: in.EndpointID,
		RequestID:  requestID,
		Payer:      strings.ToLower(strings.TrimSpace(in.Payer)),
		Amount:     in.Amount,
		Currency:   in.Currency,
		Network:    in.Network,
		Status:     in.Status,
		FreeTier:   in.FreeTier,
		TxHash:     in.TxHash,
		Metadata:   datatypes.JSONMap(in.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		if !db.IsDuplicateKeyErr(res.Error) {
			return nil, false, res.Error
		}
		res.RowsAffected = 0
	}
	if res.RowsAffected > 0 {
		return record, true, nil
	}

	existing, err := s.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Service) FindByRequestID(ctx context.Context, requestID string) (*domain.UsageRecord, error) {
	var record domain.UsageRecord
	err := s.db.WithContext(ctx).First(&record, "request_id = ?", requestID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID, filter domain.ListFilter) ([]domain.UsageRecord, error) {
	q := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if filter.EndpointID != 0 {
		q = q.Where("endpoint_id = ?", filter.EndpointID)
	}
	if filter.Payer != "" {
		q = q.Where("payer = ?", strings.ToLower(filter.Payer))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var records []domain.UsageRecord
	err := q.Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, txHash string) error {
	return s.transition(ctx, id, domain.StatusUnpaid, map[string]any{
		"status":     domain.StatusPaid,
		"tx_hash":    txHash,
		"updated_at": s.clock.Now(),
	})
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, reason string) error {
	return s.transition(ctx, id, domain.StatusUnpaid, map[string]any{
		"status":      domain.StatusFailed,
		"fail_reason": reason,
		"updated_at":  s.clock.Now(),
	})
}

func (s *Service) MarkRefunded(ctx context.Context, id snowflake.ID) error {
	return s.transition(ctx, id, domain.StatusPaid, map[string]any{
		"status":     domain.StatusRefunded,
		"updated_at": s.clock.Now(),
	})
}

// transition applies a guarded UPDATE so only a record in the expected status
// moves; anything else is a lost race or a replay.
func (s *Service) transition(ctx context.Context, id snowflake.ID, fromStatus string, updates map[string]any) error {
	res := s.db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var record domain.UsageRecord
		if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrRecordNotFound
			}
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (s *Service) RecordOutcome(ctx context.Context, id snowflake.ID, responseCode int, latency time.Duration) error {
	res := s.db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"response_code": responseCode,
			"latency_ms":    latency.Milliseconds(),
			"updated_at":    s.clock.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// CheckFreeTier uses fixed epoch-aligned periods. A payer's counter for a
// past period is simply left behind; a new period reads as zero.
func (s *Service) CheckFreeTier(ctx context.Context, orgID, endpointID snowflake.ID, payer string, limit, periodDays int, now time.Time) (domain.FreeTierQuota, error) {
	quota := domain.FreeTierQuota{Limit: limit}
	if limit <= 0 {
		return quota, nil
	}
	periodStart := domain.PeriodStart(now, periodDays)
	quota.PeriodStart = periodStart

	var counter domain.FreeTierUsage
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND endpoint_id = ? AND payer = ? AND period_start = ?",
			orgID, endpointID, strings.ToLower(strings.TrimSpace(payer)), periodStart).
		First(&counter).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.FreeTierQuota{}, err
	}

	quota.Used = counter.Count
	quota.Allowed = counter.Count < int64(limit)
	return quota, nil
}

// IncrementFreeTier claims one free call. The upsert only applies while the
// counter sits under limit, so two callers racing at the boundary cannot both
// claim the last slot: the loser's update matches zero rows.
func (s *Service) IncrementFreeTier(ctx context.Context, orgID, endpointID snowflake.ID, payer string, limit, periodDays int, now time.Time) error {
	if limit <= 0 {
		return domain.ErrFreeTierExhausted
	}
	counter := &domain.FreeTierUsage{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		EndpointID:  endpointID,
		Payer:       strings.ToLower(strings.TrimSpace(payer)),
		PeriodStart: domain.PeriodStart(now, periodDays),
		Count:       1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "org_id"}, {Name: "endpoint_id"},
				{Name: "payer"}, {Name: "period_start"},
			},
			DoUpdates: clause.Assignments(map[string]any{
				"count":      gorm.Expr("count + 1"),
				"updated_at": now,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("free_tier_usage.count < ?", limit),
			}},
		}).
		Create(counter)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrFreeTierExhausted
	}
	return nil
}
