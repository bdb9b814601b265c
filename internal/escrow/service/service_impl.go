package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/x402gate/x402gate/internal/clock"
	domain "github.com/x402gate/x402gate/internal/escrow/domain"
	"github.com/x402gate/x402gate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
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
		log:   p.Log.Named("escrow.service"),
		clock: p.Clock,
		genID: p.GenID,
	}
}

func (s *Service) Open(ctx context.Context, in domain.OpenInput) (*domain.Holding, error) {
	if in.OrgID == 0 || in.EndpointID == 0 || in.UsageRecordID == 0 || in.Amount == "" {
		return nil, domain.ErrInvalidHolding
	}

	now := s.clock.Now()
	holding := &domain.Holding{
		ID:            s.genID.Generate(),
		OrgID:         in.OrgID,
		EndpointID:    in.EndpointID,
		UsageRecordID: in.UsageRecordID,
		Payer:         strings.ToLower(strings.TrimSpace(in.Payer)),
		Amount:        in.Amount,
		Currency:      in.Currency,
		Network:       in.Network,
		TxHash:        in.TxHash,
		Status:        domain.StatusPending,
		ReleaseAt:     now.Add(in.HoldFor),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "usage_record_id"}},
			DoNothing: true,
		}).
		Create(holding)
	if res.Error != nil {
		if !db.IsDuplicateKeyErr(res.Error) {
			return nil, res.Error
		}
		res.RowsAffected = 0
	}
	if res.RowsAffected > 0 {
		return holding, nil
	}

	var existing domain.Holding
	err := s.db.WithContext(ctx).
		First(&existing, "usage_record_id = ?", in.UsageRecordID).Error
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Holding, error) {
	var holding domain.Holding
	err := s.db.WithContext(ctx).First(&holding, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrHoldingNotFound
		}
		return nil, err
	}
	return &holding, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID, status string, limit int) ([]domain.Holding, error) {
	q := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var holdings []domain.Holding
	err := q.Order("release_at ASC").Limit(limit).Find(&holdings).Error
	if err != nil {
		return nil, err
	}
	return holdings, nil
}

// Summarize derives the org's amount views in one pass over its holdings.
// Amounts are stored as decimal strings, so the sums run through big.Rat
// rather than a dialect-dependent SQL cast.
func (s *Service) Summarize(ctx context.Context, orgID snowflake.ID) (domain.Summary, error) {
	rows := []struct {
		Status     string
		Amount     string
		ReleasedAt *time.Time
	}{}
	err := s.db.WithContext(ctx).
		Model(&domain.Holding{}).
		Select("status, amount, released_at").
		Where("org_id = ?", orgID).
		Scan(&rows).Error
	if err != nil {
		return domain.Summary{}, err
	}

	dayStart := s.clock.Now().UTC().Truncate(24 * time.Hour)
	pending := new(big.Rat)
	releasedToday := new(big.Rat)
	refunded := new(big.Rat)

	var summary domain.Summary
	for _, row := range rows {
		switch row.Status {
		case domain.StatusPending:
			summary.Pending++
			addAmount(pending, row.Amount)
		case domain.StatusReleased:
			summary.Released++
			if row.ReleasedAt != nil && !row.ReleasedAt.Before(dayStart) {
				addAmount(releasedToday, row.Amount)
			}
		case domain.StatusRefunded:
			summary.Refunded++
			addAmount(refunded, row.Amount)
		case domain.StatusDisputed:
			summary.Disputed++
		}
	}

	summary.PendingAmount = formatAmount(pending)
	summary.ReleasedTodayAmount = formatAmount(releasedToday)
	summary.RefundedAmount = formatAmount(refunded)
	return summary, nil
}

func addAmount(sum *big.Rat, amount string) {
	value := new(big.Rat)
	if _, ok := value.SetString(amount); ok {
		sum.Add(sum, value)
	}
}

func formatAmount(sum *big.Rat) string {
	if sum.IsInt() {
		return sum.Num().String()
	}
	out := strings.TrimRight(sum.FloatString(18), "0")
	return strings.TrimRight(out, ".")
}

// ReleaseDue claims each due holding with a guarded update before reporting
// it released. A holding disputed or already released between the select and
// the update is skipped, so concurrent sweeps never double-release.
func (s *Service) ReleaseDue(ctx context.Context, now time.Time, batchSize int) ([]domain.Holding, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var due []domain.Holding
	err := s.db.WithContext(ctx).
		Where("status = ? AND release_at <= ?", domain.StatusPending, now).
		Order("release_at ASC").
		Limit(batchSize).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	released := make([]domain.Holding, 0, len(due))
	for _, holding := range due {
		res := s.db.WithContext(ctx).
			Model(&domain.Holding{}).
			Where("id = ? AND status = ?", holding.ID, domain.StatusPending).
			Updates(map[string]any{
				"status":      domain.StatusReleased,
				"released_at": now,
				"updated_at":  now,
			})
		if res.Error != nil {
			return released, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		holding.Status = domain.StatusReleased
		releasedAt := now
		holding.ReleasedAt = &releasedAt
		holding.UpdatedAt = now
		released = append(released, holding)
	}
	return released, nil
}

func (s *Service) Dispute(ctx context.Context, id snowflake.ID, reason string) (*domain.Holding, error) {
	now := s.clock.Now()
	err := s.transition(ctx, id, domain.StatusPending, map[string]any{
		"status":         domain.StatusDisputed,
		"dispute_reason": strings.TrimSpace(reason),
		"updated_at":     now,
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Resolve(ctx context.Context, id snowflake.ID, outcome string) (*domain.Holding, error) {
	switch outcome {
	case domain.StatusReleased, domain.StatusRefunded:
	default:
		return nil, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	updates := map[string]any{
		"status":     outcome,
		"updated_at": now,
	}
	if outcome == domain.StatusReleased {
		updates["released_at"] = now
	}
	if err := s.transition(ctx, id, domain.StatusDisputed, updates); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, fromStatus string, updates map[string]any) error {
	res := s.db.WithContext(ctx).
		Model(&domain.Holding{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}
