package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	domain "github.com/x402gate/x402gate/internal/compliance/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Geo   domain.GeoResolver
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	geo   domain.GeoResolver
	genID *snowflake.Node
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("compliance.service"),
		geo:   p.Geo,
		genID: p.GenID,
	}
}

func (s *Service) CreateRule(ctx context.Context, req domain.CreateRuleRequest) (*domain.Rule, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrgID))
	if err != nil || orgID == 0 {
		return nil, domain.ErrInvalidRule
	}
	ruleType := strings.ToLower(strings.TrimSpace(req.Type))
	switch ruleType {
	case domain.RuleWalletDeny, domain.RuleWalletAllow, domain.RuleGeoBlock:
	default:
		return nil, domain.ErrInvalidRule
	}
	if len(req.Values) == 0 {
		return nil, domain.ErrInvalidRule
	}

	priority := req.Priority
	if priority == 0 {
		priority = 100
	}

	now := time.Now().UTC()
	rule := &domain.Rule{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		Type:        ruleType,
		Priority:    priority,
		Values:      datatypes.NewJSONSlice(normalizeValues(ruleType, req.Values)),
		Description: strings.TrimSpace(req.Description),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context, orgID snowflake.ID) ([]domain.Rule, error) {
	var rules []domain.Rule
	err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("priority ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Service) UpdateRule(ctx context.Context, id snowflake.ID, req domain.UpdateRuleRequest) (*domain.Rule, error) {
	var rule domain.Rule
	if err := s.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRuleNotFound
		}
		return nil, err
	}

	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Values != nil {
		if len(*req.Values) == 0 {
			return nil, domain.ErrInvalidRule
		}
		rule.Values = datatypes.NewJSONSlice(normalizeValues(rule.Type, *req.Values))
	}
	if req.Description != nil {
		rule.Description = strings.TrimSpace(*req.Description)
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	rule.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, id snowflake.ID) error {
	res := s.db.WithContext(ctx).Delete(&domain.Rule{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

// Authorize evaluates the organization's active rules. Wallet denies always
// win. An allow list, once one exists, is exclusive: a payer matching any
// allow rule is admitted without geo screening, a payer matching none is
// denied.
func (s *Service) Authorize(ctx context.Context, in domain.CheckInput) (domain.Decision, error) {
	var rules []domain.Rule
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND active = ?", in.OrgID, true).
		Order("priority ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		return domain.Decision{}, err
	}
	if len(rules) == 0 {
		return domain.Allow, nil
	}

	payer := strings.ToLower(strings.TrimSpace(in.Payer))

	for _, rule := range rules {
		if rule.Type == domain.RuleWalletDeny && containsFold(rule.Values, payer) {
			return deniedBy(rule, "wallet denied"), nil
		}
	}

	var allowRule *domain.Rule
	for i := range rules {
		if rules[i].Type != domain.RuleWalletAllow {
			continue
		}
		if containsFold(rules[i].Values, payer) {
			return domain.Allow, nil
		}
		if allowRule == nil {
			allowRule = &rules[i]
		}
	}
	if allowRule != nil {
		return deniedBy(*allowRule, "not on allow list"), nil
	}

	country := s.resolveCountry(in.ClientIP)
	if country != "" {
		for _, rule := range rules {
			if rule.Type == domain.RuleGeoBlock && containsFold(rule.Values, country) {
				return deniedBy(rule, "geo blocked"), nil
			}
		}
	}
	return domain.Allow, nil
}

// resolveCountry fails open: an unresolvable IP yields no country and geo
// rules simply do not match.
func (s *Service) resolveCountry(ip string) string {
	if ip == "" {
		return ""
	}
	country, err := s.geo.Country(ip)
	if err != nil {
		s.log.Warn("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return ""
	}
	return country
}

func deniedBy(rule domain.Rule, reason string) domain.Decision {
	return domain.Decision{
		Allowed:  false,
		RuleID:   rule.ID,
		RuleType: rule.Type,
		Reason:   reason,
	}
}

func containsFold(values []string, target string) bool {
	if target == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func normalizeValues(ruleType string, values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if ruleType == domain.RuleGeoBlock {
			v = strings.ToUpper(v)
		} else {
			v = strings.ToLower(v)
		}
		out = append(out, v)
	}
	return out
}
