package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	endpointdomain "github.com/x402gate/x402gate/internal/endpoint/domain"
	"github.com/x402gate/x402gate/internal/x402"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p ServiceParam) endpointdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("endpoint.service"),
		genID: p.GenID,
	}
}

func (s *Service) Create(ctx context.Context, req endpointdomain.CreateEndpointRequest) (*endpointdomain.Endpoint, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrgID))
	if err != nil || orgID == 0 {
		return nil, endpointdomain.ErrInvalidEndpoint
	}

	path := strings.TrimSpace(req.Path)
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if path == "" || !strings.HasPrefix(path, "/") || method == "" {
		return nil, endpointdomain.ErrInvalidEndpoint
	}
	if strings.TrimSpace(req.UpstreamURL) == "" || strings.TrimSpace(req.PayTo) == "" {
		return nil, endpointdomain.ErrInvalidEndpoint
	}

	networks := req.Networks
	if len(networks) == 0 {
		networks = []string{"base"}
	}
	for _, network := range networks {
		if _, err := x402.DefaultAsset(network); err != nil {
			return nil, fmt.Errorf("%w: network %q", endpointdomain.ErrInvalidEndpoint, network)
		}
	}

	now := time.Now().UTC()
	ep := &endpointdomain.Endpoint{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		Path:        path,
		Method:      method,
		UpstreamURL: strings.TrimSpace(req.UpstreamURL),
		Description: strings.TrimSpace(req.Description),
		MimeType:    strings.TrimSpace(req.MimeType),
		Asset:       strings.TrimSpace(req.Asset),
		PayTo:       strings.TrimSpace(req.PayTo),
		Networks:    datatypes.NewJSONSlice(networks),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(ep).Error; err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*endpointdomain.Endpoint, error) {
	var ep endpointdomain.Endpoint
	err := s.db.WithContext(ctx).First(&ep, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, endpointdomain.ErrEndpointNotFound
		}
		return nil, err
	}
	return &ep, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]endpointdomain.Endpoint, error) {
	var endpoints []endpointdomain.Endpoint
	err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Find(&endpoints).Error
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req endpointdomain.UpdateEndpointRequest) (*endpointdomain.Endpoint, error) {
	ep, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.UpstreamURL != nil {
		if strings.TrimSpace(*req.UpstreamURL) == "" {
			return nil, endpointdomain.ErrInvalidEndpoint
		}
		ep.UpstreamURL = strings.TrimSpace(*req.UpstreamURL)
	}
	if req.Description != nil {
		ep.Description = strings.TrimSpace(*req.Description)
	}
	if req.Asset != nil {
		ep.Asset = strings.TrimSpace(*req.Asset)
	}
	if req.PayTo != nil {
		if strings.TrimSpace(*req.PayTo) == "" {
			return nil, endpointdomain.ErrInvalidEndpoint
		}
		ep.PayTo = strings.TrimSpace(*req.PayTo)
	}
	if req.Active != nil {
		ep.Active = *req.Active
	}

	ep.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(ep).Error; err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *Service) ResolveRoute(ctx context.Context, method, path string) (*endpointdomain.Endpoint, error) {
	var ep endpointdomain.Endpoint
	err := s.db.WithContext(ctx).
		Where("method = ? AND path = ?", strings.ToUpper(method), path).
		First(&ep).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, endpointdomain.ErrEndpointNotFound
		}
		return nil, err
	}
	if !ep.Active {
		return nil, endpointdomain.ErrEndpointInactive
	}
	return &ep, nil
}

func (s *Service) AddPriceQuote(ctx context.Context, endpointID snowflake.ID, req endpointdomain.CreatePriceQuoteRequest) (*endpointdomain.PriceQuote, error) {
	if _, err := s.GetByID(ctx, endpointID); err != nil {
		return nil, err
	}
	amount := strings.TrimSpace(req.Amount)
	if amount == "" {
		return nil, endpointdomain.ErrInvalidPrice
	}
	asset, err := x402.DefaultAsset(req.Network)
	if err != nil {
		return nil, endpointdomain.ErrInvalidPrice
	}
	// Fail early on amounts that cannot be expressed in atomic units.
	if _, err := x402.AtomicAmount(amount, asset.Decimals); err != nil {
		return nil, endpointdomain.ErrInvalidPrice
	}

	effectiveFrom := req.EffectiveFrom
	if effectiveFrom.IsZero() {
		effectiveFrom = time.Now().UTC()
	}

	quote := &endpointdomain.PriceQuote{
		ID:            s.genID.Generate(),
		EndpointID:    endpointID,
		Amount:        amount,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		Network:       req.Network,
		EffectiveFrom: effectiveFrom,
		CreatedAt:     time.Now().UTC(),
	}
	if quote.Currency == "" {
		quote.Currency = asset.Symbol
	}
	if err := s.db.WithContext(ctx).Create(quote).Error; err != nil {
		return nil, err
	}
	return quote, nil
}

func (s *Service) CurrentQuote(ctx context.Context, endpointID snowflake.ID, now time.Time) (*endpointdomain.PriceQuote, error) {
	var quote endpointdomain.PriceQuote
	err := s.db.WithContext(ctx).
		Where("endpoint_id = ? AND effective_from <= ?", endpointID, now).
		Order("effective_from DESC").
		First(&quote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, endpointdomain.ErrNoCurrentPrice
		}
		return nil, err
	}
	return &quote, nil
}

func (s *Service) BuildRequirements(ctx context.Context, ep *endpointdomain.Endpoint, now time.Time) (x402.PaymentRequirements, *endpointdomain.PriceQuote, error) {
	quote, err := s.CurrentQuote(ctx, ep.ID, now)
	if err != nil {
		return x402.PaymentRequirements{}, nil, err
	}

	assetInfo, err := x402.DefaultAsset(quote.Network)
	if err != nil {
		return x402.PaymentRequirements{}, nil, err
	}
	asset := ep.Asset
	if asset == "" {
		asset = assetInfo.Address
	}

	atomic, err := x402.AtomicAmount(quote.Amount, assetInfo.Decimals)
	if err != nil {
		return x402.PaymentRequirements{}, nil, err
	}

	reqs := x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           quote.Network,
		MaxAmountRequired: atomic,
		Resource:          ep.Path,
		Description:       ep.Description,
		MimeType:          ep.MimeType,
		PayTo:             ep.PayTo,
		MaxTimeoutSeconds: 60,
		Asset:             asset,
	}
	return reqs, quote, nil
}
