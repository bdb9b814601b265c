package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/x402gate/x402gate/internal/clock"
	"github.com/x402gate/x402gate/internal/config"
	"github.com/x402gate/x402gate/internal/metrics"
	domain "github.com/x402gate/x402gate/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Signature headers attached to every delivery.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
	EventHeader     = "X-Webhook-Event"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	Clock clock.Clock
	GenID *snowflake.Node
}

type delivery struct {
	orgID snowflake.ID
	event domain.Event
}

// Service persists webhook subscriptions and delivers events through a
// bounded queue drained by a fixed worker pool. Delivery outcomes are
// isolated per endpoint: one subscriber failing or timing out never delays
// or blocks another.
type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	genID  *snowflake.Node
	client *http.Client

	deliveryTimeout time.Duration
	retryDelays     []time.Duration

	queue   chan delivery
	workers int
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func New(p ServiceParam) *Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("webhook.service"),
		clock:           p.Clock,
		genID:           p.GenID,
		client:          &http.Client{Timeout: p.Cfg.Webhook.DeliveryTimeout},
		deliveryTimeout: p.Cfg.Webhook.DeliveryTimeout,
		retryDelays:     p.Cfg.Webhook.RetryDelays,
		queue:           make(chan delivery, p.Cfg.Webhook.QueueSize),
		workers:         p.Cfg.Webhook.Workers,
	}
}

// Start spins up the delivery workers.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

// Stop drains nothing: in-flight deliveries finish their current attempt,
// queued events are dropped.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	close(s.queue)
	s.wg.Wait()
}

func (s *Service) Create(ctx context.Context, req domain.CreateEndpointRequest) (*domain.Endpoint, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrgID))
	if err != nil || orgID == 0 {
		return nil, domain.ErrInvalidEndpoint
	}
	rawURL := strings.TrimSpace(req.URL)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, domain.ErrInvalidEndpoint
	}
	if strings.TrimSpace(req.Secret) == "" {
		return nil, domain.ErrInvalidEndpoint
	}

	now := s.clock.Now()
	ep := &domain.Endpoint{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		URL:        rawURL,
		Secret:     req.Secret,
		EventTypes: datatypes.NewJSONSlice(req.EventTypes),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(ep).Error; err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]domain.Endpoint, error) {
	var endpoints []domain.Endpoint
	err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Find(&endpoints).Error
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdateEndpointRequest) (*domain.Endpoint, error) {
	var ep domain.Endpoint
	if err := s.db.WithContext(ctx).First(&ep, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrEndpointNotFound
		}
		return nil, err
	}

	if req.URL != nil {
		parsed, err := url.Parse(strings.TrimSpace(*req.URL))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, domain.ErrInvalidEndpoint
		}
		ep.URL = strings.TrimSpace(*req.URL)
	}
	if req.Secret != nil {
		if strings.TrimSpace(*req.Secret) == "" {
			return nil, domain.ErrInvalidEndpoint
		}
		ep.Secret = *req.Secret
	}
	if req.EventTypes != nil {
		ep.EventTypes = datatypes.NewJSONSlice(*req.EventTypes)
	}
	if req.Active != nil {
		ep.Active = *req.Active
	}

	ep.UpdatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Save(&ep).Error; err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	res := s.db.WithContext(ctx).Delete(&domain.Endpoint{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrEndpointNotFound
	}
	return nil
}

func (s *Service) Broadcast(orgID snowflake.ID, eventType string, data any) {
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		CreatedAt: s.clock.Now(),
		Data:      data,
	}
	select {
	case s.queue <- delivery{orgID: orgID, event: event}:
	default:
		s.log.Warn("webhook queue full, dropping event",
			zap.String("event_type", eventType),
			zap.Int64("org_id", int64(orgID)))
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for d := range s.queue {
		if ctx.Err() != nil {
			return
		}
		s.fanOut(ctx, d)
	}
}

func (s *Service) fanOut(ctx context.Context, d delivery) {
	var endpoints []domain.Endpoint
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND active = ?", d.orgID, true).
		Find(&endpoints).Error
	if err != nil {
		s.log.Error("load webhook endpoints failed", zap.Error(err))
		return
	}

	body, err := json.Marshal(d.event)
	if err != nil {
		s.log.Error("encode webhook event failed", zap.Error(err))
		return
	}

	for _, ep := range endpoints {
		if !ep.Matches(d.event.Type) {
			continue
		}
		s.deliverWithRetry(ctx, ep, d.event.Type, body)
	}
}

// deliverWithRetry attempts the delivery and retries on failure after each
// configured delay. The endpoint's failure counter resets on success and
// increments once per exhausted delivery.
func (s *Service) deliverWithRetry(ctx context.Context, ep domain.Endpoint, eventType string, body []byte) {
	attempts := 1 + len(s.retryDelays)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryDelays[attempt-1]):
			}
		}
		if err := s.deliver(ctx, ep, eventType, body); err != nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
			s.log.Warn("webhook delivery attempt failed",
				zap.Int64("endpoint_id", int64(ep.ID)),
				zap.String("event_type", eventType),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
		s.recordOutcome(ctx, ep.ID, true)
		return
	}
	s.recordOutcome(ctx, ep.ID, false)
}

func (s *Service) deliver(ctx context.Context, ep domain.Endpoint, eventType string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	timestamp := strconv.FormatInt(s.clock.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(ep.Secret, timestamp, body))
	req.Header.Set(TimestampHeader, timestamp)
	req.Header.Set(EventHeader, eventType)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	return nil
}

// recordOutcome only stamps last_delivery_at on success, so the field reads
// as "last time this subscriber actually received an event".
func (s *Service) recordOutcome(ctx context.Context, id snowflake.ID, success bool) {
	updates := map[string]any{
		"updated_at": s.clock.Now(),
	}
	if success {
		updates["last_delivery_at"] = s.clock.Now()
		updates["consecutive_failures"] = 0
	} else {
		updates["consecutive_failures"] = gorm.Expr("consecutive_failures + 1")
	}
	err := s.db.WithContext(ctx).
		Model(&domain.Endpoint{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		s.log.Error("update webhook endpoint outcome failed", zap.Error(err))
	}
}

// Sign computes the delivery signature over "<timestamp>.<body>" with the
// endpoint secret.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
