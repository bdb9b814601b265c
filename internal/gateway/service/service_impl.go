package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/x402gate/x402gate/internal/clock"
	compliancedomain "github.com/x402gate/x402gate/internal/compliance/domain"
	endpointdomain "github.com/x402gate/x402gate/internal/endpoint/domain"
	escrowdomain "github.com/x402gate/x402gate/internal/escrow/domain"
	"github.com/x402gate/x402gate/internal/facilitator"
	domain "github.com/x402gate/x402gate/internal/gateway/domain"
	meteringdomain "github.com/x402gate/x402gate/internal/metering/domain"
	"github.com/x402gate/x402gate/internal/metrics"
	orgdomain "github.com/x402gate/x402gate/internal/organization/domain"
	webhookdomain "github.com/x402gate/x402gate/internal/webhook/domain"
	"github.com/x402gate/x402gate/internal/x402"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Endpoints   endpointdomain.Service
	Orgs        orgdomain.Service
	Compliance  compliancedomain.Service
	Metering    meteringdomain.Service
	Escrow      escrowdomain.Service
	Webhooks    webhookdomain.Service
	Facilitator facilitator.Facilitator
	Signer      *facilitator.QuoteSigner
	Forwarder   *Forwarder
}

// Service sequences the request pipeline: route resolution, challenge
// issuance, proof verification, compliance screening, settlement, metering,
// escrow capture and the upstream forward.
type Service struct {
	log         *zap.Logger
	clock       clock.Clock
	endpoints   endpointdomain.Service
	orgs        orgdomain.Service
	compliance  compliancedomain.Service
	metering    meteringdomain.Service
	escrow      escrowdomain.Service
	webhooks    webhookdomain.Service
	facilitator facilitator.Facilitator
	signer      *facilitator.QuoteSigner
	forwarder   *Forwarder
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:         p.Log.Named("gateway.service"),
		clock:       p.Clock,
		endpoints:   p.Endpoints,
		orgs:        p.Orgs,
		compliance:  p.Compliance,
		metering:    p.Metering,
		escrow:      p.Escrow,
		webhooks:    p.Webhooks,
		facilitator: p.Facilitator,
		signer:      p.Signer,
		forwarder:   p.Forwarder,
	}
}

func (s *Service) Proxy(ctx context.Context, req domain.ProxyRequest) domain.ProxyResponse {
	ep, err := s.endpoints.ResolveRoute(ctx, req.Method, req.Path)
	if err != nil {
		switch {
		case errors.Is(err, endpointdomain.ErrEndpointNotFound):
			return errorResponse(http.StatusNotFound, "no endpoint registered for this route", "", domain.CodeEndpointNotFound)
		case errors.Is(err, endpointdomain.ErrEndpointInactive):
			return errorResponse(http.StatusNotFound, "endpoint is disabled", "", domain.CodeEndpointInactive)
		default:
			s.log.Error("route resolution failed", zap.Error(err))
			return internalError()
		}
	}

	now := s.clock.Now()
	requestID := req.Header.Get(x402.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := s.log.With(
		zap.String("request_id", requestID),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
	)

	reqs, quote, err := s.endpoints.BuildRequirements(ctx, ep, now)
	if err != nil {
		if errors.Is(err, endpointdomain.ErrNoCurrentPrice) {
			log.Error("endpoint has no effective price")
			return errorResponse(http.StatusServiceUnavailable, "no price is configured for this endpoint", "", domain.CodePriceUnavailable)
		}
		log.Error("build payment requirements failed", zap.Error(err))
		return internalError()
	}

	settings, err := s.orgs.Get(ctx, ep.OrgID)
	if err != nil {
		log.Error("load org settings failed", zap.Error(err))
		return internalError()
	}

	proofHeader := req.Header.Get(x402.PaymentHeader)
	if proofHeader == "" {
		return s.handleProofless(ctx, log, req, ep, settings, reqs, quote, requestID, now)
	}

	payload, err := x402.DecodePayment(proofHeader)
	if err != nil {
		log.Info("malformed payment proof", zap.Error(err))
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeChallenge).Inc()
		return s.challenge(reqs, "malformed payment proof")
	}

	// Replays of an already-settled request re-forward without touching the
	// facilitator or escrow again.
	if existing, err := s.metering.FindByRequestID(ctx, requestID); err == nil {
		if resp, done := s.shortCircuit(ctx, log, req, ep, existing); done {
			return resp
		}
	}

	verify, err := s.facilitator.Verify(ctx, payload, reqs)
	if err != nil {
		log.Error("facilitator verify errored", zap.Error(err))
		return internalError()
	}
	if !verify.Valid {
		log.Info("payment proof rejected", zap.String("reason", verify.Reason))
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeVerifyFail).Inc()
		return s.challenge(reqs, verify.Reason)
	}

	payer := verify.Payer
	if payer == "" {
		payer = payload.PayerAddress()
	}

	decision, err := s.compliance.Authorize(ctx, compliancedomain.CheckInput{
		OrgID:    ep.OrgID,
		Payer:    payer,
		ClientIP: req.ClientIP,
	})
	if err != nil {
		// Fail open: a compliance subsystem outage must not block traffic.
		log.Warn("compliance check errored, allowing request", zap.Error(err))
		decision = compliancedomain.Allow
	}
	if !decision.Allowed {
		log.Info("payer blocked by compliance rule",
			zap.String("payer", payer),
			zap.String("rule_type", decision.RuleType))
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeDenied).Inc()
		return errorResponse(http.StatusForbidden, "payment rejected by compliance policy", decision.Reason, domain.CodeCompliance)
	}

	// Claim the request id before settling so concurrent duplicates converge
	// on one record.
	record, created, err := s.metering.Record(ctx, meteringdomain.RecordInput{
		OrgID:      ep.OrgID,
		EndpointID: ep.ID,
		RequestID:  requestID,
		Payer:      payer,
		Amount:     quote.Amount,
		Currency:   quote.Currency,
		Network:    reqs.Network,
		Status:     meteringdomain.StatusUnpaid,
	})
	if err != nil {
		log.Error("record usage failed", zap.Error(err))
		return internalError()
	}
	if !created {
		if resp, done := s.shortCircuit(ctx, log, req, ep, record); done {
			return resp
		}
	}

	// Settlement has external side effects: once started it runs to
	// completion even if the caller disconnects.
	settleCtx := context.WithoutCancel(ctx)
	settle, err := s.facilitator.Settle(settleCtx, payload, reqs)
	if err != nil || !settle.Success {
		reason := "settlement error"
		if err == nil {
			reason = settle.Reason
		}
		if markErr := s.metering.MarkFailed(settleCtx, record.ID, reason); markErr != nil {
			log.Error("mark usage failed errored", zap.Error(markErr))
		}
		log.Warn("settlement failed", zap.String("reason", reason), zap.Error(err))
		metrics.SettlementsTotal.WithLabelValues("failed").Inc()
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeSettleFail).Inc()
		s.webhooks.Broadcast(ep.OrgID, webhookdomain.EventPaymentFailed, map[string]any{
			"requestId":  requestID,
			"endpointId": ep.ID.String(),
			"payer":      payer,
			"reason":     reason,
		})
		return errorResponse(http.StatusInternalServerError, "payment settlement failed", reason, domain.CodeSettlementFailed)
	}
	metrics.SettlementsTotal.WithLabelValues("success").Inc()

	if err := s.metering.MarkPaid(settleCtx, record.ID, settle.Transaction); err != nil {
		// A concurrent duplicate may have won the transition; the settlement
		// itself stands either way.
		log.Warn("mark usage paid errored", zap.Error(err))
	}

	network := settle.Network
	if network == "" {
		network = reqs.Network
	}
	if _, err := s.escrow.Open(settleCtx, escrowdomain.OpenInput{
		OrgID:         ep.OrgID,
		EndpointID:    ep.ID,
		UsageRecordID: record.ID,
		Payer:         payer,
		Amount:        quote.Amount,
		Currency:      quote.Currency,
		Network:       network,
		TxHash:        settle.Transaction,
		HoldFor:       time.Duration(settings.EscrowHoldHours) * time.Hour,
	}); err != nil {
		// Funds are settled; a missing holding is a reconciliation item, not
		// a reason to fail the request.
		log.Error("open escrow holding failed", zap.Error(err))
	}

	receipt := x402.SettleReceipt{
		Success:     true,
		Transaction: settle.Transaction,
		Network:     network,
		Payer:       payer,
		Amount:      reqs.MaxAmountRequired,
	}

	start := time.Now()
	resp, err := s.forwarder.Forward(ctx, ep.UpstreamURL, req)
	latency := time.Since(start)
	if err != nil {
		// Settlement is not rolled back: the failure is surfaced as a
		// delivery error and left for reconciliation.
		if outErr := s.metering.RecordOutcome(settleCtx, record.ID, http.StatusBadGateway, latency); outErr != nil {
			log.Error("record usage outcome errored", zap.Error(outErr))
		}
		log.Error("upstream delivery failed after settlement", zap.Error(err))
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeUpstream).Inc()
		return errorResponse(http.StatusBadGateway, "upstream delivery failed after settlement", "upstream unreachable", domain.CodeUpstreamFailed)
	}
	if outErr := s.metering.RecordOutcome(ctx, record.ID, resp.StatusCode, latency); outErr != nil {
		log.Error("record usage outcome errored", zap.Error(outErr))
	}

	attachReceipt(resp, receipt)
	s.webhooks.Broadcast(ep.OrgID, webhookdomain.EventPaymentConfirmed, map[string]any{
		"requestId":   requestID,
		"endpointId":  ep.ID.String(),
		"payer":       payer,
		"amount":      quote.Amount,
		"currency":    quote.Currency,
		"network":     network,
		"transaction": settle.Transaction,
	})

	metrics.RequestsTotal.WithLabelValues(metrics.OutcomePaid).Inc()
	metrics.UpstreamLatency.Observe(latency.Seconds())
	return *resp
}

// handleProofless serves the free tier when the payer has quota left and
// issues the 402 challenge otherwise.
func (s *Service) handleProofless(
	ctx context.Context,
	log *zap.Logger,
	req domain.ProxyRequest,
	ep *endpointdomain.Endpoint,
	settings orgdomain.Settings,
	reqs x402.PaymentRequirements,
	quote *endpointdomain.PriceQuote,
	requestID string,
	now time.Time,
) domain.ProxyResponse {
	payer := req.Header.Get(x402.PayerAddressHeader)
	if payer != "" && settings.FreeTierLimit > 0 {
		quota, err := s.metering.CheckFreeTier(ctx, ep.OrgID, ep.ID, payer, settings.FreeTierLimit, settings.FreeTierPeriodDays, now)
		if err != nil {
			log.Error("free tier check failed", zap.Error(err))
			return internalError()
		}
		if quota.Allowed {
			// The conditional increment is the authoritative gate: a caller
			// losing the race for the last free slot falls through to the
			// challenge.
			err := s.metering.IncrementFreeTier(ctx, ep.OrgID, ep.ID, payer, settings.FreeTierLimit, settings.FreeTierPeriodDays, now)
			switch {
			case err == nil:
				return s.serveFree(ctx, log, req, ep, quote, requestID, payer)
			case errors.Is(err, meteringdomain.ErrFreeTierExhausted):
			default:
				log.Error("free tier increment failed", zap.Error(err))
				return internalError()
			}
		}
	}

	metrics.RequestsTotal.WithLabelValues(metrics.OutcomeChallenge).Inc()
	return s.challenge(reqs, "")
}

func (s *Service) serveFree(
	ctx context.Context,
	log *zap.Logger,
	req domain.ProxyRequest,
	ep *endpointdomain.Endpoint,
	quote *endpointdomain.PriceQuote,
	requestID string,
	payer string,
) domain.ProxyResponse {
	record, _, err := s.metering.Record(ctx, meteringdomain.RecordInput{
		OrgID:      ep.OrgID,
		EndpointID: ep.ID,
		RequestID:  requestID,
		Payer:      payer,
		Amount:     "0",
		Currency:   quote.Currency,
		Network:    quote.Network,
		Status:     meteringdomain.StatusPaid,
		FreeTier:   true,
	})
	if err != nil {
		log.Error("record free usage failed", zap.Error(err))
		return internalError()
	}

	start := time.Now()
	resp, err := s.forwarder.Forward(ctx, ep.UpstreamURL, req)
	latency := time.Since(start)
	if err != nil {
		if outErr := s.metering.RecordOutcome(ctx, record.ID, http.StatusBadGateway, latency); outErr != nil {
			log.Error("record usage outcome errored", zap.Error(outErr))
		}
		log.Error("upstream delivery failed for free call", zap.Error(err))
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeUpstream).Inc()
		return errorResponse(http.StatusBadGateway, "upstream delivery failed", "upstream unreachable", domain.CodeUpstreamFailed)
	}
	if outErr := s.metering.RecordOutcome(ctx, record.ID, resp.StatusCode, latency); outErr != nil {
		log.Error("record usage outcome errored", zap.Error(outErr))
	}

	metrics.RequestsTotal.WithLabelValues(metrics.OutcomeFree).Inc()
	metrics.UpstreamLatency.Observe(latency.Seconds())
	return *resp
}

// shortCircuit handles a request id that already has a usage record. A paid
// record replays the forward with the stored receipt; a terminal record is a
// hard rejection; an unpaid record lets the caller retry settlement.
func (s *Service) shortCircuit(
	ctx context.Context,
	log *zap.Logger,
	req domain.ProxyRequest,
	ep *endpointdomain.Endpoint,
	record *meteringdomain.UsageRecord,
) (domain.ProxyResponse, bool) {
	switch record.Status {
	case meteringdomain.StatusPaid:
		log.Info("replaying already-settled request")
		resp, err := s.forwarder.Forward(ctx, ep.UpstreamURL, req)
		if err != nil {
			log.Error("upstream delivery failed on replay", zap.Error(err))
			metrics.RequestsTotal.WithLabelValues(metrics.OutcomeUpstream).Inc()
			return errorResponse(http.StatusBadGateway, "upstream delivery failed after settlement", "upstream unreachable", domain.CodeUpstreamFailed), true
		}
		attachReceipt(resp, x402.SettleReceipt{
			Success:     true,
			Transaction: record.TxHash,
			Network:     record.Network,
			Payer:       record.Payer,
			Amount:      record.Amount,
		})
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return *resp, true
	case meteringdomain.StatusFailed, meteringdomain.StatusRefunded:
		return errorResponse(http.StatusPaymentRequired, "request id is in a terminal payment state", record.Status, domain.CodePaymentTerminal), true
	default:
		return domain.ProxyResponse{}, false
	}
}

func (s *Service) challenge(reqs x402.PaymentRequirements, errMsg string) domain.ProxyResponse {
	token, err := s.signer.Sign(reqs)
	if err != nil {
		s.log.Error("sign quote token failed", zap.Error(err))
		return internalError()
	}
	if reqs.Extra == nil {
		reqs.Extra = map[string]any{}
	}
	reqs.Extra["quoteToken"] = token

	return jsonResponse(http.StatusPaymentRequired, x402.PaymentRequired{
		X402Version: x402.Version,
		Error:       errMsg,
		Accepts:     []x402.PaymentRequirements{reqs},
	})
}

func attachReceipt(resp *domain.ProxyResponse, receipt x402.SettleReceipt) {
	encoded, err := x402.EncodeReceipt(receipt)
	if err != nil {
		return
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Set(x402.PaymentResponseHeader, encoded)
}

func errorResponse(status int, msg, reason, code string) domain.ProxyResponse {
	return jsonResponse(status, domain.ErrorBody{Error: msg, Reason: reason, Code: code})
}

func internalError() domain.ProxyResponse {
	metrics.RequestsTotal.WithLabelValues(metrics.OutcomeError).Inc()
	return errorResponse(http.StatusInternalServerError, "internal error", "", domain.CodeInternal)
}

func jsonResponse(status int, v any) domain.ProxyResponse {
	body, _ := json.Marshal(v)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return domain.ProxyResponse{StatusCode: status, Header: header, Body: body}
}
