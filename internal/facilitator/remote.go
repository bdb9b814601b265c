package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/x402gate/x402gate/internal/config"
	"github.com/x402gate/x402gate/internal/x402"
	"go.uber.org/zap"
)

// Remote talks the standard facilitator wire protocol over HTTPS. Transport
// failures and non-2xx responses degrade to structured rejections instead of
// propagating as errors.
type Remote struct {
	baseURL       string
	authToken     string
	client        *http.Client
	verifyTimeout time.Duration
	settleTimeout time.Duration
	log           *zap.Logger
}

func NewRemote(cfg config.FacilitatorConfig, log *zap.Logger) *Remote {
	return &Remote{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		authToken:     cfg.AuthToken,
		client:        &http.Client{},
		verifyTimeout: cfg.VerifyTimeout,
		settleTimeout: cfg.SettleTimeout,
		log:           log.Named("facilitator.remote"),
	}
}

type wireRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

type verifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

type settleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

func (r *Remote) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (VerifyResult, error) {
	var out verifyResponse
	if err := r.post(ctx, "/verify", r.verifyTimeout, payload, reqs, &out); err != nil {
		r.log.Warn("verify call failed", zap.Error(err))
		return VerifyResult{Valid: false, Reason: ReasonUnavailable}, nil
	}
	res := VerifyResult{Valid: out.IsValid, Payer: out.Payer}
	if !res.Valid {
		res.Reason = normalizeReason(out.InvalidReason, ReasonInvalidSignature)
	}
	return res, nil
}

func (r *Remote) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (SettleResult, error) {
	var out settleResponse
	if err := r.post(ctx, "/settle", r.settleTimeout, payload, reqs, &out); err != nil {
		r.log.Warn("settle call failed", zap.Error(err))
		return SettleResult{Success: false, Reason: ReasonUnavailable}, nil
	}
	res := SettleResult{
		Success:     out.Success,
		Transaction: out.Transaction,
		Network:     out.Network,
		Payer:       out.Payer,
	}
	if !res.Success {
		res.Reason = normalizeReason(out.ErrorReason, ReasonSettleFailed)
	}
	return res, nil
}

func (r *Remote) SupportedNetworks(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call facilitator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("facilitator returned status %d", resp.StatusCode)
	}
	var out supportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.networks(), nil
}

func (r *Remote) post(ctx context.Context, path string, timeout time.Duration, payload x402.PaymentPayload, reqs x402.PaymentRequirements, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(wireRequest{
		X402Version:         x402.Version,
		PaymentPayload:      payload,
		PaymentRequirements: reqs,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("call facilitator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("facilitator returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// normalizeReason maps a facilitator-provided reason onto our vocabulary,
// falling back to def for anything unrecognized or empty.
func normalizeReason(raw, def string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "invalid_signature", "invalid_exact_evm_payload_signature":
		return ReasonInvalidSignature
	case "insufficient_funds", "insufficient_balance":
		return ReasonInsufficientFunds
	case "expired", "authorization_expired", "invalid_exact_evm_payload_authorization_valid_before":
		return ReasonExpired
	case "scheme_mismatch", "invalid_scheme":
		return ReasonSchemeMismatch
	case "network_mismatch", "invalid_network":
		return ReasonNetworkMismatch
	case "":
		return def
	default:
		return def
	}
}
