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

// CDP speaks the Coinbase Developer Platform facilitator dialect. It differs
// from the standard wire in field names only: verification answers
// {valid, reason} and settlement answers {transactionHash, status}.
type CDP struct {
	baseURL       string
	apiKeyID      string
	apiSecret     string
	client        *http.Client
	verifyTimeout time.Duration
	settleTimeout time.Duration
	log           *zap.Logger
}

func NewCDP(cfg config.FacilitatorConfig, log *zap.Logger) *CDP {
	return &CDP{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		apiKeyID:      cfg.CDPAPIKeyID,
		apiSecret:     cfg.CDPAPISecret,
		client:        &http.Client{},
		verifyTimeout: cfg.VerifyTimeout,
		settleTimeout: cfg.SettleTimeout,
		log:           log.Named("facilitator.cdp"),
	}
}

type cdpVerifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Payer  string `json:"payer,omitempty"`
}

type cdpSettleResponse struct {
	TransactionHash string `json:"transactionHash,omitempty"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	Network         string `json:"network,omitempty"`
	Payer           string `json:"payer,omitempty"`
}

func (c *CDP) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (VerifyResult, error) {
	var out cdpVerifyResponse
	if err := c.post(ctx, "/verify", c.verifyTimeout, payload, reqs, &out); err != nil {
		c.log.Warn("verify call failed", zap.Error(err))
		return VerifyResult{Valid: false, Reason: ReasonUnavailable}, nil
	}
	res := VerifyResult{Valid: out.Valid, Payer: out.Payer}
	if !res.Valid {
		res.Reason = normalizeReason(out.Reason, ReasonInvalidSignature)
	}
	return res, nil
}

func (c *CDP) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (SettleResult, error) {
	var out cdpSettleResponse
	if err := c.post(ctx, "/settle", c.settleTimeout, payload, reqs, &out); err != nil {
		c.log.Warn("settle call failed", zap.Error(err))
		return SettleResult{Success: false, Reason: ReasonUnavailable}, nil
	}
	res := SettleResult{
		Success:     strings.EqualFold(out.Status, "confirmed") || strings.EqualFold(out.Status, "success"),
		Transaction: out.TransactionHash,
		Network:     out.Network,
		Payer:       out.Payer,
	}
	if res.Network == "" {
		res.Network = payload.Network
	}
	if !res.Success {
		res.Reason = normalizeReason(out.Reason, ReasonSettleFailed)
	}
	return res, nil
}

func (c *CDP) SupportedNetworks(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key-Id", c.apiKeyID)
	req.Header.Set("X-Api-Secret", c.apiSecret)

	resp, err := c.client.Do(req)
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

func (c *CDP) post(ctx context.Context, path string, timeout time.Duration, payload x402.PaymentPayload, reqs x402.PaymentRequirements, out any) error {
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key-Id", c.apiKeyID)
	req.Header.Set("X-Api-Secret", c.apiSecret)

	resp, err := c.client.Do(req)
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
