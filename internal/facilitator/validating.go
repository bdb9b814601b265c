package facilitator

import (
	"context"
	"errors"

	"github.com/x402gate/x402gate/internal/x402"
)

// Validating wraps a facilitator and rejects proofs whose quote token is
// missing, tampered or expired before the inner variant is consulted. Quote
// enforcement lives here so the request pipeline treats stale quotes like any
// other verification rejection.
type Validating struct {
	inner  Facilitator
	signer *QuoteSigner
}

func NewValidating(inner Facilitator, signer *QuoteSigner) *Validating {
	return &Validating{inner: inner, signer: signer}
}

func (v *Validating) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (VerifyResult, error) {
	if reason := v.checkQuote(payload, reqs); reason != "" {
		return VerifyResult{Valid: false, Reason: reason}, nil
	}
	return v.inner.Verify(ctx, payload, reqs)
}

func (v *Validating) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (SettleResult, error) {
	if reason := v.checkQuote(payload, reqs); reason != "" {
		return SettleResult{Success: false, Reason: reason}, nil
	}
	return v.inner.Settle(ctx, payload, reqs)
}

func (v *Validating) SupportedNetworks(ctx context.Context) ([]string, error) {
	return v.inner.SupportedNetworks(ctx)
}

func (v *Validating) checkQuote(payload x402.PaymentPayload, reqs x402.PaymentRequirements) string {
	if payload.QuoteToken == "" {
		return ReasonQuoteInvalid
	}
	if err := v.signer.Validate(payload.QuoteToken, reqs); err != nil {
		if errors.Is(err, ErrQuoteExpired) {
			return ReasonQuoteExpired
		}
		return ReasonQuoteInvalid
	}
	return ""
}
