// Package facilitator adapts the gateway to an external payment facilitator.
// Every variant maps transport and protocol failures into structured
// verification and settlement results so the request pipeline never has to
// interpret raw errors.
package facilitator

import (
	"context"

	"github.com/x402gate/x402gate/internal/x402"
)

// Rejection reasons surfaced to callers. Variants translate their native
// error vocabulary into these.
const (
	ReasonInvalidSignature  = "invalid_signature"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonExpired           = "authorization_expired"
	ReasonSchemeMismatch    = "scheme_mismatch"
	ReasonNetworkMismatch   = "network_mismatch"
	ReasonQuoteExpired      = "quote_expired"
	ReasonQuoteInvalid      = "quote_invalid"
	ReasonUnavailable       = "facilitator_unavailable"
	ReasonSettleFailed      = "settlement_failed"
)

// VerifyResult is the structured outcome of a verification call. Valid=false
// always carries a Reason.
type VerifyResult struct {
	Valid  bool
	Reason string

	// Payer is the verified payer address when available.
	Payer string
}

// SettleResult is the structured outcome of a settlement call. Success=false
// always carries a Reason.
type SettleResult struct {
	Success     bool
	Reason      string
	Transaction string
	Network     string
	Payer       string
}

// Facilitator verifies payment proofs against requirements and settles
// verified payments on chain.
type Facilitator interface {
	Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (VerifyResult, error)
	Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (SettleResult, error)

	// SupportedNetworks reports the networks the facilitator can settle on.
	SupportedNetworks(ctx context.Context) ([]string, error)
}

// supportedResponse is the wire shape of the capability discovery endpoint:
// a list of scheme/network pairs the facilitator accepts.
type supportedResponse struct {
	Kinds []struct {
		Scheme  string `json:"scheme"`
		Network string `json:"network"`
	} `json:"kinds"`
}

func (s supportedResponse) networks() []string {
	seen := map[string]bool{}
	var networks []string
	for _, kind := range s.Kinds {
		if kind.Network == "" || seen[kind.Network] {
			continue
		}
		seen[kind.Network] = true
		networks = append(networks, kind.Network)
	}
	return networks
}
