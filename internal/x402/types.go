// Package x402 implements the wire types of the HTTP 402 payment-challenge
// protocol: the challenge body, the payment-proof header payload and the
// settlement receipt returned to paying callers.
package x402

import "math/big"

// Version is the protocol version carried in every envelope.
const Version = 1

// Header names used on the proxied request path.
const (
	PaymentHeader         = "X-Payment"
	PaymentResponseHeader = "X-Payment-Response"
	RequestIDHeader       = "X-Request-Id"
	PayerAddressHeader    = "X-Payer-Address"
)

// PaymentRequirements defines a single acceptable payment option. It is
// derived fresh per request from the endpoint and its current price quote,
// echoed back by the caller inside the payment proof.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the settlement network (e.g., "base").
	Network string `json:"network"`

	// MaxAmountRequired is the price in the asset's smallest unit.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Resource is the path of the protected resource.
	Resource string `json:"resource"`

	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Asset is the token contract address used to pay.
	Asset string `json:"asset"`

	// Extra carries scheme-specific additional data, including the signed
	// quote token the caller must echo back.
	Extra map[string]any `json:"extra,omitempty"`
}

// PaymentRequired is the 402 response body.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// ExactPayload carries EIP-3009 authorization data for the "exact" scheme.
type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Authorization contains transferWithAuthorization parameters.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PaymentPayload is the decoded X-Payment header.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`

	// QuoteToken pins the signed quote the caller intends to pay.
	QuoteToken string `json:"quoteToken,omitempty"`
}

// PayerAddress returns the payer identity carried in the proof.
func (p PaymentPayload) PayerAddress() string {
	return p.Payload.Authorization.From
}

// SettleReceipt is the decoded X-Payment-Response header.
type SettleReceipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Amount      string `json:"amount,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// AtomicAmount converts a decimal amount string to its representation in
// atomic units. For example, "0.01" with 6 decimals becomes "10000".
// Returns ErrInvalidAmount for negative amounts or fractions that do not fit
// the given precision.
func AtomicAmount(amount string, decimals int) (string, error) {
	if decimals < 0 {
		return "", ErrInvalidAmount
	}

	value := new(big.Rat)
	if _, ok := value.SetString(amount); !ok {
		return "", ErrInvalidAmount
	}
	if value.Sign() < 0 {
		return "", ErrInvalidAmount
	}

	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, scale)

	if value.Denom().Cmp(big.NewInt(1)) != 0 {
		return "", ErrInvalidAmount
	}
	return value.Num().String(), nil
}
