package facilitator

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/x402gate/x402gate/internal/clock"
	"github.com/x402gate/x402gate/internal/x402"
)

var (
	ErrQuoteExpired = errors.New("quote_expired")
	ErrQuoteInvalid = errors.New("quote_invalid")
)

// QuoteSigner issues and validates signed quote tokens. A token pins the
// exact requirements a 402 challenge advertised so a later proof cannot pay a
// stale or tampered price.
type QuoteSigner struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewQuoteSigner(secret string, ttl time.Duration, clk clock.Clock) *QuoteSigner {
	return &QuoteSigner{secret: []byte(secret), ttl: ttl, clock: clk}
}

type quoteClaims struct {
	Scheme    string `json:"scheme"`
	Network   string `json:"network"`
	Amount    string `json:"amount"`
	Resource  string `json:"resource"`
	PayTo     string `json:"payTo"`
	Asset     string `json:"asset"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Sign issues a token binding the given requirements. Callers embed the token
// in the challenge's extra data; payers echo it back in their proof.
func (q *QuoteSigner) Sign(reqs x402.PaymentRequirements) (string, error) {
	now := q.clock.Now()
	claims := quoteClaims{
		Scheme:    reqs.Scheme,
		Network:   reqs.Network,
		Amount:    reqs.MaxAmountRequired,
		Resource:  reqs.Resource,
		PayTo:     reqs.PayTo,
		Asset:     reqs.Asset,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(q.ttl).Unix(),
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + q.signature(payload), nil
}

// Validate checks the token's signature and expiry and verifies that it binds
// the same requirements the proof is paying against.
func (q *QuoteSigner) Validate(token string, reqs x402.PaymentRequirements) error {
	payload, sig, ok := splitToken(token)
	if !ok {
		return ErrQuoteInvalid
	}
	if !hmac.Equal([]byte(q.signature(payload)), []byte(sig)) {
		return ErrQuoteInvalid
	}

	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return ErrQuoteInvalid
	}
	var claims quoteClaims
	if err := json.Unmarshal(body, &claims); err != nil {
		return ErrQuoteInvalid
	}

	if q.clock.Now().Unix() > claims.ExpiresAt {
		return ErrQuoteExpired
	}
	if claims.Scheme != reqs.Scheme ||
		claims.Network != reqs.Network ||
		claims.Amount != reqs.MaxAmountRequired ||
		claims.Resource != reqs.Resource ||
		claims.PayTo != reqs.PayTo ||
		claims.Asset != reqs.Asset {
		return ErrQuoteInvalid
	}
	return nil
}

func (q *QuoteSigner) signature(payload string) string {
	mac := hmac.New(sha256.New, q.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func splitToken(token string) (payload, sig string, ok bool) {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}
