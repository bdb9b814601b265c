package facilitator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math/big"
	"strconv"

	"github.com/x402gate/x402gate/internal/clock"
	"github.com/x402gate/x402gate/internal/x402"
	"go.uber.org/zap"
)

// Simulated is an in-process facilitator for development and tests. It
// enforces the same structural checks a real facilitator would (scheme,
// network, amount, authorization window) and derives settlement outcomes
// deterministically from the authorization nonce, so a given proof always
// verifies and settles the same way.
type Simulated struct {
	clock clock.Clock
	log   *zap.Logger

	// FailPercent injects pseudo-random settlement failures for otherwise
	// valid proofs. Zero means every valid proof settles.
	FailPercent int
}

func NewSimulated(clk clock.Clock, log *zap.Logger) *Simulated {
	return &Simulated{
		clock: clk,
		log:   log.Named("facilitator.simulated"),
	}
}

func (s *Simulated) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (VerifyResult, error) {
	if reason := s.check(payload, reqs); reason != "" {
		return VerifyResult{Valid: false, Reason: reason}, nil
	}
	return VerifyResult{Valid: true, Payer: payload.PayerAddress()}, nil
}

func (s *Simulated) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (SettleResult, error) {
	if reason := s.check(payload, reqs); reason != "" {
		return SettleResult{Success: false, Reason: reason}, nil
	}
	if s.FailPercent > 0 && rollPercent(payload.Payload.Authorization.Nonce) < s.FailPercent {
		return SettleResult{Success: false, Reason: ReasonSettleFailed}, nil
	}
	return SettleResult{
		Success:     true,
		Transaction: syntheticTxHash(payload.Payload.Authorization.Nonce),
		Network:     payload.Network,
		Payer:       payload.PayerAddress(),
	}, nil
}

// SupportedNetworks reports every network with a configured default asset:
// the simulator settles anything it knows an asset for.
func (s *Simulated) SupportedNetworks(ctx context.Context) ([]string, error) {
	return x402.KnownNetworks(), nil
}

// check runs the structural validations shared by verify and settle.
// Scheme and network mismatches are hard rejections regardless of any
// configured failure injection.
func (s *Simulated) check(payload x402.PaymentPayload, reqs x402.PaymentRequirements) string {
	if payload.Scheme != reqs.Scheme {
		return ReasonSchemeMismatch
	}
	if payload.Network != reqs.Network {
		return ReasonNetworkMismatch
	}
	auth := payload.Payload.Authorization
	if payload.Payload.Signature == "" || auth.From == "" {
		return ReasonInvalidSignature
	}

	required, ok := new(big.Int).SetString(reqs.MaxAmountRequired, 10)
	if !ok {
		return ReasonQuoteInvalid
	}
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || value.Cmp(required) < 0 {
		return ReasonInsufficientFunds
	}

	if auth.ValidBefore != "" {
		validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
		if err != nil || validBefore < s.clock.Now().Unix() {
			return ReasonExpired
		}
	}
	return ""
}

func rollPercent(nonce string) int {
	h := fnv.New32a()
	h.Write([]byte(nonce))
	return int(h.Sum32() % 100)
}

func syntheticTxHash(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return "0x" + hex.EncodeToString(sum[:])
}
