package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402gate/x402gate/internal/clock"
	"github.com/x402gate/x402gate/internal/config"
	"github.com/x402gate/x402gate/internal/x402"
	"go.uber.org/zap"
)

func testRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base",
		MaxAmountRequired: "10000",
		Resource:          "/weather",
		PayTo:             "0xMerchant",
		MaxTimeoutSeconds: 60,
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}
}

func testPayload() x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      "exact",
		Network:     "base",
		Payload: x402.ExactPayload{
			Signature: "0xsig",
			Authorization: x402.Authorization{
				From:        "0xpayer",
				To:          "0xMerchant",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "9999999999",
				Nonce:       "0xnonce-1",
			},
		},
	}
}

func TestSimulatedVerify(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sim := NewSimulated(clk, zap.NewNop())
	ctx := context.Background()

	t.Run("valid proof", func(t *testing.T) {
		res, err := sim.Verify(ctx, testPayload(), testRequirements())
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, "0xpayer", res.Payer)
	})

	t.Run("scheme mismatch", func(t *testing.T) {
		payload := testPayload()
		payload.Scheme = "upto"
		res, err := sim.Verify(ctx, payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonSchemeMismatch, res.Reason)
	})

	t.Run("network mismatch", func(t *testing.T) {
		payload := testPayload()
		payload.Network = "avalanche"
		res, err := sim.Verify(ctx, payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonNetworkMismatch, res.Reason)
	})

	t.Run("underfunded authorization", func(t *testing.T) {
		payload := testPayload()
		payload.Payload.Authorization.Value = "9999"
		res, err := sim.Verify(ctx, payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonInsufficientFunds, res.Reason)
	})

	t.Run("expired authorization", func(t *testing.T) {
		payload := testPayload()
		payload.Payload.Authorization.ValidBefore = "100"
		res, err := sim.Verify(ctx, payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonExpired, res.Reason)
	})

	t.Run("missing signature", func(t *testing.T) {
		payload := testPayload()
		payload.Payload.Signature = ""
		res, err := sim.Verify(ctx, payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonInvalidSignature, res.Reason)
	})
}

func TestSimulatedSettleIsDeterministic(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sim := NewSimulated(clk, zap.NewNop())
	ctx := context.Background()

	first, err := sim.Settle(ctx, testPayload(), testRequirements())
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.NotEmpty(t, first.Transaction)
	assert.Equal(t, "base", first.Network)

	second, err := sim.Settle(ctx, testPayload(), testRequirements())
	require.NoError(t, err)
	assert.Equal(t, first.Transaction, second.Transaction)
}

func TestQuoteSigner(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	signer := NewQuoteSigner("secret", 5*time.Minute, clk)
	reqs := testRequirements()

	token, err := signer.Sign(reqs)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		assert.NoError(t, signer.Validate(token, reqs))
	})

	t.Run("tampered requirements", func(t *testing.T) {
		changed := reqs
		changed.MaxAmountRequired = "1"
		assert.ErrorIs(t, signer.Validate(token, changed), ErrQuoteInvalid)
	})

	t.Run("tampered token", func(t *testing.T) {
		assert.ErrorIs(t, signer.Validate(token+"x", reqs), ErrQuoteInvalid)
		assert.ErrorIs(t, signer.Validate("no-dot", reqs), ErrQuoteInvalid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewQuoteSigner("other", 5*time.Minute, clk)
		assert.ErrorIs(t, other.Validate(token, reqs), ErrQuoteInvalid)
	})

	t.Run("expired token", func(t *testing.T) {
		clk.Advance(6 * time.Minute)
		assert.ErrorIs(t, signer.Validate(token, reqs), ErrQuoteExpired)
	})
}

func TestValidatingRejectsBeforeInner(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	signer := NewQuoteSigner("secret", 5*time.Minute, clk)
	fac := NewValidating(NewSimulated(clk, zap.NewNop()), signer)
	ctx := context.Background()
	reqs := testRequirements()

	t.Run("missing token", func(t *testing.T) {
		res, err := fac.Verify(ctx, testPayload(), reqs)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonQuoteInvalid, res.Reason)
	})

	t.Run("valid token passes through", func(t *testing.T) {
		token, err := signer.Sign(reqs)
		require.NoError(t, err)
		payload := testPayload()
		payload.QuoteToken = token

		res, err := fac.Verify(ctx, payload, reqs)
		require.NoError(t, err)
		assert.True(t, res.Valid)
	})

	t.Run("expired token rejected at settle", func(t *testing.T) {
		token, err := signer.Sign(reqs)
		require.NoError(t, err)
		payload := testPayload()
		payload.QuoteToken = token

		clk.Advance(10 * time.Minute)
		res, err := fac.Settle(ctx, payload, reqs)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, ReasonQuoteExpired, res.Reason)
	})
}

func remoteConfig(url string) config.FacilitatorConfig {
	return config.FacilitatorConfig{
		URL:           url,
		AuthToken:     "token-123",
		VerifyTimeout: 2 * time.Second,
		SettleTimeout: 2 * time.Second,
	}
}

func TestRemoteVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify", r.URL.Path)
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, x402.Version, req.X402Version)
		assert.Equal(t, "10000", req.PaymentRequirements.MaxAmountRequired)

		json.NewEncoder(w).Encode(verifyResponse{IsValid: true, Payer: "0xpayer"})
	}))
	defer srv.Close()

	remote := NewRemote(remoteConfig(srv.URL), zap.NewNop())
	res, err := remote.Verify(context.Background(), testPayload(), testRequirements())
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "0xpayer", res.Payer)
}

func TestRemoteVerifyRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(verifyResponse{IsValid: false, InvalidReason: "insufficient_funds"})
	}))
	defer srv.Close()

	remote := NewRemote(remoteConfig(srv.URL), zap.NewNop())
	res, err := remote.Verify(context.Background(), testPayload(), testRequirements())
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonInsufficientFunds, res.Reason)
}

func TestRemoteSettle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settle", r.URL.Path)
		json.NewEncoder(w).Encode(settleResponse{
			Success:     true,
			Transaction: "0xtx",
			Network:     "base",
			Payer:       "0xpayer",
		})
	}))
	defer srv.Close()

	remote := NewRemote(remoteConfig(srv.URL), zap.NewNop())
	res, err := remote.Settle(context.Background(), testPayload(), testRequirements())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xtx", res.Transaction)
}

func TestRemoteUnavailableIsStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	srv.Close()

	remote := NewRemote(remoteConfig(srv.URL), zap.NewNop())

	verify, err := remote.Verify(context.Background(), testPayload(), testRequirements())
	require.NoError(t, err)
	assert.False(t, verify.Valid)
	assert.Equal(t, ReasonUnavailable, verify.Reason)

	settle, err := remote.Settle(context.Background(), testPayload(), testRequirements())
	require.NoError(t, err)
	assert.False(t, settle.Success)
	assert.Equal(t, ReasonUnavailable, settle.Reason)
}

func TestSimulatedSupportedNetworks(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sim := NewSimulated(clk, zap.NewNop())

	networks, err := sim.SupportedNetworks(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, x402.KnownNetworks(), networks)
	assert.Contains(t, networks, "base")
}

func TestRemoteSupportedNetworks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/supported", r.URL.Path)
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		w.Write([]byte(`{"kinds":[
			{"scheme":"exact","network":"base"},
			{"scheme":"exact","network":"base-sepolia"},
			{"scheme":"upto","network":"base"}
		]}`))
	}))
	defer srv.Close()

	remote := NewRemote(remoteConfig(srv.URL), zap.NewNop())
	networks, err := remote.SupportedNetworks(context.Background())
	require.NoError(t, err)
	// Networks repeated across schemes collapse to one entry.
	assert.Equal(t, []string{"base", "base-sepolia"}, networks)
}

func TestRemoteSupportedNetworksUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	remote := NewRemote(remoteConfig(srv.URL), zap.NewNop())
	_, err := remote.SupportedNetworks(context.Background())
	assert.Error(t, err)
}

func TestCDPSettleWireShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "key-id", r.Header.Get("X-Api-Key-Id"))
		json.NewEncoder(w).Encode(cdpSettleResponse{
			TransactionHash: "0xtx",
			Status:          "confirmed",
		})
	}))
	defer srv.Close()

	cfg := remoteConfig(srv.URL)
	cfg.CDPAPIKeyID = "key-id"
	cfg.CDPAPISecret = "key-secret"

	cdp := NewCDP(cfg, zap.NewNop())
	res, err := cdp.Settle(context.Background(), testPayload(), testRequirements())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xtx", res.Transaction)
	assert.Equal(t, "base", res.Network)
}
