package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{name: "cent of usdc", amount: "0.01", decimals: 6, want: "10000"},
		{name: "whole unit", amount: "1", decimals: 6, want: "1000000"},
		{name: "zero", amount: "0", decimals: 6, want: "0"},
		{name: "full precision", amount: "0.000001", decimals: 6, want: "1"},
		{name: "large", amount: "12345.678901", decimals: 6, want: "12345678901"},
		{name: "negative", amount: "-1", decimals: 6, wantErr: true},
		{name: "too precise", amount: "0.0000001", decimals: 6, wantErr: true},
		{name: "not a number", amount: "abc", decimals: 6, wantErr: true},
		{name: "empty", amount: "", decimals: 6, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AtomicAmount(tt.amount, tt.decimals)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPaymentRoundTrip(t *testing.T) {
	payment := PaymentPayload{
		X402Version: Version,
		Scheme:      "exact",
		Network:     "base",
		Payload: ExactPayload{
			Signature: "0xsig",
			Authorization: Authorization{
				From:        "0xPayer",
				To:          "0xMerchant",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "9999999999",
				Nonce:       "0xabc",
			},
		},
		QuoteToken: "token",
	}

	encoded, err := EncodePayment(payment)
	require.NoError(t, err)

	decoded, err := DecodePayment(encoded)
	require.NoError(t, err)
	assert.Equal(t, payment, decoded)
	assert.Equal(t, "0xPayer", decoded.PayerAddress())
}

func TestDecodePaymentRejectsGarbage(t *testing.T) {
	_, err := DecodePayment("not base64!!")
	assert.Error(t, err)

	_, err = DecodePayment("bm90IGpzb24=")
	assert.Error(t, err)
}

func TestDefaultAsset(t *testing.T) {
	asset, err := DefaultAsset("base")
	require.NoError(t, err)
	assert.Equal(t, "USDC", asset.Symbol)
	assert.Equal(t, 6, asset.Decimals)

	_, err = DefaultAsset("dogechain")
	assert.ErrorIs(t, err, ErrUnsupportedNetwork)
}
