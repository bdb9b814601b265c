package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// suitable for the X-Payment header.
func EncodePayment(payment PaymentPayload) (string, error) {
	raw, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayment converts a base64-encoded JSON string to a PaymentPayload.
func DecodePayment(encoded string) (PaymentPayload, error) {
	var payment PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	return payment, nil
}

// EncodeReceipt converts a SettleReceipt to a base64-encoded JSON string
// suitable for the X-Payment-Response header.
func EncodeReceipt(receipt SettleReceipt) (string, error) {
	raw, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeReceipt converts a base64-encoded JSON string to a SettleReceipt.
func DecodeReceipt(encoded string) (SettleReceipt, error) {
	var receipt SettleReceipt

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return receipt, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &receipt); err != nil {
		return receipt, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	return receipt, nil
}
