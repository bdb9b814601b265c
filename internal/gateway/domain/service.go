// Package domain defines the request pipeline contract: one inbound call to
// a proxied path yields exactly one of a payment challenge, a forwarded
// upstream response, or a structured error.
package domain

import (
	"context"
	"net/http"
)

// Machine-readable error codes carried in structured error bodies.
const (
	CodeEndpointNotFound = "ENDPOINT_NOT_FOUND"
	CodeEndpointInactive = "ENDPOINT_INACTIVE"
	CodePriceUnavailable = "PRICE_UNAVAILABLE"
	CodeCompliance       = "COMPLIANCE_VIOLATION"
	CodeSettlementFailed = "SETTLEMENT_FAILED"
	CodeUpstreamFailed   = "UPSTREAM_DELIVERY_FAILED"
	CodePaymentTerminal  = "PAYMENT_TERMINAL"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorBody is the structured error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code"`
}

// ProxyRequest is one inbound call to a protected path.
type ProxyRequest struct {
	Method   string
	Path     string
	Header   http.Header
	Body     []byte
	ClientIP string
}

// ProxyResponse is the terminal outcome returned to the caller. Body is
// already encoded; Header carries passthrough and receipt headers.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Service is the gateway orchestrator.
type Service interface {
	// Proxy runs the full pipeline. It never returns an error: every failure
	// mode maps to a structured response.
	Proxy(ctx context.Context, req ProxyRequest) ProxyResponse
}
