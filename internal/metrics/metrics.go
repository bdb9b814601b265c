// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402gate_requests_total",
		Help: "Proxied requests by terminal outcome.",
	}, []string{"outcome"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402gate_settlements_total",
		Help: "Facilitator settlement attempts by result.",
	}, []string{"result"})

	EscrowReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402gate_escrow_released_total",
		Help: "Escrow holdings released by the sweep.",
	})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402gate_webhook_deliveries_total",
		Help: "Webhook deliveries by result.",
	}, []string{"result"})

	UpstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "x402gate_upstream_latency_seconds",
		Help:    "Latency of successful upstream forwards.",
		Buckets: prometheus.DefBuckets,
	})
)

// Request outcomes.
const (
	OutcomeChallenge  = "challenge"
	OutcomeFree       = "free"
	OutcomePaid       = "paid"
	OutcomeDuplicate  = "duplicate"
	OutcomeDenied     = "denied"
	OutcomeVerifyFail = "verify_failed"
	OutcomeSettleFail = "settle_failed"
	OutcomeUpstream   = "upstream_failed"
	OutcomeError      = "error"
)
