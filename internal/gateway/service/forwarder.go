package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/x402gate/x402gate/internal/config"
	domain "github.com/x402gate/x402gate/internal/gateway/domain"
	"github.com/x402gate/x402gate/internal/x402"
	"go.uber.org/zap"
)

// Forwarder delivers the admitted request to the endpoint's upstream.
// Transport failures retry with exponential backoff up to the configured cap;
// any response the upstream manages to return, success or not, is final and
// passed through unchanged.
type Forwarder struct {
	client      *http.Client
	maxAttempts int
	backoffBase time.Duration
	log         *zap.Logger
}

func NewForwarder(cfg config.GatewayConfig, log *zap.Logger) *Forwarder {
	maxAttempts := cfg.ForwardMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Forwarder{
		client:      &http.Client{Timeout: cfg.ForwardTimeout},
		maxAttempts: maxAttempts,
		backoffBase: cfg.ForwardBackoffBase,
		log:         log.Named("gateway.forwarder"),
	}
}

func (f *Forwarder) Forward(ctx context.Context, upstreamURL string, in domain.ProxyRequest) (*domain.ProxyResponse, error) {
	var lastErr error
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := f.backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := f.attempt(ctx, upstreamURL, in)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		f.log.Warn("upstream forward attempt failed",
			zap.String("upstream", upstreamURL),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func (f *Forwarder) attempt(ctx context.Context, upstreamURL string, in domain.ProxyRequest) (*domain.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, in.Method, upstreamURL, bytes.NewReader(in.Body))
	if err != nil {
		return nil, err
	}
	copyForwardHeaders(req.Header, in.Header)
	if in.ClientIP != "" {
		req.Header.Set("X-Forwarded-For", in.ClientIP)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	out := &domain.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     http.Header{},
		Body:       body,
	}
	for k, vs := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vs {
			out.Header.Add(k, v)
		}
	}
	return out, nil
}

// copyForwardHeaders passes caller headers through minus hop-by-hop headers
// and the payment proof itself.
func copyForwardHeaders(dst, src http.Header) {
	for k, vs := range src {
		if isHopByHop(k) || strings.EqualFold(k, x402.PaymentHeader) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade", "Host":
		return true
	}
	return false
}
