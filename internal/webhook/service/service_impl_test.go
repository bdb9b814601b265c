package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402gate/x402gate/internal/clock"
	"github.com/x402gate/x402gate/internal/config"
	"github.com/x402gate/x402gate/internal/migration"
	domain "github.com/x402gate/x402gate/internal/webhook/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *snowflake.Node) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "gate.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(migration.Models()...))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		Webhook: config.WebhookConfig{
			DeliveryTimeout: 2 * time.Second,
			QueueSize:       32,
			Workers:         2,
			RetryDelays:     []time.Duration{5 * time.Millisecond},
		},
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(ServiceParam{DB: gdb, Log: zap.NewNop(), Cfg: cfg, Clock: clk, GenID: node})
	svc.Start()
	t.Cleanup(svc.Stop)
	return svc, node
}

func TestDeliverySignsPayload(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	orgID := node.Generate()

	type captured struct {
		body      []byte
		signature string
		timestamp string
		eventType string
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			body:      body,
			signature: r.Header.Get(SignatureHeader),
			timestamp: r.Header.Get(TimestampHeader),
			eventType: r.Header.Get(EventHeader),
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, err := svc.Create(ctx, domain.CreateEndpointRequest{
		OrgID:  orgID.String(),
		URL:    srv.URL,
		Secret: "whsec-1",
	})
	require.NoError(t, err)

	svc.Broadcast(orgID, domain.EventPaymentConfirmed, map[string]any{"requestId": "req-1"})

	select {
	case c := <-got:
		assert.Equal(t, domain.EventPaymentConfirmed, c.eventType)
		assert.Equal(t, Sign("whsec-1", c.timestamp, c.body), c.signature)

		var event domain.Event
		require.NoError(t, json.Unmarshal(c.body, &event))
		assert.NotEmpty(t, event.ID)
		assert.Equal(t, domain.EventPaymentConfirmed, event.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestFailingEndpointIsolated(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	orgID := node.Generate()

	var delivered atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	goodEp, err := svc.Create(ctx, domain.CreateEndpointRequest{
		OrgID: orgID.String(), URL: good.URL, Secret: "whsec-good",
	})
	require.NoError(t, err)
	badEp, err := svc.Create(ctx, domain.CreateEndpointRequest{
		OrgID: orgID.String(), URL: bad.URL, Secret: "whsec-bad",
	})
	require.NoError(t, err)

	svc.Broadcast(orgID, domain.EventEscrowReleased, map[string]any{"holdingId": "h-1"})

	require.Eventually(t, func() bool {
		endpoints, err := svc.List(ctx, orgID)
		if err != nil {
			return false
		}
		var goodFailures, badFailures = -1, -1
		for _, ep := range endpoints {
			switch ep.ID {
			case goodEp.ID:
				goodFailures = ep.ConsecutiveFailures
			case badEp.ID:
				badFailures = ep.ConsecutiveFailures
			}
		}
		return goodFailures == 0 && badFailures == 1 && delivered.Load() == 1
	}, 5*time.Second, 20*time.Millisecond)

	// last_delivery_at marks actual receipt: set for the healthy subscriber,
	// never stamped for the one that only failed.
	endpoints, err := svc.List(ctx, orgID)
	require.NoError(t, err)
	for _, ep := range endpoints {
		switch ep.ID {
		case goodEp.ID:
			assert.NotNil(t, ep.LastDeliveryAt)
		case badEp.ID:
			assert.Nil(t, ep.LastDeliveryAt)
		}
	}
}

func TestEventTypeFilter(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	orgID := node.Generate()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := svc.Create(ctx, domain.CreateEndpointRequest{
		OrgID:      orgID.String(),
		URL:        srv.URL,
		Secret:     "whsec-1",
		EventTypes: []string{domain.EventEscrowReleased},
	})
	require.NoError(t, err)

	svc.Broadcast(orgID, domain.EventPaymentConfirmed, nil)
	svc.Broadcast(orgID, domain.EventEscrowReleased, nil)

	require.Eventually(t, func() bool {
		return hits.Load() == 1
	}, 3*time.Second, 20*time.Millisecond)
	// The filtered event never lands.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, hits.Load())
}

func TestCreateValidation(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateEndpointRequest{
		OrgID: node.Generate().String(), URL: "not a url", Secret: "s",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEndpoint)

	_, err = svc.Create(ctx, domain.CreateEndpointRequest{
		OrgID: node.Generate().String(), URL: "https://example.com/hook",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEndpoint)
}
