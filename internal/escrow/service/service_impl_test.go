package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402gate/x402gate/internal/clock"
	domain "github.com/x402gate/x402gate/internal/escrow/domain"
	"github.com/x402gate/x402gate/internal/migration"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "gate.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(migration.Models()...))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{DB: gdb, Log: zap.NewNop(), Clock: clk, GenID: node})
	return svc, node, clk
}

func openInput(node *snowflake.Node, usageRecordID snowflake.ID) domain.OpenInput {
	return domain.OpenInput{
		OrgID:         node.Generate(),
		EndpointID:    node.Generate(),
		UsageRecordID: usageRecordID,
		Payer:         "0xPayer",
		Amount:        "0.01",
		Currency:      "USDC",
		Network:       "base",
		TxHash:        "0xtx",
		HoldFor:       24 * time.Hour,
	}
}

func TestOpenIsIdempotentPerUsageRecord(t *testing.T) {
	svc, node, _ := newTestService(t)
	ctx := context.Background()
	usageID := node.Generate()

	first, err := svc.Open(ctx, openInput(node, usageID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, first.Status)

	second, err := svc.Open(ctx, openInput(node, usageID))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestReleaseDue(t *testing.T) {
	svc, node, clk := newTestService(t)
	ctx := context.Background()

	mature, err := svc.Open(ctx, openInput(node, node.Generate()))
	require.NoError(t, err)

	// Second holding matures a day later.
	clk.Advance(time.Hour)
	_, err = svc.Open(ctx, openInput(node, node.Generate()))
	require.NoError(t, err)

	clk.Advance(23 * time.Hour)
	released, err := svc.ReleaseDue(ctx, clk.Now(), 100)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, mature.ID, released[0].ID)
	assert.Equal(t, domain.StatusReleased, released[0].Status)
	require.NotNil(t, released[0].ReleasedAt)

	// The sweep is idempotent: a second pass finds nothing.
	released, err = svc.ReleaseDue(ctx, clk.Now(), 100)
	require.NoError(t, err)
	assert.Empty(t, released)

	clk.Advance(2 * time.Hour)
	released, err = svc.ReleaseDue(ctx, clk.Now(), 100)
	require.NoError(t, err)
	assert.Len(t, released, 1)
}

func TestDisputeFreezesRelease(t *testing.T) {
	svc, node, clk := newTestService(t)
	ctx := context.Background()

	holding, err := svc.Open(ctx, openInput(node, node.Generate()))
	require.NoError(t, err)

	disputed, err := svc.Dispute(ctx, holding.ID, "caller claims no delivery")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisputed, disputed.Status)

	clk.Advance(48 * time.Hour)
	released, err := svc.ReleaseDue(ctx, clk.Now(), 100)
	require.NoError(t, err)
	assert.Empty(t, released)

	// Disputing twice is rejected.
	_, err = svc.Dispute(ctx, holding.ID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestResolveDispute(t *testing.T) {
	svc, node, _ := newTestService(t)
	ctx := context.Background()

	holding, err := svc.Open(ctx, openInput(node, node.Generate()))
	require.NoError(t, err)
	_, err = svc.Dispute(ctx, holding.ID, "investigating")
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, holding.ID, domain.StatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, resolved.Status)

	// Terminal states cannot be resolved again.
	_, err = svc.Resolve(ctx, holding.ID, domain.StatusReleased)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Only released/refunded are valid outcomes.
	other, err := svc.Open(ctx, openInput(node, node.Generate()))
	require.NoError(t, err)
	_, err = svc.Dispute(ctx, other.ID, "investigating")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, other.ID, "pending")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSummarize(t *testing.T) {
	svc, node, clk := newTestService(t)
	ctx := context.Background()
	orgID := node.Generate()

	for i := 0; i < 3; i++ {
		in := openInput(node, node.Generate())
		in.OrgID = orgID
		_, err := svc.Open(ctx, in)
		require.NoError(t, err)
	}
	in := openInput(node, node.Generate())
	in.OrgID = orgID
	holding, err := svc.Open(ctx, in)
	require.NoError(t, err)
	_, err = svc.Dispute(ctx, holding.ID, "claim")
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)
	_, err = svc.ReleaseDue(ctx, clk.Now(), 100)
	require.NoError(t, err)

	summary, err := svc.Summarize(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, summary.Pending)
	assert.EqualValues(t, 3, summary.Released)
	assert.EqualValues(t, 1, summary.Disputed)
	assert.Equal(t, "0", summary.PendingAmount)
	assert.Equal(t, "0.03", summary.ReleasedTodayAmount)
	assert.Equal(t, "0", summary.RefundedAmount)

	_, err = svc.Resolve(ctx, holding.ID, domain.StatusRefunded)
	require.NoError(t, err)

	summary, err = svc.Summarize(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Refunded)
	assert.EqualValues(t, 0, summary.Disputed)
	assert.Equal(t, "0.01", summary.RefundedAmount)

	// Yesterday's releases fall out of the released-today figure.
	clk.Advance(24 * time.Hour)
	summary, err = svc.Summarize(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, summary.Released)
	assert.Equal(t, "0", summary.ReleasedTodayAmount)
}
