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
	"github.com/x402gate/x402gate/internal/config"
	"github.com/x402gate/x402gate/internal/migration"
	domain "github.com/x402gate/x402gate/internal/organization/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *snowflake.Node) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "gate.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(migration.Models()...))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		DefaultEscrowHoldHours:    24,
		DefaultFreeTierLimit:      10,
		DefaultFreeTierPeriodDays: 30,
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewService(ServiceParam{DB: gdb, Log: zap.NewNop(), Cfg: cfg, Clock: clk}), node
}

func TestGetCreatesDefaults(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	orgID := node.Generate()

	settings, err := svc.Get(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, orgID, settings.OrgID)
	assert.Equal(t, 24, settings.EscrowHoldHours)
	assert.Equal(t, 10, settings.FreeTierLimit)
	assert.Equal(t, 30, settings.FreeTierPeriodDays)

	// A second read returns the same row, not a fresh one.
	again, err := svc.Get(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, settings.CreatedAt.Unix(), again.CreatedAt.Unix())
}

func TestGetRejectsZeroOrg(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestUpdateSettings(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	orgID := node.Generate()

	hold := 72
	limit := 0
	updated, err := svc.Update(ctx, orgID, domain.UpdateSettingsRequest{
		EscrowHoldHours: &hold,
		FreeTierLimit:   &limit,
	})
	require.NoError(t, err)
	assert.Equal(t, 72, updated.EscrowHoldHours)
	assert.Zero(t, updated.FreeTierLimit)
	assert.Equal(t, 30, updated.FreeTierPeriodDays, "unset fields keep their value")

	negative := -1
	_, err = svc.Update(ctx, orgID, domain.UpdateSettingsRequest{EscrowHoldHours: &negative})
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)

	zeroDays := 0
	_, err = svc.Update(ctx, orgID, domain.UpdateSettingsRequest{FreeTierPeriodDays: &zeroDays})
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
}
