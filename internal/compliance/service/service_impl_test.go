package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domain "github.com/x402gate/x402gate/internal/compliance/domain"
	"github.com/x402gate/x402gate/internal/compliance/geo"
	"github.com/x402gate/x402gate/internal/migration"
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

	resolver := geo.Static{
		"203.0.113.7":  "KP",
		"198.51.100.9": "DE",
	}
	return NewService(ServiceParam{DB: gdb, Log: zap.NewNop(), Geo: resolver, GenID: node}), node
}

func mustCreateRule(t *testing.T, svc domain.Service, orgID snowflake.ID, ruleType string, values ...string) *domain.Rule {
	t.Helper()
	rule, err := svc.CreateRule(context.Background(), domain.CreateRuleRequest{
		OrgID:  orgID.String(),
		Type:   ruleType,
		Values: values,
	})
	require.NoError(t, err)
	return rule
}

func TestAuthorizeNoRulesAllows(t *testing.T) {
	svc, node := newTestService(t)

	decision, err := svc.Authorize(context.Background(), domain.CheckInput{
		OrgID: node.Generate(),
		Payer: "0xanyone",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestDenyBeatsAllow(t *testing.T) {
	svc, node := newTestService(t)
	orgID := node.Generate()

	mustCreateRule(t, svc, orgID, domain.RuleWalletAllow, "0xBoth")
	deny := mustCreateRule(t, svc, orgID, domain.RuleWalletDeny, "0xBoth")

	decision, err := svc.Authorize(context.Background(), domain.CheckInput{
		OrgID: orgID,
		Payer: "0xboth",
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.RuleWalletDeny, decision.RuleType)
	assert.Equal(t, deny.ID, decision.RuleID)
}

func TestWalletAllowBypassesGeoBlock(t *testing.T) {
	svc, node := newTestService(t)
	orgID := node.Generate()

	mustCreateRule(t, svc, orgID, domain.RuleGeoBlock, "KP")
	mustCreateRule(t, svc, orgID, domain.RuleWalletAllow, "0xtrusted")

	decision, err := svc.Authorize(context.Background(), domain.CheckInput{
		OrgID:    orgID,
		Payer:    "0xTrusted",
		ClientIP: "203.0.113.7",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAllowListIsExclusive(t *testing.T) {
	svc, node := newTestService(t)
	orgID := node.Generate()

	allow := mustCreateRule(t, svc, orgID, domain.RuleWalletAllow, "0xtrusted")

	decision, err := svc.Authorize(context.Background(), domain.CheckInput{
		OrgID: orgID,
		Payer: "0xstranger",
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.RuleWalletAllow, decision.RuleType)
	assert.Equal(t, allow.ID, decision.RuleID)
	assert.Equal(t, "not on allow list", decision.Reason)

	// A payer on the list stays admitted.
	decision, err = svc.Authorize(context.Background(), domain.CheckInput{
		OrgID: orgID,
		Payer: "0xTrusted",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestGeoBlock(t *testing.T) {
	svc, node := newTestService(t)
	orgID := node.Generate()

	mustCreateRule(t, svc, orgID, domain.RuleGeoBlock, "KP")

	decision, err := svc.Authorize(context.Background(), domain.CheckInput{
		OrgID:    orgID,
		Payer:    "0xanyone",
		ClientIP: "203.0.113.7",
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.RuleGeoBlock, decision.RuleType)

	decision, err = svc.Authorize(context.Background(), domain.CheckInput{
		OrgID:    orgID,
		Payer:    "0xanyone",
		ClientIP: "198.51.100.9",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestGeoLookupFailureFailsOpen(t *testing.T) {
	svc, node := newTestService(t)
	orgID := node.Generate()

	mustCreateRule(t, svc, orgID, domain.RuleGeoBlock, "KP")

	// IP not in the resolver table: lookup fails, geo rules do not match.
	decision, err := svc.Authorize(context.Background(), domain.CheckInput{
		OrgID:    orgID,
		Payer:    "0xpayer",
		ClientIP: "192.0.2.55",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestInactiveRuleIgnored(t *testing.T) {
	svc, node := newTestService(t)
	orgID := node.Generate()

	rule := mustCreateRule(t, svc, orgID, domain.RuleWalletDeny, "0xbad")

	inactive := false
	_, err := svc.UpdateRule(context.Background(), rule.ID, domain.UpdateRuleRequest{Active: &inactive})
	require.NoError(t, err)

	decision, err := svc.Authorize(context.Background(), domain.CheckInput{
		OrgID: orgID,
		Payer: "0xbad",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCreateRuleValidation(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, domain.CreateRuleRequest{
		OrgID: node.Generate().String(),
		Type:  "wallet_maybe",
		Values: []string{
			"0xsomeone",
		},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRule)

	_, err = svc.CreateRule(ctx, domain.CreateRuleRequest{
		OrgID: node.Generate().String(),
		Type:  domain.RuleWalletDeny,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRule)
}
