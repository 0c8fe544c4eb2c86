package quota

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsComplete(t *testing.T) {
	table, err := NewPolicyTable(DefaultPolicy())
	require.NoError(t, err)

	for _, tier := range AllTiers {
		for _, dim := range EvaluationOrder {
			l, err := table.LimitFor(tier, dim)
			require.NoError(t, err, "%s/%s", tier, dim)
			assert.Positive(t, l.Limit)
			assert.Positive(t, l.Window)
		}
	}
	assert.Len(t, table.Entries(), len(AllTiers)*len(EvaluationOrder))
	assert.Equal(t, AllTiers, table.Tiers())
}

func TestDefaultPolicyValues(t *testing.T) {
	table, err := NewPolicyTable(DefaultPolicy())
	require.NoError(t, err)

	tests := []struct {
		tier  Tier
		dim   Dimension
		limit int64
		win   time.Duration
	}{
		{TierFree, DimensionGeneralAPI, 100, 15 * time.Minute},
		{TierFree, DimensionAIInvocation, 50, time.Hour},
		{TierFree, DimensionSessionCreation, 3, 24 * time.Hour},
		{TierFree, DimensionDailyBudget, 50000, 24 * time.Hour},
		{TierPro, DimensionAIInvocation, 200, time.Hour},
		{TierPro, DimensionSessionCreation, 10, 24 * time.Hour},
		{TierEnterprise, DimensionAIInvocation, 1000, time.Hour},
		{TierEnterprise, DimensionDailyBudget, 1000000, 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier)+"/"+string(tt.dim), func(t *testing.T) {
			l, err := table.LimitFor(tt.tier, tt.dim)
			require.NoError(t, err)
			assert.Equal(t, tt.limit, l.Limit)
			assert.Equal(t, tt.win, l.Window)
		})
	}
}

func TestUpgradeHintsOnlyOnFreeTier(t *testing.T) {
	table, err := NewPolicyTable(DefaultPolicy())
	require.NoError(t, err)

	for _, e := range table.Entries() {
		if e.Tier != TierFree {
			assert.Empty(t, e.UpgradeHint, "%s/%s", e.Tier, e.Dimension)
		}
	}
	l, _ := table.LimitFor(TierFree, DimensionAIInvocation)
	assert.NotEmpty(t, l.UpgradeHint)
}

func TestNewPolicyTable_ReportsEveryProblem(t *testing.T) {
	entries := DefaultPolicy()
	delete(entries, TierEnterprise)
	delete(entries[TierPro], DimensionSessionCreation)
	entries[TierFree][DimensionAIInvocation] = Limit{Limit: 0, Window: time.Hour}
	entries[TierFree][DimensionGeneralAPI] = Limit{Limit: 10, Window: 0}
	entries["gold"] = DefaultPolicy()[TierPro]
	entries[TierPro]["gpu-minutes"] = Limit{Limit: 1, Window: time.Hour}

	_, err := NewPolicyTable(entries)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Len(t, cfgErr.Problems, 6)
	assert.Contains(t, err.Error(), `tier "enterprise" is not defined`)
	assert.Contains(t, err.Error(), `unknown tier "gold"`)
	assert.Contains(t, err.Error(), `unknown dimension "gpu-minutes"`)
}

func TestNewPolicyTable_IsImmutable(t *testing.T) {
	entries := DefaultPolicy()
	table, err := NewPolicyTable(entries)
	require.NoError(t, err)

	entries[TierFree][DimensionAIInvocation] = Limit{Limit: 1, Window: time.Second}

	l, err := table.LimitFor(TierFree, DimensionAIInvocation)
	require.NoError(t, err)
	assert.Equal(t, int64(50), l.Limit)
}

func TestLimitFor_UnknownTier(t *testing.T) {
	table, err := NewPolicyTable(DefaultPolicy())
	require.NoError(t, err)

	_, err = table.LimitFor("platinum", DimensionAIInvocation)
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestParseTier(t *testing.T) {
	for _, tier := range AllTiers {
		got, err := ParseTier(string(tier))
		require.NoError(t, err)
		assert.Equal(t, tier, got)
	}
	for _, bad := range []string{"", "Free", "premium"} {
		_, err := ParseTier(bad)
		assert.ErrorIs(t, err, ErrUnknownTier, "ParseTier(%q)", bad)
	}
}
