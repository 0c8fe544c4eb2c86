package quota

import (
	"fmt"
	"sort"
	"time"
)

// Limit is one policy entry: the ceiling on accumulated units within one
// fixed window.
type Limit struct {
	Limit  int64
	Window time.Duration
	// UpgradeHint is surfaced in denial payloads; empty means none.
	UpgradeHint string
}

// PolicyTable maps (tier, dimension) to a Limit. It is validated once at
// construction and never mutated afterwards.
type PolicyTable struct {
	entries map[Tier]map[Dimension]Limit
}

// NewPolicyTable validates entries exhaustively and returns an immutable
// table. Every tier must define every dimension with a positive limit and
// window; all problems are reported together.
func NewPolicyTable(entries map[Tier]map[Dimension]Limit) (*PolicyTable, error) {
	var problems []string

	for tier := range entries {
		if _, err := ParseTier(string(tier)); err != nil {
			problems = append(problems, fmt.Sprintf("unknown tier %q", tier))
		}
	}

	copied := make(map[Tier]map[Dimension]Limit, len(AllTiers))
	for _, tier := range AllTiers {
		dims, ok := entries[tier]
		if !ok {
			problems = append(problems, fmt.Sprintf("tier %q is not defined", tier))
			continue
		}
		for dim := range dims {
			if _, err := ParseDimension(string(dim)); err != nil {
				problems = append(problems, fmt.Sprintf("tier %q: unknown dimension %q", tier, dim))
			}
		}
		row := make(map[Dimension]Limit, len(EvaluationOrder))
		for _, dim := range EvaluationOrder {
			l, ok := dims[dim]
			if !ok {
				problems = append(problems, fmt.Sprintf("tier %q: dimension %q is not defined", tier, dim))
				continue
			}
			if l.Limit <= 0 {
				problems = append(problems, fmt.Sprintf("tier %q: dimension %q: limit must be > 0, got %d", tier, dim, l.Limit))
			}
			if l.Window < time.Millisecond {
				problems = append(problems, fmt.Sprintf("tier %q: dimension %q: window must be >= 1ms, got %s", tier, dim, l.Window))
			}
			row[dim] = l
		}
		copied[tier] = row
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &ConfigurationError{Problems: problems}
	}
	return &PolicyTable{entries: copied}, nil
}

// LimitFor returns the policy entry for (tier, dim).
func (p *PolicyTable) LimitFor(tier Tier, dim Dimension) (Limit, error) {
	row, ok := p.entries[tier]
	if !ok {
		return Limit{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	l, ok := row[dim]
	if !ok {
		return Limit{}, fmt.Errorf("%w: %q", ErrUnknownDimension, dim)
	}
	return l, nil
}

// Tiers returns the tiers defined by the table.
func (p *PolicyTable) Tiers() []Tier {
	out := make([]Tier, 0, len(p.entries))
	for _, tier := range AllTiers {
		if _, ok := p.entries[tier]; ok {
			out = append(out, tier)
		}
	}
	return out
}

// Entry is one row of a listed policy table.
type Entry struct {
	Tier      Tier
	Dimension Dimension
	Limit
}

// Entries lists the table in tier then evaluation order.
func (p *PolicyTable) Entries() []Entry {
	out := make([]Entry, 0, len(AllTiers)*len(EvaluationOrder))
	for _, tier := range p.Tiers() {
		for _, dim := range EvaluationOrder {
			out = append(out, Entry{Tier: tier, Dimension: dim, Limit: p.entries[tier][dim]})
		}
	}
	return out
}

// DefaultPolicy returns the stock tier table. The general API limit is the
// same for every tier; upgrade hints are only offered on the free tier.
func DefaultPolicy() map[Tier]map[Dimension]Limit {
	const (
		generalWindow = 15 * time.Minute
		day           = 24 * time.Hour
	)
	return map[Tier]map[Dimension]Limit{
		TierFree: {
			DimensionGeneralAPI:      {Limit: 100, Window: generalWindow},
			DimensionAIInvocation:    {Limit: 50, Window: time.Hour, UpgradeHint: "Consider upgrading to Pro for increased limits"},
			DimensionSessionCreation: {Limit: 3, Window: day, UpgradeHint: "Upgrade to Pro for more daily sessions"},
			DimensionDailyBudget:     {Limit: 50000, Window: day, UpgradeHint: "Upgrade to Pro for a larger daily budget"},
		},
		TierPro: {
			DimensionGeneralAPI:      {Limit: 100, Window: generalWindow},
			DimensionAIInvocation:    {Limit: 200, Window: time.Hour},
			DimensionSessionCreation: {Limit: 10, Window: day},
			DimensionDailyBudget:     {Limit: 200000, Window: day},
		},
		TierEnterprise: {
			DimensionGeneralAPI:      {Limit: 100, Window: generalWindow},
			DimensionAIInvocation:    {Limit: 1000, Window: time.Hour},
			DimensionSessionCreation: {Limit: 100, Window: day},
			DimensionDailyBudget:     {Limit: 1000000, Window: day},
		},
	}
}
