package quota

import (
	"fmt"
	"math"
	"time"
)

// Tier is a caller's subscription tier. Tiers are resolved by the
// authentication layer; this package never guesses one.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// AllTiers lists every tier the policy table must define.
var AllTiers = []Tier{TierFree, TierPro, TierEnterprise}

// ParseTier converts a string to a Tier. Unknown values are an error,
// never a silent fallback to the free tier.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case TierFree, TierPro, TierEnterprise:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// Dimension is one quota axis enforced independently of the others.
type Dimension string

const (
	DimensionGeneralAPI      Dimension = "general-api"
	DimensionAIInvocation    Dimension = "ai-invocation"
	DimensionSessionCreation Dimension = "session-creation"
	DimensionDailyBudget     Dimension = "daily-consumption-budget"
)

// EvaluationOrder is the fixed order in which dimensions are evaluated for
// a single request. Broad request counters come first; the weighted
// consumption budget is always last.
var EvaluationOrder = []Dimension{
	DimensionGeneralAPI,
	DimensionSessionCreation,
	DimensionAIInvocation,
	DimensionDailyBudget,
}

// ParseDimension converts a string to a Dimension.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(s)
	if _, ok := dimensionInfo[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
	}
	return d, nil
}

// Keying selects which part of the caller identity keys a dimension.
type Keying int

const (
	// KeyBySubject keys the counter by the authenticated user.
	KeyBySubject Keying = iota
	// KeyByAddress keys the counter by the source address token.
	KeyByAddress
)

// Unit describes what a dimension's counter accumulates.
type Unit int

const (
	UnitRequests Unit = iota
	UnitConsumption
)

// DimensionInfo holds the static properties of a dimension.
type DimensionInfo struct {
	Keying        Keying
	Unit          Unit
	DenialMessage string
}

var dimensionInfo = map[Dimension]DimensionInfo{
	DimensionGeneralAPI: {
		Keying:        KeyByAddress,
		Unit:          UnitRequests,
		DenialMessage: "Too many requests from this IP, please try again later",
	},
	DimensionAIInvocation: {
		Keying:        KeyBySubject,
		Unit:          UnitRequests,
		DenialMessage: "AI request limit reached",
	},
	DimensionSessionCreation: {
		Keying:        KeyBySubject,
		Unit:          UnitRequests,
		DenialMessage: "Daily session limit reached",
	},
	DimensionDailyBudget: {
		Keying:        KeyBySubject,
		Unit:          UnitConsumption,
		DenialMessage: "Daily consumption budget exceeded",
	},
}

// Info returns the static properties of the dimension.
func (d Dimension) Info() DimensionInfo {
	return dimensionInfo[d]
}

// Weighted reports whether the dimension accumulates consumption units
// rather than request counts.
func (d Dimension) Weighted() bool {
	return dimensionInfo[d].Unit == UnitConsumption
}

// CallerIdentity is the resolved caller for one request. It is immutable
// for the lifetime of the request and never persisted.
type CallerIdentity struct {
	// Subject is the authenticated user identifier.
	Subject string
	// Address is the source-address token of the connection.
	Address string
	Tier    Tier
}

// KeyFor returns the caller component of the counter key for dim.
func (c CallerIdentity) KeyFor(dim Dimension) (string, error) {
	key := c.Subject
	if dim.Info().Keying == KeyByAddress {
		key = c.Address
	}
	if key == "" {
		return "", fmt.Errorf("%w for dimension %s", ErrEmptyCallerKey, dim)
	}
	return key, nil
}

// Decision is the outcome of evaluating one dimension for one request.
type Decision struct {
	Admitted bool
	// Degraded marks decisions taken while the counter store was
	// unavailable; such decisions were not quota-enforced.
	Degraded bool

	Dimension Dimension
	Tier      Tier
	CallerKey string
	Key       CounterKey

	Usage int64
	Limit int64
	Cost  int64

	Window     time.Duration
	WindowEnd  time.Time
	RetryAfter time.Duration

	UpgradeHint  string
	StoreLatency time.Duration
}

// Remaining returns the capacity left in the window, never negative.
func (d *Decision) Remaining() int64 {
	if d.Usage >= d.Limit {
		return 0
	}
	return d.Limit - d.Usage
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds and clamps the
// result to [1, window].
func (d *Decision) RetryAfterSeconds() int64 {
	secs := int64(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	if ceiling := int64(d.Window / time.Second); ceiling >= 1 && secs > ceiling {
		secs = ceiling
	}
	return secs
}

// Outcome collects the per-dimension decisions taken for one request.
type Outcome struct {
	Decisions []*Decision
	// Denied is the first denying decision, or nil when admitted.
	Denied *Decision
}

// Admitted reports whether every evaluated dimension admitted the request.
func (o *Outcome) Admitted() bool {
	return o.Denied == nil
}

// Err returns a *QuotaExceededError for the denying decision, or nil when
// the request was admitted.
func (o *Outcome) Err() error {
	if o.Denied == nil {
		return nil
	}
	return &QuotaExceededError{Decision: o.Denied}
}

// Degraded reports whether any decision was taken in degraded mode.
func (o *Outcome) Degraded() bool {
	for _, d := range o.Decisions {
		if d.Degraded {
			return true
		}
	}
	return false
}

// MostRestrictive returns the admitted decision with the least remaining
// capacity relative to its limit, or nil when there is none.
func (o *Outcome) MostRestrictive() *Decision {
	var best *Decision
	var bestRatio float64
	for _, d := range o.Decisions {
		if !d.Admitted || d.Degraded || d.Limit <= 0 {
			continue
		}
		ratio := float64(d.Remaining()) / float64(d.Limit)
		if best == nil || ratio < bestRatio {
			best, bestRatio = d, ratio
		}
	}
	return best
}
