package config

import (
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/rhuss/quotagate/pkg/admission"
	"github.com/rhuss/quotagate/pkg/quota"
)

// BuildPolicyTable converts quota.tiers into an immutable policy table.
// An empty tiers section selects the built-in table; otherwise every gap
// or unknown name is reported in a single *quota.ConfigurationError.
func (c *Config) BuildPolicyTable() (*quota.PolicyTable, error) {
	if len(c.Quota.Tiers) == 0 {
		return quota.NewPolicyTable(quota.DefaultPolicy())
	}

	entries := make(map[quota.Tier]map[quota.Dimension]quota.Limit, len(c.Quota.Tiers))
	for tierName, dims := range c.Quota.Tiers {
		limits := make(map[quota.Dimension]quota.Limit, len(dims))
		for dimName, l := range dims {
			limits[quota.Dimension(dimName)] = quota.Limit{
				Limit:       l.Limit,
				Window:      l.Window,
				UpgradeHint: l.UpgradeHint,
			}
		}
		entries[quota.Tier(tierName)] = limits
	}
	return quota.NewPolicyTable(entries)
}

// BuildRoutes parses quota.routes. A dimension name that is not defined
// yields a *quota.InvalidDimensionError.
func (c *Config) BuildRoutes() ([]admission.Route, error) {
	routes := make([]admission.Route, 0, len(c.Quota.Routes))
	seen := make(map[string]bool, len(c.Quota.Routes))
	for i, rc := range c.Quota.Routes {
		pattern := strings.TrimSpace(rc.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("quota.routes[%d].pattern is required", i)
		}
		if seen[pattern] {
			return nil, fmt.Errorf("quota.routes[%d]: duplicate pattern %q", i, pattern)
		}
		seen[pattern] = true
		if len(rc.Dimensions) == 0 {
			return nil, fmt.Errorf("quota.routes[%d]: route %q declares no dimensions", i, pattern)
		}

		route := admission.Route{Pattern: pattern}
		for _, name := range rc.Dimensions {
			dim, err := quota.ParseDimension(name)
			if err != nil {
				return nil, &quota.InvalidDimensionError{Route: pattern, Dimension: name}
			}
			route.Dimensions = append(route.Dimensions, dim)
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// BuildEstimator returns the configured cost estimator.
func (c *Config) BuildEstimator() (admission.CostEstimator, error) {
	cost := c.Quota.Cost
	switch cost.Estimator {
	case "body_size", "":
		return admission.BodySizeEstimator{BytesPerUnit: cost.BytesPerUnit}, nil
	case "prompt_length":
		return admission.PromptLengthEstimator{Field: cost.Field}, nil
	case "fixed":
		return admission.FixedCost(cost.Units), nil
	default:
		return nil, fmt.Errorf("unknown cost estimator %q", cost.Estimator)
	}
}

// BuildDegradedCap returns the limiter applied while the store is down,
// or nil when the cap is disabled.
func (c *Config) BuildDegradedCap() *rate.Limiter {
	dc := c.Quota.DegradedCap
	if dc.Rate == 0 && dc.Burst == 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(dc.Rate), dc.Burst)
}
