package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rhuss/quotagate/pkg/quota"
)

// Validate checks the configuration for required fields and valid values.
// Every problem is reported, each with a descriptive field path. Policy
// and route problems keep their typed errors so callers can use errors.As.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	if c.Downstream.URL == "" {
		errs = append(errs, fmt.Errorf("downstream.url is required"))
	} else if u, err := url.Parse(c.Downstream.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("downstream.url must be an absolute URL, got %q", c.Downstream.URL))
	}

	switch c.Store.Type {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" && len(c.Store.Redis.Addrs) == 0 {
			errs = append(errs, fmt.Errorf("store.redis.addr or store.redis.addrs is required when store.type is \"redis\""))
		}
		if len(c.Store.Redis.Addrs) > 1 && c.Store.Redis.DB != 0 {
			errs = append(errs, fmt.Errorf("store.redis.db must be 0 with more than one store.redis.addrs entry"))
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" && c.Store.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("store.postgres.dsn or store.postgres.dsn_file is required when store.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("store.type must be \"memory\", \"redis\" or \"postgres\", got %q", c.Store.Type))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("store.timeout must be > 0, got %v", c.Store.Timeout))
	}

	switch c.Quota.Cost.Estimator {
	case "body_size", "prompt_length":
	case "fixed":
		if c.Quota.Cost.Units <= 0 {
			errs = append(errs, fmt.Errorf("quota.cost.units must be > 0 for the fixed estimator"))
		}
	default:
		errs = append(errs, fmt.Errorf("quota.cost.estimator must be \"body_size\", \"prompt_length\" or \"fixed\", got %q", c.Quota.Cost.Estimator))
	}
	if c.Quota.DegradedCap.Rate < 0 || c.Quota.DegradedCap.Burst < 0 {
		errs = append(errs, fmt.Errorf("quota.degraded_cap rate and burst must not be negative"))
	}

	if _, err := c.BuildPolicyTable(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.BuildRoutes(); err != nil {
		errs = append(errs, err)
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
			if k.ServiceTier != "" {
				if _, err := quota.ParseTier(k.ServiceTier); err != nil {
					errs = append(errs, fmt.Errorf("auth.api_keys[%d].service_tier: %w", i, err))
				}
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" && c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretFile == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url or auth.jwt.secret is required when auth.type is \"jwt\""))
		}
		if t := c.Auth.JWT.DefaultTier; t != "" {
			if _, err := quota.ParseTier(t); err != nil {
				errs = append(errs, fmt.Errorf("auth.jwt.default_tier: %w", err))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}
	if _, err := quota.ParseTier(c.Auth.AnonymousTier); err != nil {
		errs = append(errs, fmt.Errorf("auth.anonymous_tier: %w", err))
	}

	switch strings.ToLower(c.Observability.LogFormat) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("observability.log_format must be \"text\" or \"json\", got %q", c.Observability.LogFormat))
	}

	return errors.Join(errs...)
}
