// Package backend opens the counter store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/rhuss/quotagate/pkg/config"
	"github.com/rhuss/quotagate/pkg/counter"
	"github.com/rhuss/quotagate/pkg/counter/memory"
	"github.com/rhuss/quotagate/pkg/counter/postgres"
	"github.com/rhuss/quotagate/pkg/counter/redis"
)

// Open connects to the configured store. Shared stores are pinged before
// returning, so an unreachable store fails here rather than on first use.
func Open(ctx context.Context, cfg config.StoreConfig) (counter.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "redis":
		return redis.New(ctx, redis.Config{
			Addr:         cfg.Redis.Addr,
			Addrs:        cfg.Redis.Addrs,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// Guard wraps store with the configured timeout and circuit breaker.
func Guard(store counter.Store, cfg config.StoreConfig) *counter.Guarded {
	return counter.NewGuarded(store, counter.GuardOptions{
		Timeout: cfg.Timeout,
		Breaker: counter.BreakerOptions{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenDuration:     cfg.Breaker.OpenDuration,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		},
	})
}
