// Package redis implements the counter store on Redis.
//
// Every increment is one EVALSHA of a short Lua script, so the add, the
// create-time expiry and the clamp at zero are a single atomic server-side
// step. The script touches a single key, so it runs unchanged against a
// cluster: New builds a cluster client when more than one address is given.
package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rhuss/quotagate/pkg/counter"
)

//go:embed incr.lua
var incrScriptSource string

var incrScript = redis.NewScript(incrScriptSource)

// Config holds connection settings.
type Config struct {
	Addr string
	// Addrs lists cluster seed nodes. When it has more than one entry a
	// cluster client is used and DB must be zero.
	Addrs        []string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// Store is a Redis-backed counter store.
type Store struct {
	client    redis.UniversalClient
	ownClient bool
	closeOnce sync.Once
}

var _ counter.Store = (*Store)(nil)

// New connects to Redis and verifies the connection. An unreachable server
// at startup is a configuration error.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addrs := cfg.Addrs
	if len(addrs) == 0 && cfg.Addr != "" {
		addrs = []string{cfg.Addr}
	}
	if len(addrs) == 0 {
		return nil, errors.New("redis: addr is required")
	}
	if len(addrs) > 1 && cfg.DB != 0 {
		return nil, errors.New("redis: db must be 0 for a cluster")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connecting to %s: %w", strings.Join(addrs, ","), err)
	}
	if err := incrScript.Load(pingCtx, client).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: loading increment script: %w", err)
	}

	slog.Info("redis counter store connected", "addrs", addrs, "db", cfg.DB)
	return &Store{client: client, ownClient: true}, nil
}

// NewFromClient wraps an existing client. Close does not close it.
func NewFromClient(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) IncrementAndGet(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = 1
	}
	n, err := incrScript.Run(ctx, s.client, []string{key}, amount, ttlMs).Int64()
	if err != nil {
		return 0, counter.Unavailable("redis incr", err)
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, counter.Unavailable("redis get", err)
	}
	return n, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return counter.Unavailable("redis del", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, or a negative duration when
// the key is missing or has no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, counter.Unavailable("redis pttl", err)
	}
	return d, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return counter.Unavailable("redis ping", s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.ownClient {
			err = s.client.Close()
		}
	})
	return err
}
