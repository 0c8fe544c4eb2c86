package backend

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/quotagate/pkg/config"
	"github.com/rhuss/quotagate/pkg/counter"
	"github.com/rhuss/quotagate/pkg/counter/memory"
	"github.com/rhuss/quotagate/pkg/counter/redis"
)

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := Open(context.Background(), config.StoreConfig{
		Type:  "redis",
		Redis: config.RedisConfig{Addr: mr.Addr()},
	})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &redis.Store{}, s)

	n, err := s.IncrementAndGet(context.Background(), "k", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestOpen_RedisUnreachable(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{
		Type:  "redis",
		Redis: config.RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond},
	})
	assert.Error(t, err)
}

func TestOpen_PostgresBadDSN(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{
		Type:     "postgres",
		Postgres: config.PostgresConfig{DSN: "://not a dsn"},
	})
	assert.Error(t, err)
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Type: "etcd"})
	assert.ErrorContains(t, err, "etcd")
}

func TestGuard(t *testing.T) {
	g := Guard(memory.New(), config.StoreConfig{
		Timeout: 50 * time.Millisecond,
		Breaker: config.BreakerConfig{FailureThreshold: 2},
	})
	assert.Equal(t, counter.BreakerClosed, g.Breaker().State())
}
