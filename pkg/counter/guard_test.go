package counter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore is a Store whose behavior is set per test.
type stubStore struct {
	calls atomic.Int64
	delay time.Duration
	err   error
	value int64
}

func (s *stubStore) IncrementAndGet(ctx context.Context, _ string, amount int64, _ time.Duration) (int64, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if s.err != nil {
		return 0, s.err
	}
	s.value += amount
	return s.value, nil
}

func (s *stubStore) Get(ctx context.Context, _ string) (int64, error) {
	s.calls.Add(1)
	return s.value, s.err
}

func (s *stubStore) Remove(context.Context, string) error {
	s.calls.Add(1)
	return s.err
}

func (s *stubStore) Ping(context.Context) error { return s.err }
func (s *stubStore) Close() error               { return nil }

func TestGuarded_PassesThrough(t *testing.T) {
	stub := &stubStore{}
	g := NewGuarded(stub, GuardOptions{})

	n, err := g.IncrementAndGet(context.Background(), "k", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGuarded_TimeoutIsUnavailable(t *testing.T) {
	stub := &stubStore{delay: time.Second}
	g := NewGuarded(stub, GuardOptions{Timeout: 10 * time.Millisecond})

	start := time.Now()
	_, err := g.IncrementAndGet(context.Background(), "k", 1, time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGuarded_BackendErrorIsUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	g := NewGuarded(&stubStore{err: cause}, GuardOptions{})

	_, err := g.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestGuarded_BreakerFailsFast(t *testing.T) {
	stub := &stubStore{err: errors.New("down")}
	g := NewGuarded(stub, GuardOptions{Breaker: BreakerOptions{FailureThreshold: 3, OpenDuration: time.Hour}})
	ctx := context.Background()

	for range 3 {
		_, _ = g.IncrementAndGet(ctx, "k", 1, time.Minute)
	}
	require.Equal(t, BreakerOpen, g.Breaker().State())

	before := stub.calls.Load()
	_, err := g.IncrementAndGet(ctx, "k", 1, time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, before, stub.calls.Load(), "open breaker must not reach the backend")
}

func TestGuarded_CallerCancellationDoesNotTrip(t *testing.T) {
	stub := &stubStore{delay: time.Second}
	g := NewGuarded(stub, GuardOptions{Timeout: time.Second, Breaker: BreakerOptions{FailureThreshold: 1}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := g.IncrementAndGet(ctx, "k", 1, time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, BreakerClosed, g.Breaker().State())
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerOptions{FailureThreshold: 2, OpenDuration: time.Second, HalfOpenMaxCalls: 1})
	b.now = func() time.Time { return now }

	b.OnFailure()
	b.OnFailure()
	require.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(time.Second)
	assert.True(t, b.Allow(), "first probe after open duration")
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.False(t, b.Allow(), "probe limit reached")

	b.OnSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerOptions{FailureThreshold: 1, OpenDuration: time.Second})
	b.now = func() time.Time { return now }

	b.OnFailure()
	now = now.Add(time.Second)
	require.True(t, b.Allow())
	b.OnFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestUnavailable(t *testing.T) {
	assert.NoError(t, Unavailable("op", nil))

	wrapped := Unavailable("op", errors.New("boom"))
	assert.True(t, IsUnavailable(wrapped))
	assert.Same(t, wrapped, Unavailable("again", wrapped))
}
