package counter

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds a single store call.
const DefaultTimeout = 100 * time.Millisecond

// GuardOptions configures a Guarded store.
type GuardOptions struct {
	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
	Breaker BreakerOptions
}

// Guarded decorates a Store with a per-call timeout and a circuit breaker.
// Every error it returns satisfies errors.Is(err, ErrUnavailable).
type Guarded struct {
	next    Store
	timeout time.Duration
	breaker *Breaker
}

var _ Store = (*Guarded)(nil)

// NewGuarded wraps next.
func NewGuarded(next Store, opts GuardOptions) *Guarded {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Guarded{
		next:    next,
		timeout: opts.Timeout,
		breaker: NewBreaker(opts.Breaker),
	}
}

// Breaker exposes the breaker for health reporting.
func (g *Guarded) Breaker() *Breaker {
	return g.breaker
}

func (g *Guarded) IncrementAndGet(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	var n int64
	err := g.do(ctx, "incr", func(ctx context.Context) error {
		var err error
		n, err = g.next.IncrementAndGet(ctx, key, amount, ttl)
		return err
	})
	return n, err
}

func (g *Guarded) Get(ctx context.Context, key string) (int64, error) {
	var n int64
	err := g.do(ctx, "get", func(ctx context.Context) error {
		var err error
		n, err = g.next.Get(ctx, key)
		return err
	})
	return n, err
}

func (g *Guarded) Remove(ctx context.Context, key string) error {
	return g.do(ctx, "remove", func(ctx context.Context) error {
		return g.next.Remove(ctx, key)
	})
}

// Ping bypasses the breaker so readiness probes always reach the backend.
func (g *Guarded) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return Unavailable("ping", g.next.Ping(ctx))
}

func (g *Guarded) Close() error {
	return g.next.Close()
}

func (g *Guarded) do(ctx context.Context, op string, call func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return Unavailable(op, err)
	}
	if !g.breaker.Allow() {
		return Unavailable(op, errors.New("circuit open"))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := call(callCtx)
	if err == nil {
		g.breaker.OnSuccess()
		return nil
	}

	// Caller cancellation does not count against the backend.
	if ctx.Err() != nil {
		g.breaker.OnAbort()
	} else {
		g.breaker.OnFailure()
	}
	return Unavailable(op, err)
}
