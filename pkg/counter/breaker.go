package counter

import (
	"sync/atomic"
	"time"
)

// BreakerState is the state of a Breaker.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerOptions configures breaker thresholds. Zero values take defaults.
type BreakerOptions struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Default 10.
	FailureThreshold int64
	// OpenDuration is how long the breaker fails fast before probing.
	// Default 200ms.
	OpenDuration time.Duration
	// HalfOpenMaxCalls bounds concurrent probes. Default 5.
	HalfOpenMaxCalls int64
}

// Breaker is a lock-free circuit breaker guarding store calls.
type Breaker struct {
	state            atomic.Int32
	openUntil        atomic.Int64
	failures         atomic.Int64
	halfOpenInFlight atomic.Int64
	opts             BreakerOptions
	now              func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(opts BreakerOptions) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 10
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = 200 * time.Millisecond
	}
	if opts.HalfOpenMaxCalls <= 0 {
		opts.HalfOpenMaxCalls = 5
	}
	b := &Breaker{opts: opts, now: time.Now}
	b.state.Store(int32(BreakerClosed))
	return b
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	if b == nil {
		return BreakerClosed
	}
	return BreakerState(b.state.Load())
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	switch BreakerState(b.state.Load()) {
	case BreakerOpen:
		if b.now().UnixNano() < b.openUntil.Load() {
			return false
		}
		if b.state.CompareAndSwap(int32(BreakerOpen), int32(BreakerHalfOpen)) {
			b.halfOpenInFlight.Store(0)
		}
		return b.admitProbe()
	case BreakerHalfOpen:
		return b.admitProbe()
	default:
		return true
	}
}

func (b *Breaker) admitProbe() bool {
	if b.halfOpenInFlight.Add(1) <= b.opts.HalfOpenMaxCalls {
		return true
	}
	b.halfOpenInFlight.Add(-1)
	return false
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	if b == nil {
		return
	}
	if BreakerState(b.state.Load()) == BreakerHalfOpen {
		b.halfOpenInFlight.Add(-1)
		b.state.Store(int32(BreakerClosed))
	}
	b.failures.Store(0)
}

// OnAbort records a call abandoned by its caller. It releases a probe slot
// without moving the state.
func (b *Breaker) OnAbort() {
	if b == nil {
		return
	}
	if BreakerState(b.state.Load()) == BreakerHalfOpen {
		b.halfOpenInFlight.Add(-1)
	}
}

// OnFailure records a failed call.
func (b *Breaker) OnFailure() {
	if b == nil {
		return
	}
	if BreakerState(b.state.Load()) == BreakerHalfOpen {
		b.halfOpenInFlight.Add(-1)
		b.trip()
		return
	}
	if b.failures.Add(1) >= b.opts.FailureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.failures.Store(b.opts.FailureThreshold)
	b.openUntil.Store(b.now().Add(b.opts.OpenDuration).UnixNano())
	b.state.Store(int32(BreakerOpen))
}
