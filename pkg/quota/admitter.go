package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/rhuss/quotagate/pkg/counter"
)

// degradedRetryAfter is the retry hint on a degraded-mode denial. There is
// no window to wait out, only the local cap to refill.
const degradedRetryAfter = time.Second

// Admitter evaluates admission requests against the policy table using a
// shared counter store. It is safe for concurrent use; all quota state
// lives in the store.
type Admitter struct {
	store        counter.Store
	table        *PolicyTable
	keys         KeyBuilder
	clock        Clock
	observer     Observer
	logger       *slog.Logger
	mode         *ModeTracker
	degradedCap  *rate.Limiter
	storeTimeout time.Duration
}

// Option configures an Admitter.
type Option func(*Admitter)

// WithClock sets the time source used to pick windows.
func WithClock(c Clock) Option {
	return func(a *Admitter) { a.clock = c }
}

// WithObserver sets the observability hook.
func WithObserver(o Observer) Option {
	return func(a *Admitter) { a.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Admitter) { a.logger = l }
}

// WithDegradedCap sets the process-local limiter consulted while the
// counter store is unavailable. A nil limiter admits everything.
func WithDegradedCap(l *rate.Limiter) Option {
	return func(a *Admitter) { a.degradedCap = l }
}

// WithStoreTimeout bounds each store call. Zero or negative disables the
// admitter's own deadline.
func WithStoreTimeout(d time.Duration) Option {
	return func(a *Admitter) { a.storeTimeout = d }
}

// WithKeyPrefix prefixes every counter key written to the store.
func WithKeyPrefix(prefix string) Option {
	return func(a *Admitter) { a.keys = KeyBuilder{Prefix: prefix} }
}

// NewAdmitter returns an Admitter over store and table.
func NewAdmitter(store counter.Store, table *PolicyTable, opts ...Option) *Admitter {
	a := &Admitter{
		store:        store,
		table:        table,
		clock:        SystemClock{},
		observer:     NopObserver{},
		logger:       slog.Default(),
		storeTimeout: counter.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.mode = NewModeTracker(a.logger, a.observer)
	return a
}

// Mode returns the current operating mode.
func (a *Admitter) Mode() Mode {
	return a.mode.Mode()
}

// Table returns the policy table.
func (a *Admitter) Table() *PolicyTable {
	return a.table
}

// Keys returns the key builder used for store keys.
func (a *Admitter) Keys() KeyBuilder {
	return a.keys
}

// Clock returns the clock used to place requests in windows.
func (a *Admitter) Clock() Clock {
	return a.clock
}

// degradedState tracks the coarse cap decision for one request so the
// limiter is consulted at most once regardless of how many dimensions
// fall back.
type degradedState struct {
	checked bool
	allowed bool
}

func (a *Admitter) allowDegraded(st *degradedState) bool {
	if a.degradedCap == nil {
		return true
	}
	if !st.checked {
		st.allowed = a.degradedCap.Allow()
		st.checked = true
	}
	return st.allowed
}

// Admit evaluates a single dimension. cost is the number of units to
// charge; request-count dimensions always charge 1. A store failure never
// surfaces as an error: the decision is taken in degraded mode instead.
func (a *Admitter) Admit(ctx context.Context, id CallerIdentity, dim Dimension, cost int64) (*Decision, error) {
	return a.evaluate(ctx, id, dim, cost, &degradedState{})
}

// AdmitAll evaluates dims in EvaluationOrder and stops at the first
// denial. Dimensions after a denial are not charged; charges already made
// for earlier dimensions are kept.
func (a *Admitter) AdmitAll(ctx context.Context, id CallerIdentity, dims []Dimension, cost int64) (*Outcome, error) {
	ordered, err := orderDimensions(dims)
	if err != nil {
		return nil, err
	}

	st := &degradedState{}
	out := &Outcome{Decisions: make([]*Decision, 0, len(ordered))}
	for _, dim := range ordered {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d, err := a.evaluate(ctx, id, dim, cost, st)
		if err != nil {
			return out, err
		}
		out.Decisions = append(out.Decisions, d)
		if !d.Admitted {
			out.Denied = d
			break
		}
	}
	return out, nil
}

// orderDimensions validates dims and returns them deduplicated in
// EvaluationOrder.
func orderDimensions(dims []Dimension) ([]Dimension, error) {
	for _, d := range dims {
		if _, err := ParseDimension(string(d)); err != nil {
			return nil, err
		}
	}
	out := make([]Dimension, 0, len(dims))
	for _, d := range EvaluationOrder {
		if slices.Contains(dims, d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (a *Admitter) evaluate(ctx context.Context, id CallerIdentity, dim Dimension, cost int64, st *degradedState) (*Decision, error) {
	limit, err := a.table.LimitFor(id.Tier, dim)
	if err != nil {
		return nil, err
	}
	callerKey, err := id.KeyFor(dim)
	if err != nil {
		return nil, err
	}
	if dim.Weighted() {
		if cost <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
		}
	} else {
		cost = 1
	}

	now := a.clock.Now()
	key := BuildKey(dim, callerKey, limit.Window, now)
	_, windowEnd := WindowBounds(key.Epoch, limit.Window)

	d := &Decision{
		Dimension:   dim,
		Tier:        id.Tier,
		CallerKey:   callerKey,
		Key:         key,
		Limit:       limit.Limit,
		Cost:        cost,
		Window:      limit.Window,
		WindowEnd:   windowEnd,
		UpgradeHint: limit.UpgradeHint,
	}

	start := time.Now()
	usage, err := a.increment(ctx, a.keys.Format(key), cost, limit.Window)
	d.StoreLatency = time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The caller went away; the store is not at fault.
			return nil, ctxErr
		}
		a.mode.RecordFailure()
		a.observer.ObserveStoreError(ctx, dim, err)
		d.Degraded = true
		d.Admitted = a.allowDegraded(st)
		if !d.Admitted {
			d.RetryAfter = degradedRetryAfter
		}
		a.observer.ObserveDecision(ctx, d)
		return d, nil
	}
	a.mode.RecordSuccess()

	d.Usage = usage
	d.Admitted = usage <= limit.Limit
	if !d.Admitted {
		d.RetryAfter = windowEnd.Sub(now)
		if dim.Weighted() {
			d.Usage = a.withdraw(ctx, d)
		}
	}
	a.observer.ObserveDecision(ctx, d)
	return d, nil
}

// withdraw takes a denied weighted charge back out of its counter so only
// committed consumption stays charged. It returns the committed usage.
func (a *Admitter) withdraw(ctx context.Context, d *Decision) int64 {
	committed := d.Usage - d.Cost
	usage, err := a.increment(context.WithoutCancel(ctx), a.keys.Format(d.Key), -d.Cost, d.Window)
	if err != nil {
		a.observer.ObserveStoreError(ctx, d.Dimension, err)
		a.logger.Warn("failed to withdraw denied charge",
			"key", d.Key.String(),
			"cost", d.Cost,
			"error", err,
		)
		return max(committed, 0)
	}
	return usage
}

func (a *Admitter) increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	if a.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.storeTimeout)
		defer cancel()
	}
	n, err := a.store.IncrementAndGet(ctx, key, amount, ttl)
	return n, counter.Unavailable("increment", err)
}

// TrueUp reconciles a consumption reservation with the measured cost by
// applying actual-Cost to the reservation's own key, even if the window
// has since rolled over. Degraded and request-count decisions are
// returned unchanged. The returned decision reflects the new usage.
func (a *Admitter) TrueUp(ctx context.Context, d *Decision, actual int64) (*Decision, error) {
	if d == nil || d.Degraded || !d.Admitted || !d.Dimension.Weighted() {
		return d, nil
	}
	if actual < 0 {
		return d, fmt.Errorf("%w: actual cost %d", ErrInvalidCost, actual)
	}
	delta := actual - d.Cost
	if delta == 0 {
		return d, nil
	}

	usage, err := a.increment(ctx, a.keys.Format(d.Key), delta, d.Window)
	if err != nil {
		a.mode.RecordFailure()
		a.observer.ObserveStoreError(ctx, d.Dimension, err)
		return d, err
	}
	a.mode.RecordSuccess()

	updated := *d
	updated.Usage = usage
	updated.Cost = actual
	a.observer.ObserveTrueUp(ctx, &updated, delta)
	return &updated, nil
}

// Refund returns an admitted decision's charge to its counter. It is the
// compensating action for requests whose downstream work failed and is
// only used when refund-on-failure is enabled.
func (a *Admitter) Refund(ctx context.Context, d *Decision) error {
	if d == nil || d.Degraded || !d.Admitted || d.Cost <= 0 {
		return nil
	}
	_, err := a.increment(ctx, a.keys.Format(d.Key), -d.Cost, d.Window)
	if err != nil {
		a.observer.ObserveStoreError(ctx, d.Dimension, err)
		return err
	}
	a.observer.ObserveTrueUp(ctx, d, -d.Cost)
	return nil
}

// Usage reports the caller's current consumption in dim without charging.
// Admitted reports whether one more unit would fit.
func (a *Admitter) Usage(ctx context.Context, id CallerIdentity, dim Dimension) (*Decision, error) {
	limit, err := a.table.LimitFor(id.Tier, dim)
	if err != nil {
		return nil, err
	}
	callerKey, err := id.KeyFor(dim)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	key := BuildKey(dim, callerKey, limit.Window, now)
	_, windowEnd := WindowBounds(key.Epoch, limit.Window)

	if a.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.storeTimeout)
		defer cancel()
	}
	start := time.Now()
	usage, err := a.store.Get(ctx, a.keys.Format(key))
	latency := time.Since(start)
	if err != nil {
		return nil, counter.Unavailable("get", err)
	}

	return &Decision{
		Admitted:     usage < limit.Limit,
		Dimension:    dim,
		Tier:         id.Tier,
		CallerKey:    callerKey,
		Key:          key,
		Usage:        usage,
		Limit:        limit.Limit,
		Window:       limit.Window,
		WindowEnd:    windowEnd,
		RetryAfter:   windowEnd.Sub(now),
		UpgradeHint:  limit.UpgradeHint,
		StoreLatency: latency,
	}, nil
}

// Reset removes the caller's counter for the current window of dim.
func (a *Admitter) Reset(ctx context.Context, id CallerIdentity, dim Dimension) error {
	limit, err := a.table.LimitFor(id.Tier, dim)
	if err != nil {
		return err
	}
	callerKey, err := id.KeyFor(dim)
	if err != nil {
		return err
	}
	key := BuildKey(dim, callerKey, limit.Window, a.clock.Now())
	if err := a.store.Remove(ctx, a.keys.Format(key)); err != nil {
		return counter.Unavailable("remove", err)
	}
	a.logger.Info("quota counter reset", "key", key.String(), "tier", id.Tier)
	return nil
}

// IsStoreUnavailable reports whether err came from an unreachable store.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, counter.ErrUnavailable)
}
