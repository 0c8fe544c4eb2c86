package quota

import "context"

// Observer receives admission events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ObserveDecision(ctx context.Context, d *Decision)
	ObserveModeChange(from, to Mode)
	ObserveTrueUp(ctx context.Context, d *Decision, delta int64)
	ObserveStoreError(ctx context.Context, dim Dimension, err error)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) ObserveDecision(context.Context, *Decision)          {}
func (NopObserver) ObserveModeChange(Mode, Mode)                        {}
func (NopObserver) ObserveTrueUp(context.Context, *Decision, int64)     {}
func (NopObserver) ObserveStoreError(context.Context, Dimension, error) {}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) ObserveDecision(ctx context.Context, d *Decision) {
	for _, o := range m {
		o.ObserveDecision(ctx, d)
	}
}

func (m MultiObserver) ObserveModeChange(from, to Mode) {
	for _, o := range m {
		o.ObserveModeChange(from, to)
	}
}

func (m MultiObserver) ObserveTrueUp(ctx context.Context, d *Decision, delta int64) {
	for _, o := range m {
		o.ObserveTrueUp(ctx, d, delta)
	}
}

func (m MultiObserver) ObserveStoreError(ctx context.Context, dim Dimension, err error) {
	for _, o := range m {
		o.ObserveStoreError(ctx, dim, err)
	}
}
