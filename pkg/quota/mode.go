package quota

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Mode is the admission subsystem's operating state.
type Mode int32

const (
	// ModeEnforcing means the counter store is reachable and quotas are
	// enforced exactly.
	ModeEnforcing Mode = iota
	// ModeDegraded means the last store call failed; requests are admitted
	// under the local coarse cap only.
	ModeDegraded
)

func (m Mode) String() string {
	switch m {
	case ModeDegraded:
		return "degraded"
	default:
		return "enforcing"
	}
}

// ModeTracker holds the current Mode. Every store result moves it: a
// success returns to Enforcing, a failure moves to Degraded.
type ModeTracker struct {
	mode     atomic.Int32
	logger   *slog.Logger
	observer Observer
}

// NewModeTracker returns a tracker in ModeEnforcing.
func NewModeTracker(logger *slog.Logger, observer Observer) *ModeTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	t := &ModeTracker{logger: logger, observer: observer}
	t.mode.Store(int32(ModeEnforcing))
	return t
}

// Mode returns the current mode.
func (t *ModeTracker) Mode() Mode {
	if t == nil {
		return ModeEnforcing
	}
	return Mode(t.mode.Load())
}

// RecordSuccess records a successful store call.
func (t *ModeTracker) RecordSuccess() {
	t.transition(ModeEnforcing)
}

// RecordFailure records a store call that failed with ErrUnavailable.
func (t *ModeTracker) RecordFailure() {
	t.transition(ModeDegraded)
}

func (t *ModeTracker) transition(to Mode) {
	if t == nil {
		return
	}
	from := Mode(t.mode.Swap(int32(to)))
	if from == to {
		return
	}
	level := slog.LevelWarn
	if to == ModeEnforcing {
		level = slog.LevelInfo
	}
	t.logger.Log(context.Background(), level, "admission mode changed",
		"old", from.String(),
		"new", to.String(),
	)
	t.observer.ObserveModeChange(from, to)
}
