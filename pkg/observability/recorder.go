package observability

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/rhuss/quotagate/pkg/debug"
	"github.com/rhuss/quotagate/pkg/quota"
)

// Recorder turns admission events into Prometheus metrics and structured
// log lines. It implements quota.Observer.
type Recorder struct {
	logger *slog.Logger
}

var _ quota.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder. A nil logger uses slog.Default().
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// ObserveDecision records one per-dimension decision.
func (r *Recorder) ObserveDecision(ctx context.Context, d *quota.Decision) {
	outcome := "admitted"
	if !d.Admitted {
		outcome = "denied"
	}
	AdmissionDecisionsTotal.WithLabelValues(
		string(d.Dimension), string(d.Tier), outcome, strconv.FormatBool(d.Degraded),
	).Inc()

	if !d.Degraded {
		StoreLatency.WithLabelValues(string(d.Dimension)).Observe(d.StoreLatency.Seconds())
	}

	if d.Admitted {
		debug.Log("admission", "admitted",
			"dimension", d.Dimension,
			"tier", d.Tier,
			"caller", d.CallerKey,
			"usage", d.Usage,
			"limit", d.Limit,
			"degraded", d.Degraded,
		)
		return
	}

	r.logger.InfoContext(ctx, "quota exceeded",
		"dimension", d.Dimension,
		"tier", d.Tier,
		"caller", d.CallerKey,
		"usage", d.Usage,
		"limit", d.Limit,
		"window", d.Window,
		"retry_after", d.RetryAfterSeconds(),
		"degraded", d.Degraded,
	)
}

// ObserveModeChange updates the admission mode gauge.
func (r *Recorder) ObserveModeChange(_, to quota.Mode) {
	if to == quota.ModeDegraded {
		AdmissionMode.Set(1)
		return
	}
	AdmissionMode.Set(0)
}

// ObserveTrueUp records units charged or credited after the fact.
func (r *Recorder) ObserveTrueUp(ctx context.Context, d *quota.Decision, delta int64) {
	if delta == 0 {
		return
	}
	direction := "charge"
	units := delta
	if delta < 0 {
		direction = "credit"
		units = -delta
	}
	TrueUpUnitsTotal.WithLabelValues(string(d.Dimension), direction).Add(float64(units))

	debug.Log("admission", "true-up applied",
		"dimension", d.Dimension,
		"caller", d.CallerKey,
		"delta", delta,
		"usage", d.Usage,
	)
}

// ObserveStoreError records a failed counter store call.
func (r *Recorder) ObserveStoreError(ctx context.Context, dim quota.Dimension, err error) {
	StoreErrorsTotal.WithLabelValues(string(dim)).Inc()
	r.logger.WarnContext(ctx, "counter store unavailable",
		"dimension", dim,
		"error", err,
	)
}
