package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/quotagate/pkg/quota"
)

func newTestRecorder() (*Recorder, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return NewRecorder(logger), &buf
}

func TestRecorder_Denial(t *testing.T) {
	r, buf := newTestRecorder()
	d := &quota.Decision{
		Admitted:   false,
		Dimension:  quota.DimensionAIInvocation,
		Tier:       quota.TierFree,
		CallerKey:  "alice",
		Usage:      51,
		Limit:      50,
		Window:     time.Hour,
		RetryAfter: 50 * time.Minute,
	}

	before := counterValue(t, AdmissionDecisionsTotal, "ai-invocation", "free", "denied", "false")
	r.ObserveDecision(context.Background(), d)
	after := counterValue(t, AdmissionDecisionsTotal, "ai-invocation", "free", "denied", "false")

	if after-before != 1 {
		t.Errorf("denied count delta = %f, want 1", after-before)
	}
	out := buf.String()
	if !strings.Contains(out, "quota exceeded") || !strings.Contains(out, "retry_after=3000") {
		t.Errorf("unexpected log output: %q", out)
	}
}

func TestRecorder_AdmissionIsQuietAtInfo(t *testing.T) {
	r, buf := newTestRecorder()
	d := &quota.Decision{
		Admitted:     true,
		Dimension:    quota.DimensionGeneralAPI,
		Tier:         quota.TierPro,
		Usage:        1,
		Limit:        100,
		StoreLatency: 2 * time.Millisecond,
	}

	beforeLat := histogramCount(t, StoreLatency, "general-api")
	r.ObserveDecision(context.Background(), d)

	if buf.Len() != 0 {
		t.Errorf("admission should not log at info level, got %q", buf.String())
	}
	if got := histogramCount(t, StoreLatency, "general-api") - beforeLat; got != 1 {
		t.Errorf("store latency samples delta = %d, want 1", got)
	}
}

func TestRecorder_DegradedSkipsLatency(t *testing.T) {
	r, _ := newTestRecorder()
	d := &quota.Decision{Admitted: true, Degraded: true, Dimension: quota.DimensionSessionCreation, Tier: quota.TierFree}

	beforeLat := histogramCount(t, StoreLatency, "session-creation")
	before := counterValue(t, AdmissionDecisionsTotal, "session-creation", "free", "admitted", "true")
	r.ObserveDecision(context.Background(), d)

	if got := counterValue(t, AdmissionDecisionsTotal, "session-creation", "free", "admitted", "true") - before; got != 1 {
		t.Errorf("degraded admitted delta = %f, want 1", got)
	}
	if got := histogramCount(t, StoreLatency, "session-creation") - beforeLat; got != 0 {
		t.Errorf("degraded decision recorded latency")
	}
}

func TestRecorder_ModeChange(t *testing.T) {
	r, _ := newTestRecorder()

	r.ObserveModeChange(quota.ModeEnforcing, quota.ModeDegraded)
	if got := gaugeValue(t, AdmissionMode); got != 1 {
		t.Errorf("mode gauge = %f, want 1", got)
	}
	r.ObserveModeChange(quota.ModeDegraded, quota.ModeEnforcing)
	if got := gaugeValue(t, AdmissionMode); got != 0 {
		t.Errorf("mode gauge = %f, want 0", got)
	}
}

func TestRecorder_TrueUp(t *testing.T) {
	r, _ := newTestRecorder()
	d := &quota.Decision{Dimension: quota.DimensionDailyBudget}

	charge := counterValue(t, TrueUpUnitsTotal, "daily-consumption-budget", "charge")
	credit := counterValue(t, TrueUpUnitsTotal, "daily-consumption-budget", "credit")

	r.ObserveTrueUp(context.Background(), d, 250)
	r.ObserveTrueUp(context.Background(), d, -900)
	r.ObserveTrueUp(context.Background(), d, 0)

	if got := counterValue(t, TrueUpUnitsTotal, "daily-consumption-budget", "charge") - charge; got != 250 {
		t.Errorf("charge delta = %f, want 250", got)
	}
	if got := counterValue(t, TrueUpUnitsTotal, "daily-consumption-budget", "credit") - credit; got != 900 {
		t.Errorf("credit delta = %f, want 900", got)
	}
}

func TestRecorder_StoreError(t *testing.T) {
	r, buf := newTestRecorder()

	before := counterValue(t, StoreErrorsTotal, "ai-invocation")
	r.ObserveStoreError(context.Background(), quota.DimensionAIInvocation, errors.New("dial tcp: refused"))

	if got := counterValue(t, StoreErrorsTotal, "ai-invocation") - before; got != 1 {
		t.Errorf("store error delta = %f, want 1", got)
	}
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("store error should log at warn, got %q", buf.String())
	}
}
