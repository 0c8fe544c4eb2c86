package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/quotagate/pkg/admission"
	"github.com/rhuss/quotagate/pkg/auth"
	"github.com/rhuss/quotagate/pkg/counter/memory"
	"github.com/rhuss/quotagate/pkg/quota"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProxy_ForwardsIdentityAndStripsSpoofedHeaders(t *testing.T) {
	var gotSubject, gotTier, gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get(SubjectHeader)
		gotTier = r.Header.Get(TierHeader)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	p, err := New(Config{Target: backend.URL, Logger: quietLogger()})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/evaluate", nil)
	req.Header.Set(SubjectHeader, "spoofed")
	req = req.WithContext(auth.SetIdentity(req.Context(), &auth.Identity{Subject: "alice", ServiceTier: "pro"}))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", gotSubject)
	assert.Equal(t, "pro", gotTier)
	assert.Equal(t, "/api/evaluate", gotPath)
}

func TestProxy_ReportsConsumption(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(DefaultCostHeader, "1234")
		io.WriteString(w, `{"question":"..."}`)
	}))
	defer backend.Close()

	p, err := New(Config{Target: backend.URL, Logger: quietLogger()})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	table, err := quota.NewPolicyTable(quota.DefaultPolicy())
	require.NoError(t, err)
	a := quota.NewAdmitter(
		memory.New(memory.WithNow(func() time.Time { return now })),
		table,
		quota.WithClock(quota.ClockFunc(func() time.Time { return now })),
		quota.WithLogger(quietLogger()),
	)
	route := admission.Route{Pattern: "POST /api/questions/generate", Dimensions: []quota.Dimension{quota.DimensionDailyBudget}}
	h := admission.Middleware(a, route, admission.Options{Logger: quietLogger(), Estimator: admission.FixedCost(100)})(p)

	req := httptest.NewRequest("POST", "/api/questions/generate", strings.NewReader(`{"prompt":"x"}`))
	ctx := auth.SetAddress(req.Context(), "192.0.2.1")
	ctx = auth.SetIdentity(ctx, &auth.Identity{Subject: "alice", ServiceTier: "free"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(DefaultCostHeader), "accounting header is not exposed")

	d, err := a.Usage(context.Background(), quota.CallerIdentity{Subject: "alice", Tier: quota.TierFree}, quota.DimensionDailyBudget)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), d.Usage)
}

func TestProxy_IgnoresMalformedCost(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(DefaultCostHeader, "lots")
	}))
	defer backend.Close()

	p, err := New(Config{Target: backend.URL, Logger: quietLogger()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProxy_DownstreamUnavailable(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	p, err := New(Config{Target: url, Logger: quietLogger()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("POST", "/api/evaluate", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_error")
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New(Config{Target: "/relative"})
	assert.Error(t, err)
	_, err = New(Config{Target: "://bad"})
	assert.Error(t, err)
}
