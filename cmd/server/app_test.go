package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/quotagate/pkg/api"
	"github.com/rhuss/quotagate/pkg/config"
	"github.com/rhuss/quotagate/pkg/transport/proxy"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// contentService stands in for the downstream generator. It echoes the
// caller headers and reports 500 consumption units per AI call.
func contentService(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Subject", r.Header.Get(proxy.SubjectHeader))
		w.Header().Set("X-Seen-Tier", r.Header.Get(proxy.TierHeader))
		if strings.HasPrefix(r.URL.Path, "/api/questions") {
			w.Header().Set(proxy.DefaultCostHeader, "500")
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, modify func(*config.Config)) *app {
	t.Helper()
	cfg := config.Defaults()
	cfg.Downstream.URL = contentService(t).URL
	cfg.Auth.Type = "apikey"
	cfg.Auth.AllowAnonymous = true
	cfg.Auth.APIKeys = []config.APIKeyConfig{
		{Key: "pro-key", Subject: "alice", ServiceTier: "pro"},
		{Key: "free-key", Subject: "bob"},
	}
	if modify != nil {
		modify(&cfg)
	}
	require.NoError(t, cfg.Validate())

	a, err := newApp(context.Background(), &cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func do(t *testing.T, h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_ProxiesAdmittedRequest(t *testing.T) {
	a := newTestApp(t, nil)

	rec := do(t, a.Handler(), "POST", "/api/questions/generate", "pro-key", `{"prompt":"Explain goroutines"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alice", rec.Header().Get("X-Seen-Subject"))
	assert.Equal(t, "pro", rec.Header().Get("X-Seen-Tier"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Empty(t, rec.Header().Get(proxy.DefaultCostHeader))
}

func TestApp_UsageReflectsReportedConsumption(t *testing.T) {
	a := newTestApp(t, nil)
	h := a.Handler()

	require.Equal(t, http.StatusOK, do(t, h, "POST", "/api/questions/generate", "pro-key", `{"prompt":"a"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, "POST", "/api/questions/generate", "pro-key", `{"prompt":"b"}`).Code)

	rec := do(t, h, "GET", "/quota/usage", "pro-key", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report api.UsageReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "alice", report.Subject)
	assert.Equal(t, "pro", report.UserTier)

	usage := map[string]int64{}
	for _, d := range report.Dimensions {
		usage[d.Dimension] = d.Usage
	}
	assert.Equal(t, int64(2), usage["ai-invocation"])
	assert.Equal(t, int64(1000), usage["daily-consumption-budget"])
	assert.Equal(t, int64(0), usage["session-creation"])
}

func TestApp_SessionLimitForAnonymousCaller(t *testing.T) {
	a := newTestApp(t, nil)
	h := a.Handler()

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, do(t, h, "POST", "/api/sessions", "", "{}").Code, "session %d", i+1)
	}

	rec := do(t, h, "POST", "/api/sessions", "", "{}")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var denial api.QuotaDenial
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denial))
	assert.Equal(t, "session-creation", denial.Dimension)
	assert.Equal(t, "free", denial.UserTier)
	assert.NotNil(t, denial.Upgrade)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestApp_RejectsUnknownKey(t *testing.T) {
	a := newTestApp(t, nil)

	rec := do(t, a.Handler(), "POST", "/api/evaluate", "stolen-key", "{}")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApp_AnonymousDisallowed(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Auth.AllowAnonymous = false })

	assert.Equal(t, http.StatusUnauthorized, do(t, a.Handler(), "GET", "/api/anything", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, a.Handler(), "GET", "/api/anything", "free-key", "").Code)
}

func TestApp_OperationalEndpoints(t *testing.T) {
	a := newTestApp(t, nil)
	h := a.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/healthz", "", "").Code)

	rec := do(t, h, "GET", "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body readiness
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "memory", body.Store)
	assert.Equal(t, "enforcing", body.Mode)
	assert.Equal(t, "closed", body.Breaker)

	rec = do(t, h, "GET", "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")

	do(t, h, "GET", "/api/anything", "free-key", "")
	rec = do(t, h, "GET", "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quotagate_admission_decisions_total")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Downstream.URL = contentService(t).URL
	cfg.Server.Port = 0
	cfg.Store.Postgres.SweepInterval = 10 * time.Millisecond

	a, err := newApp(context.Background(), &cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewApp_UnreachableStore(t *testing.T) {
	cfg := config.Defaults()
	cfg.Downstream.URL = "http://127.0.0.1:1"
	cfg.Store.Type = "redis"
	cfg.Store.Redis.Addr = "127.0.0.1:1"
	cfg.Store.Redis.DialTimeout = 100 * time.Millisecond

	_, err := newApp(context.Background(), &cfg, quietLogger())
	assert.Error(t, err)
}

func TestNewAuthChain(t *testing.T) {
	chain, err := newAuthChain(config.AuthConfig{Type: "none", AnonymousTier: "pro"})
	require.NoError(t, err)
	require.Len(t, chain.Authenticators, 1)

	chain, err = newAuthChain(config.AuthConfig{
		Type: "jwt",
		JWT:  config.JWTConfig{Secret: "s3cr3t"},
		APIKeys: []config.APIKeyConfig{
			{Key: "k", Subject: "svc"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, chain.Authenticators, 2, "jwt plus api keys")

	_, err = newAuthChain(config.AuthConfig{Type: "saml"})
	assert.Error(t, err)
}
