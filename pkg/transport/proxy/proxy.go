// Package proxy forwards admitted requests to the downstream content
// service and feeds the measured consumption back into admission control.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/rhuss/quotagate/pkg/admission"
	"github.com/rhuss/quotagate/pkg/api"
	"github.com/rhuss/quotagate/pkg/auth"
	"github.com/rhuss/quotagate/pkg/debug"
	"github.com/rhuss/quotagate/pkg/observability"
	"github.com/rhuss/quotagate/pkg/transport"
)

// Headers exchanged with the downstream service.
const (
	// DefaultCostHeader carries the measured consumption units on the
	// downstream response.
	DefaultCostHeader = "X-Consumption-Units"

	SubjectHeader = "X-Quota-Subject"
	TierHeader    = "X-Quota-Tier"
)

// Config configures the proxy.
type Config struct {
	// Target is the downstream base URL.
	Target string

	// Timeout bounds the wait for downstream response headers. Default: 60s.
	Timeout time.Duration

	// CostHeader names the response header with measured units.
	// Default: DefaultCostHeader.
	CostHeader string

	// Transport overrides the outbound round tripper (tests).
	Transport http.RoundTripper

	Logger *slog.Logger
}

// Proxy is an http.Handler that forwards requests to Target.
type Proxy struct {
	rp         *httputil.ReverseProxy
	costHeader string
	logger     *slog.Logger
}

// New creates a proxy for cfg.Target.
func New(cfg Config) (*Proxy, error) {
	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("parsing downstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("downstream url %q must be absolute", cfg.Target)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CostHeader == "" {
		cfg.CostHeader = DefaultCostHeader
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Transport == nil {
		cfg.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   64,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
		}
	}

	p := &Proxy{costHeader: cfg.CostHeader, logger: cfg.Logger}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del(SubjectHeader)
			pr.Out.Header.Del(TierHeader)
			if id := auth.IdentityFromContext(pr.In.Context()); id != nil {
				pr.Out.Header.Set(SubjectHeader, id.Subject)
				pr.Out.Header.Set(TierHeader, id.ServiceTier)
			}
		},
		Transport:      cfg.Transport,
		FlushInterval:  -1,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
	}
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := observability.NewStatusWriter(w)

	p.rp.ServeHTTP(sw, r)

	observability.DownstreamRequestsTotal.WithLabelValues(observability.StatusClass(sw.Status())).Inc()
	observability.DownstreamLatency.Observe(time.Since(start).Seconds())
}

// modifyResponse reports the measured cost and hides the accounting header
// from the client.
func (p *Proxy) modifyResponse(resp *http.Response) error {
	raw := resp.Header.Get(p.costHeader)
	if raw == "" {
		return nil
	}
	resp.Header.Del(p.costHeader)

	units, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || units < 0 {
		p.logger.Warn("ignoring malformed consumption header",
			"header", p.costHeader,
			"value", raw,
		)
		return nil
	}

	ctx := resp.Request.Context()
	if admission.ReportCost(ctx, units) {
		debug.Log("proxy", "consumption reported",
			"request_id", transport.RequestIDFromContext(ctx),
			"units", units,
		)
	}
	return nil
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil && errors.Is(err, context.Canceled) {
		// Client went away; there is no one to answer.
		debug.Log("proxy", "client cancelled", "path", r.URL.Path)
		w.WriteHeader(499)
		return
	}
	p.logger.Error("downstream request failed",
		"request_id", transport.RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"error", err,
	)
	transport.WriteAPIError(w, api.NewUpstreamError("downstream service unavailable"))
}
