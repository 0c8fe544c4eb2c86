package admission

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/rhuss/quotagate/pkg/api"
	"github.com/rhuss/quotagate/pkg/auth"
	"github.com/rhuss/quotagate/pkg/observability"
	"github.com/rhuss/quotagate/pkg/quota"
	"github.com/rhuss/quotagate/pkg/transport"
)

// Rate limit headers. Reset is the number of seconds until the window of
// the reported dimension ends.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderDimension = "X-RateLimit-Dimension"
)

// Route binds a request pattern to the dimensions it is metered under.
type Route struct {
	// Pattern is a net/http ServeMux pattern, e.g. "POST /api/evaluate".
	Pattern    string
	Dimensions []quota.Dimension
}

// Weighted reports whether the route includes a consumption dimension.
func (r Route) Weighted() bool {
	return slices.ContainsFunc(r.Dimensions, quota.Dimension.Weighted)
}

// Options configures the admission middleware.
type Options struct {
	// Estimator predicts the cost of weighted routes. Default:
	// BodySizeEstimator with DefaultBytesPerUnit.
	Estimator CostEstimator

	// RefundOnFailure returns request charges when the handler responds
	// with a 5xx status.
	RefundOnFailure bool

	Logger *slog.Logger
}

// Middleware enforces the route's quotas for every request it wraps. It
// must run after auth.Middleware.
func Middleware(admitter *quota.Admitter, route Route, opts Options) func(http.Handler) http.Handler {
	if opts.Estimator == nil {
		opts.Estimator = BodySizeEstimator{BytesPerUnit: DefaultBytesPerUnit}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &middleware{admitter: admitter, route: route, opts: opts}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(next, w, r)
		})
	}
}

type middleware struct {
	admitter *quota.Admitter
	route    Route
	opts     Options
}

func (m *middleware) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := m.opts.Logger.With("request_id", transport.RequestIDFromContext(ctx))

	caller, apiErr := callerFromContext(r, logger)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	cost := int64(1)
	if m.route.Weighted() {
		est, err := m.opts.Estimator.Estimate(r)
		if err != nil {
			transport.WriteAPIError(w, api.NewInvalidRequestError("body", err.Error()))
			return
		}
		cost = max(est, 1)
	}

	out, err := m.admitter.AdmitAll(ctx, caller, m.route.Dimensions, cost)
	if err != nil {
		m.writeAdmissionError(w, r, logger, err)
		return
	}

	if err := out.Err(); quota.IsQuotaExceeded(err) {
		logger.Debug("request denied", "path", r.URL.Path, "error", err)
		WriteDenial(w, quota.DecisionFromError(err), m.admitter.Clock().Now())
		return
	}

	setRateLimitHeaders(w.Header(), out.MostRestrictive(), m.admitter.Clock().Now())

	res := newReservation(out, cost)
	sw := observability.NewStatusWriter(w)
	next.ServeHTTP(sw, r.WithContext(contextWithReservation(ctx, res)))

	m.settle(context.WithoutCancel(ctx), logger, res, sw.Status())
}

// settle reconciles the reservation once the handler has finished.
func (m *middleware) settle(ctx context.Context, logger *slog.Logger, res *Reservation, status int) {
	failed := m.opts.RefundOnFailure && status >= http.StatusInternalServerError
	actual, reported := res.Actual()

	for _, d := range res.Decisions() {
		var err error
		switch {
		case d.Dimension.Weighted() && reported:
			logger.Debug("settling consumption", "dimension", d.Dimension, "estimate", res.Estimate(), "actual", actual)
			_, err = m.admitter.TrueUp(ctx, d, actual)
		case failed:
			err = m.admitter.Refund(ctx, d)
		}
		if err != nil {
			logger.Warn("quota reconciliation failed",
				"dimension", d.Dimension,
				"caller", d.CallerKey,
				"error", err,
			)
		}
	}
}

func (m *middleware) writeAdmissionError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The client is gone; nothing useful can be written.
		logger.Debug("admission aborted", "path", r.URL.Path, "error", err)
	case errors.Is(err, quota.ErrUnknownTier):
		logger.Error("tier missing from policy table", "error", err)
		transport.WriteAPIError(w, api.NewForbiddenError("unknown_tier", "subscription tier is not recognized"))
	case errors.Is(err, quota.ErrEmptyCallerKey):
		logger.Error("caller has no key for route dimensions", "path", r.URL.Path, "error", err)
		transport.WriteAPIError(w, api.NewServerError("caller identity incomplete"))
	default:
		logger.Error("admission failed", "path", r.URL.Path, "error", err)
		transport.WriteAPIError(w, api.NewServerError("admission failed"))
	}
}

// callerFromContext builds the quota identity from the auth identity and
// address recorded by auth.Middleware. An unknown tier is rejected, never
// downgraded.
func callerFromContext(r *http.Request, logger *slog.Logger) (quota.CallerIdentity, *api.APIError) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		return quota.CallerIdentity{}, api.NewUnauthorizedError("authentication required")
	}

	tier, err := quota.ParseTier(id.ServiceTier)
	if err != nil {
		logger.Error("unknown subscription tier",
			"subject", id.Subject,
			"tier", id.ServiceTier,
		)
		return quota.CallerIdentity{}, api.NewForbiddenError("unknown_tier", "subscription tier is not recognized")
	}

	addr := auth.AddressFromContext(r.Context())
	if addr == "" {
		addr = auth.RemoteHost(r)
	}

	return quota.CallerIdentity{
		Subject: id.Subject,
		Address: addr,
		Tier:    tier,
	}, nil
}

// DenialPayload builds the JSON body for a denying decision.
func DenialPayload(d *quota.Decision) api.QuotaDenial {
	p := api.QuotaDenial{
		Error:             d.Dimension.Info().DenialMessage,
		Dimension:         string(d.Dimension),
		Limit:             d.Limit,
		Usage:             d.Usage,
		WindowMs:          d.Window.Milliseconds(),
		UserTier:          string(d.Tier),
		RetryAfterSeconds: d.RetryAfterSeconds(),
		Degraded:          d.Degraded,
	}
	if d.UpgradeHint != "" {
		hint := d.UpgradeHint
		p.Upgrade = &hint
	}
	return p
}

// WriteDenial writes a 429 response for d with Retry-After and rate limit
// headers.
func WriteDenial(w http.ResponseWriter, d *quota.Decision, now time.Time) {
	h := w.Header()
	h.Set("Retry-After", strconv.FormatInt(d.RetryAfterSeconds(), 10))
	if !d.Degraded {
		setRateLimitHeaders(h, d, now)
	}
	transport.WriteJSON(w, http.StatusTooManyRequests, DenialPayload(d))
}

func setRateLimitHeaders(h http.Header, d *quota.Decision, now time.Time) {
	if d == nil {
		return
	}
	reset := int64(0)
	if left := d.WindowEnd.Sub(now); left > 0 {
		reset = int64((left + time.Second - 1) / time.Second)
	}
	h.Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining(), 10))
	h.Set(HeaderReset, strconv.FormatInt(reset, 10))
	h.Set(HeaderDimension, string(d.Dimension))
}
