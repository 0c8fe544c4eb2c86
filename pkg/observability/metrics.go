// Package observability provides Prometheus metrics, HTTP middleware and
// the admission event recorder for monitoring the quota gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// RequestBuckets defines histogram buckets for end-to-end gateway
// latencies, ranging from 5ms to 60s.
var RequestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// StoreBuckets defines histogram buckets for counter store round trips,
// ranging from 0.5ms to 250ms.
var StoreBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quotagate_request_duration_seconds",
			Help:    "Request duration",
			Buckets: RequestBuckets,
		},
		[]string{"method", "route"},
	)

	// AdmissionDecisionsTotal counts per-dimension admission decisions.
	AdmissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_admission_decisions_total",
			Help: "Admission decisions",
		},
		[]string{"dimension", "tier", "outcome", "degraded"},
	)

	// StoreLatency records counter store round trips by dimension.
	StoreLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quotagate_store_latency_seconds",
			Help:    "Counter store latency",
			Buckets: StoreBuckets,
		},
		[]string{"dimension"},
	)

	// StoreErrorsTotal counts store calls that failed and fell back to
	// degraded admission.
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_store_errors_total",
			Help: "Counter store errors",
		},
		[]string{"dimension"},
	)

	// AdmissionMode is 0 while enforcing and 1 while degraded.
	AdmissionMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quotagate_admission_mode",
			Help: "Admission mode (0 enforcing, 1 degraded)",
		},
	)

	// TrueUpUnitsTotal counts units applied by post-hoc cost corrections
	// and refunds, split by direction (charge/credit).
	TrueUpUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_trueup_units_total",
			Help: "Units applied by true-up",
		},
		[]string{"dimension", "direction"},
	)

	// AuthRejectedTotal counts requests rejected before admission.
	AuthRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_auth_rejected_total",
			Help: "Authentication rejections",
		},
		[]string{"reason"},
	)

	// DownstreamRequestsTotal counts requests forwarded to the downstream
	// service by status class.
	DownstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_downstream_requests_total",
			Help: "Downstream requests",
		},
		[]string{"status"},
	)

	// DownstreamLatency records downstream latency in seconds.
	DownstreamLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quotagate_downstream_latency_seconds",
			Help:    "Downstream latency",
			Buckets: RequestBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AdmissionDecisionsTotal,
		StoreLatency,
		StoreErrorsTotal,
		AdmissionMode,
		TrueUpUnitsTotal,
		AuthRejectedTotal,
		DownstreamRequestsTotal,
		DownstreamLatency,
	)
}

// StatusClass returns a label like "2xx" for an HTTP status code.
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
