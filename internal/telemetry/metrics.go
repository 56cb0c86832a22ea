// Package telemetry provides observability primitives for the dispatcher.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eugener/ratedispatch/internal/dispatch"
)

// Metrics holds all Prometheus collectors, renamed from the gateway's
// HTTP-routing vocabulary (method/path/status labels) to the Status
// Tracker's vocabulary: there is only one route here, the dispatch loop
// itself, so the labels that matter are error class and endpoint kind.
type Metrics struct {
	RequestsStarted   prometheus.Counter
	RequestsSucceeded prometheus.Counter
	RequestsFailed    prometheus.Counter
	InProgress        prometheus.Gauge

	RateLimitErrors prometheus.Counter
	APIErrors       prometheus.Counter
	OtherErrors     prometheus.Counter

	RetryQueueDepth   prometheus.Gauge
	AvailableRequests prometheus.Gauge
	AvailableTokens   prometheus.Gauge
	TokensEstimated   *prometheus.CounterVec
	AttemptDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratedispatch",
			Name:      "requests_started_total",
			Help:      "Total number of requests read from the input stream.",
		}),
		RequestsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratedispatch",
			Name:      "requests_succeeded_total",
			Help:      "Total number of requests that reached a terminal success.",
		}),
		RequestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratedispatch",
			Name:      "requests_failed_total",
			Help:      "Total number of requests that exhausted their attempts.",
		}),
		InProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratedispatch",
			Name:      "requests_in_progress",
			Help:      "Number of requests started but not yet terminal.",
		}),

		RateLimitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratedispatch",
			Name:      "rate_limit_errors_total",
			Help:      "Total server-reported rate-limit error observations.",
		}),
		APIErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratedispatch",
			Name:      "api_errors_total",
			Help:      "Total non-rate-limit server-reported error observations.",
		}),
		OtherErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratedispatch",
			Name:      "other_errors_total",
			Help:      "Total transport or decode failures.",
		}),

		RetryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratedispatch",
			Name:      "retry_queue_depth",
			Help:      "Current number of records awaiting another attempt.",
		}),
		AvailableRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratedispatch",
			Name:      "admission_available_requests",
			Help:      "Current available request-bucket capacity.",
		}),
		AvailableTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratedispatch",
			Name:      "admission_available_tokens",
			Help:      "Current available token-bucket capacity.",
		}),
		TokensEstimated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratedispatch",
			Name:      "tokens_estimated_total",
			Help:      "Total estimated token cost of requests read from the input, by endpoint kind.",
		}, []string{"endpoint_kind"}),
		AttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                   "ratedispatch",
			Name:                        "attempt_duration_seconds",
			Help:                        "Duration of a single call attempt.",
			NativeHistogramBucketFactor: 1.1,
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RequestsStarted,
		m.RequestsSucceeded,
		m.RequestsFailed,
		m.InProgress,
		m.RateLimitErrors,
		m.APIErrors,
		m.OtherErrors,
		m.RetryQueueDepth,
		m.AvailableRequests,
		m.AvailableTokens,
		m.TokensEstimated,
		m.AttemptDuration,
	)

	return m
}

// Poller reconciles the Prometheus counters and gauges against the Status
// Tracker's cumulative totals on each call to Poll. A prometheus.Counter
// only exposes Add, not Set, so this tracks the last-seen totals itself and
// forwards only the delta since the previous poll.
type Poller struct {
	metrics *Metrics
	last    dispatch.Snapshot
}

// NewPoller creates a Poller for metrics.
func NewPoller(metrics *Metrics) *Poller {
	return &Poller{metrics: metrics}
}

// AdmissionState is the point-in-time sample of the Admission Controller
// and Retry Queue a Poll call feeds into the corresponding gauges
// (SPEC_FULL.md §4.11). cmd/ratedispatch calls Poll once per second.
type AdmissionState struct {
	AvailableRequests float64
	AvailableTokens   float64
	RetryQueueDepth   int
}

// Poll reads snap and advances every counter by its delta against the
// previous poll, then sets the point-in-time gauges from snap and adm.
func (p *Poller) Poll(snap dispatch.Snapshot, adm AdmissionState) {
	p.metrics.RequestsStarted.Add(float64(snap.Started - p.last.Started))
	p.metrics.RequestsSucceeded.Add(float64(snap.Succeeded - p.last.Succeeded))
	p.metrics.RequestsFailed.Add(float64(snap.Failed - p.last.Failed))
	p.metrics.RateLimitErrors.Add(float64(snap.RateLimitErrors - p.last.RateLimitErrors))
	p.metrics.APIErrors.Add(float64(snap.APIErrors - p.last.APIErrors))
	p.metrics.OtherErrors.Add(float64(snap.OtherErrors - p.last.OtherErrors))
	p.metrics.InProgress.Set(float64(snap.InProgress))
	p.metrics.AvailableRequests.Set(adm.AvailableRequests)
	p.metrics.AvailableTokens.Set(adm.AvailableTokens)
	p.metrics.RetryQueueDepth.Set(float64(adm.RetryQueueDepth))
	p.last = snap
}
