// Package observability holds the Prometheus instruments of the play gateway.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	SessionTransitions *prometheus.CounterVec
	BillingCalls       *prometheus.CounterVec
	BillingLatency     *prometheus.HistogramVec
	AssetResponses     *prometheus.CounterVec
	AssetBytes         prometheus.Counter
	RateLimited        *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	EventStreams       prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. A nil reg uses the default registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)

	return &Metrics{
		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Play session transitions by resulting state and reason.",
		}, []string{"state", "reason"}),
		BillingCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_calls_total",
			Help:      "Billing gate calls by operation, verdict and outcome.",
		}, []string{"op", "verdict", "outcome"}),
		BillingLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "billing_latency_ms",
			Help:      "Billing gate call latency in milliseconds, retries included.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"op"}),
		AssetResponses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_responses_total",
			Help:      "Asset responses by HTTP status.",
		}, []string{"status"}),
		AssetBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_bytes_total",
			Help:      "Asset payload bytes written to clients.",
		}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter, by route.",
		}, []string{"route"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_ms",
			Help:      "Duration of one expiry sweep pass in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		EventStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_streams",
			Help:      "Open session-event WebSocket streams.",
		}),
		gatherer: gatherer,
	}
}

func (m *Metrics) ObserveBilling(op, verdict, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BillingCalls.WithLabelValues(op, verdict, outcome).Inc()
	m.BillingLatency.WithLabelValues(op).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTransition(state, reason string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(state, reason).Inc()
}

func (m *Metrics) ObserveAsset(status int, bytes int64) {
	if m == nil {
		return
	}
	m.AssetResponses.WithLabelValues(statusLabel(status)).Inc()
	if bytes > 0 {
		m.AssetBytes.Add(float64(bytes))
	}
}

func (m *Metrics) ObserveRateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(route).Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveEventStreams(delta int) {
	if m == nil {
		return
	}
	m.EventStreams.Add(float64(delta))
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func statusLabel(status int) string {
	switch status {
	case http.StatusOK:
		return "200"
	case http.StatusPartialContent:
		return "206"
	case http.StatusNotModified:
		return "304"
	case http.StatusNotFound:
		return "404"
	case http.StatusRequestedRangeNotSatisfiable:
		return "416"
	case http.StatusTooManyRequests:
		return "429"
	default:
		if status >= 500 {
			return "5xx"
		}
		return "other"
	}
}
