// Package metrics exposes the broker's Prometheus instrumentation: the
// counters and histograms surfaced at GET /metrics, alongside the JSON
// health/stats documents served from internal/registry's own counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "logbroker_connections_accepted_total",
			Help: "Total number of subscribe connections accepted",
		},
	)

	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "logbroker_connections_active",
			Help: "Number of subscribe connections currently open",
		},
	)

	PublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logbroker_publishes_total",
			Help: "Total number of publish requests by outcome",
		},
		[]string{"outcome"},
	)

	EnvelopesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "logbroker_envelopes_delivered_total",
			Help: "Total number of envelopes written to a subscriber's queue",
		},
	)

	EnvelopesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logbroker_envelopes_dropped_total",
			Help: "Total number of envelopes dropped during fan-out by reason",
		},
		[]string{"reason"},
	)

	PublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logbroker_publish_duration_seconds",
			Help:    "Time taken to fan a publish out to its subscriber snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logbroker_publish_rate_limited_total",
			Help: "Total number of publish requests rejected by the per-service rate limiter",
		},
		[]string{"service"},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionsAccepted,
		ConnectionsActive,
		PublishesTotal,
		EnvelopesDelivered,
		EnvelopesDropped,
		PublishDuration,
		RateLimited,
	)
}

// Handler returns the Prometheus scrape handler mounted at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times a single publish fan-out.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time onto histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
