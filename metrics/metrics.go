// Package metrics exposes Prometheus collectors for the stats service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "viewstats"

var (
	// UpstreamRequests counts HTTP calls to the statistics API by outcome
	// (ok, http_error, network_error, decode_error).
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Requests sent to the upstream statistics API, by outcome.",
	}, []string{"outcome"})

	// UpstreamDuration observes the latency of upstream calls.
	UpstreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Latency of upstream statistics API requests.",
		Buckets:   prometheus.DefBuckets,
	})

	// Refreshes counts completed refresh attempts by outcome
	// (refreshed, partial, stale, default).
	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refreshes_total",
		Help:      "Cache refresh attempts, by outcome.",
	}, []string{"outcome"})

	// Served counts stats responses by the source of their data.
	Served = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "served_total",
		Help:      "Stats responses served, by data source.",
	}, []string{"source"})

	// RecordAge is the age in seconds of the record most recently served.
	RecordAge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "record_age_seconds",
		Help:      "Age of the last served cache record.",
	})
)

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
