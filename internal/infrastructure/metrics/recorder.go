// Package metrics exposes workflow and HTTP counters through Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ideahub"

// Recorder implements port.Metrics on a private registry
type Recorder struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	claims      *prometheus.CounterVec
	deliveries  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// NewRecorder creates a recorder and registers its collectors together with
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idea_transitions_total",
			Help:      "Idea status transitions committed.",
		}, []string{"from", "to", "trigger"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "marketplace_claims_total",
			Help:      "Marketplace claim attempts by outcome.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification delivery attempts by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
	}

	r.registry.MustRegister(
		r.transitions, r.claims, r.deliveries,
		r.httpRequests, r.httpDuration, r.httpInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveTransition counts one committed transition
func (r *Recorder) ObserveTransition(from, to, trigger string) {
	r.transitions.WithLabelValues(from, to, trigger).Inc()
}

// ObserveClaim counts a won or lost marketplace claim
func (r *Recorder) ObserveClaim(won bool) {
	result := "lost"
	if won {
		result = "won"
	}
	r.claims.WithLabelValues(result).Inc()
}

// ObserveDelivery counts one delivery attempt outcome
func (r *Recorder) ObserveDelivery(result string) {
	r.deliveries.WithLabelValues(result).Inc()
}

// RequestStarted marks a request in flight and returns the function that
// records its completion.
func (r *Recorder) RequestStarted(method, route string) func(status int) {
	r.httpInFlight.Inc()
	start := time.Now()
	return func(status int) {
		code := strconv.Itoa(status)
		r.httpDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
		r.httpRequests.WithLabelValues(method, route, code).Inc()
		r.httpInFlight.Dec()
	}
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
