// Package metrics exposes bundle pipeline metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/k11v/airgap/internal/bundle"
)

const Namespace = "airgap"

var _ bundle.Metrics = (*Prom)(nil)

// Prom implements bundle.Metrics backed by Prometheus collectors.
type Prom struct {
	jobsSubmitted *prometheus.CounterVec
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// NewProm creates the collectors and registers them with reg.
// It panics if they are already registered.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Bundle jobs accepted and enqueued by target",
		}, []string{"target"}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Bundle jobs moved to RUNNING by target",
		}, []string{"target"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Bundle jobs finished by target and status",
		}, []string{"target", "status"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Bundle build duration by target",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"target"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(p.jobsSubmitted, p.jobsStarted, p.jobsCompleted, p.buildDuration, p.requests, p.latency)
	return p
}

func (p *Prom) IncJobsSubmitted(target string) {
	p.jobsSubmitted.WithLabelValues(target).Inc()
}

func (p *Prom) IncJobsStarted(target string) {
	p.jobsStarted.WithLabelValues(target).Inc()
}

func (p *Prom) IncJobsCompleted(target, status string) {
	p.jobsCompleted.WithLabelValues(target, status).Inc()
}

func (p *Prom) ObserveBuildDuration(target string, durationSeconds float64) {
	p.buildDuration.WithLabelValues(target).Observe(durationSeconds)
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics serving g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
