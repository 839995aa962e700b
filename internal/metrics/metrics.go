package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SolveSubmissions counts submit outcomes: accepted, duplicate, busy, rejected
	SolveSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solve_submissions_total", Help: "Solve submissions by outcome."},
		[]string{"outcome"},
	)
	// SolveOutcomes counts finished jobs by terminal status
	SolveOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solve_jobs_total", Help: "Finished solve jobs by status."},
		[]string{"status"},
	)
	// SolveDuration tracks end-to-end solve durations in seconds
	SolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "solve_duration_seconds", Help: "Solve job duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}},
	)
	// SolveQueueDepth gauges jobs waiting in the worker pool queue
	SolveQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "solve_queue_depth", Help: "Solve jobs waiting in the worker queue."},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(SolveSubmissions)
		Registry.MustRegister(SolveOutcomes)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(SolveQueueDepth)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
