package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global collectors, registered through promauto so importing the package
// is enough to expose them.

var (
	// HTTP requests by method, route pattern and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kredo_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// Server response time per route.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kredo_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// Wall time of full scoring runs per project. Runs span many intervals,
	// so the buckets reach into minutes.
	ComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kredo_compute_duration_seconds",
			Help:    "Duration of full cred computations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"project"},
	)

	// Power-iteration counts observed per interval solve. The solver caps
	// at 255, so the top bucket catches non-converged solves.
	SolverIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kredo_solver_iterations",
			Help:    "Power iterations needed per interval solve",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 255},
		},
	)

	// Intervals scored since process start.
	ComputeIntervalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kredo_compute_intervals_total",
			Help: "Total number of scored intervals",
		},
	)

	// Projects currently registered in the engine.
	Projects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kredo_projects",
			Help: "Number of registered projects",
		},
	)
)
