package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "diplomas"

// Job outcomes recorded by JobsProcessed.
const (
	OutcomeCompleted    = "completed"
	OutcomeFailed       = "failed"
	OutcomeDropped      = "dropped"
	OutcomeDeadLettered = "dead_lettered"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	DiplomasCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "created_total",
			Help:      "Diplomas committed by the ingestion service",
		},
	)

	EnqueueFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_failures_total",
			Help:      "Generation jobs that could not be published after commit",
		},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Read cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Generation jobs handled by the worker by outcome",
		},
		[]string{"outcome"},
	)

	RenderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "PDF render latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Artifact upload latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	WorkerReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_reconnects_total",
			Help:      "Queue reconnect attempts made by the worker",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	OrphansRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_requeued_total",
			Help:      "Stale diplomas republished by the reconciliation sweep",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		DiplomasCreated,
		EnqueueFailures,
		CacheLookups,
		JobsProcessed,
		RenderDuration,
		UploadDuration,
		WorkerReconnects,
		CircuitBreakerState,
		OrphansRequeued,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer serves /metrics on its own port. The caller shuts the server down;
// a listen failure is logged and leaves the process running.
func StartMetricsServer(port string, logger *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{
				"field": "metrics",
				"addr":  srv.Addr,
			}).Error("metrics server stopped: " + err.Error())
		}
	}()
	return srv
}

func RecordRequest(method, path, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(method, path, status).Inc()
	RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordJob(outcome string) {
	JobsProcessed.WithLabelValues(outcome).Inc()
}

func RecordCacheLookup(result string) {
	CacheLookups.WithLabelValues(result).Inc()
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
