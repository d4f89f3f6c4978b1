package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "echo_ledger"

// Metrics holds all application metrics
type Metrics struct {
	// Ledger writes
	CallsRecorded       *prometheus.CounterVec
	PartialWrites       *prometheus.CounterVec
	RecordErrors        *prometheus.CounterVec
	ReconcileRuns       prometheus.Counter
	ReconcileBackfilled prometheus.Counter
	ReconcileFailures   prometheus.Counter

	// Analytics reads
	QueryDuration *prometheus.HistogramVec

	// Event feed
	EventsPublished *prometheus.CounterVec
	EventLatency    prometheus.Histogram

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance registered on the default registry
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return instance
}

// NewWithRegistry creates metrics on a private registry, used by tests and tools
func NewWithRegistry() *Metrics {
	reg := prometheus.NewRegistry()
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CallsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_recorded_total",
			Help:      "Total number of calls recorded in the ledger",
		}, []string{"outcome"}),
		PartialWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_partial_writes_total",
			Help:      "Abandoned-call recordings where exactly one of the two writes failed",
		}, []string{"failed_write"}),
		RecordErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_errors_total",
			Help:      "Total number of rejected or failed ledger writes",
		}, []string{"outcome", "kind"}),
		ReconcileRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Total number of reconciliation runs",
		}),
		ReconcileBackfilled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_backfilled_records_total",
			Help:      "Total number of abandoned-call rows created by reconciliation",
		}),
		ReconcileFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_user_failures_total",
			Help:      "Total number of per-user reconciliation failures",
		}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of analytics queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"query"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of ledger events published",
		}, []string{"event_type", "status"}),
		EventLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_publish_latency_seconds",
			Help:      "Ledger event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"endpoint", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		gatherer: gatherer,
	}
}

// RecordCall counts a delivered ledger write
func (m *Metrics) RecordCall(outcome string) {
	m.CallsRecorded.WithLabelValues(outcome).Inc()
}

// RecordPartialWrite counts an abandoned recording where one write failed
func (m *Metrics) RecordPartialWrite(failedWrite string) {
	m.PartialWrites.WithLabelValues(failedWrite).Inc()
}

// RecordError counts a rejected or failed ledger write by error kind
func (m *Metrics) RecordError(outcome, kind string) {
	m.RecordErrors.WithLabelValues(outcome, kind).Inc()
}

// RecordReconcile records the outcome of one reconciliation run
func (m *Metrics) RecordReconcile(recordsCreated, failures int) {
	m.ReconcileRuns.Inc()
	m.ReconcileBackfilled.Add(float64(recordsCreated))
	m.ReconcileFailures.Add(float64(failures))
}

// ObserveQuery records how long an analytics query took
func (m *Metrics) ObserveQuery(query string, duration time.Duration) {
	m.QueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordPublish records a ledger event publish attempt
func (m *Metrics) RecordPublish(eventType string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.EventsPublished.WithLabelValues(eventType, status).Inc()
	m.EventLatency.Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(endpoint, method, strconv.Itoa(statusCode)).Inc()
	m.HTTPDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
