package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueriesTotal counts queries that have reached a terminal state.
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_queries_total",
			Help: "Total number of queries by terminal state",
		},
		[]string{"state"},
	)

	QueriesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_queries_running",
			Help: "Number of queries currently in RUNNING or CANCELLATION_REQUESTED state",
		},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foreman_query_duration_seconds",
			Help:    "Wall-clock time from PENDING to a terminal state",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"state"},
	)

	// Admission metrics
	AdmissionWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foreman_admission_wait_duration_seconds",
			Help:    "Time a query spent waiting in an admission queue",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	AdmissionTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_admission_timeouts_total",
			Help: "Total number of queries rejected for exceeding the admission queue timeout",
		},
		[]string{"queue"},
	)

	AdmissionQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_admission_queue_depth",
			Help: "Current number of queries waiting in an admission queue",
		},
		[]string{"queue"},
	)

	// Dispatch metrics
	DispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foreman_dispatch_latency_seconds",
			Help:    "Time to submit all fragments of a given phase to their assigned endpoints",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	DispatchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_dispatch_failures_total",
			Help: "Total number of fragment submission RPCs that failed",
		},
		[]string{"phase"},
	)

	// Fragment metrics
	FragmentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_fragments_total",
			Help: "Number of tracked fragments by state",
		},
		[]string{"state"},
	)

	FragmentStatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_fragment_status_updates_total",
			Help: "Total number of fragment status messages received",
		},
		[]string{"state"},
	)

	// WorkEventBus metrics
	RecentlyFinishedSetSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_recently_finished_set_size",
			Help: "Number of entries in the recently-finished fragment suppression cache",
		},
	)

	LateStatusMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_late_status_messages_total",
			Help: "Total number of status messages received for a query no longer registered in the event bus",
		},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_rpc_requests_total",
			Help: "Total number of RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foreman_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueriesRunning)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(AdmissionWaitDuration)
	prometheus.MustRegister(AdmissionTimeoutsTotal)
	prometheus.MustRegister(AdmissionQueueDepth)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(DispatchFailuresTotal)
	prometheus.MustRegister(FragmentsTotal)
	prometheus.MustRegister(FragmentStatusUpdatesTotal)
	prometheus.MustRegister(RecentlyFinishedSetSize)
	prometheus.MustRegister(LateStatusMessagesTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
