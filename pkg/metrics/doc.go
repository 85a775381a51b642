/*
Package metrics provides Prometheus metrics collection and exposition for the
Foreman query-coordination core.

The metrics package defines and registers every Foreman metric using the
Prometheus client library, giving observability into query throughput,
admission queue behavior, fragment dispatch latency, and fragment lifecycle
counts. Metrics are exposed via an HTTP endpoint for scraping by Prometheus
servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Categories               │          │
	│  │                                              │          │
	│  │  Queries: totals by terminal state, duration │          │
	│  │  Admission: wait time, timeouts, queue depth │          │
	│  │  Dispatch: latency by phase, failures        │          │
	│  │  Fragments: counts by state, status updates  │          │
	│  │  WorkEventBus: recently-finished set size,   │          │
	│  │    late status messages                      │          │
	│  │  RPC: request count, duration                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            HTTP Exposition                   │          │
	│  │  - metrics.Handler() mounted at /metrics    │          │
	│  │  - scraped by Prometheus on an interval     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

Registering the HTTP handler:

	mux.Handle("/metrics", metrics.Handler())

Recording a query's terminal state:

	metrics.QueriesTotal.WithLabelValues(string(types.QueryCompleted)).Inc()

Timing a dispatch phase:

	timer := metrics.NewTimer()
	// ... submit all intermediate fragments ...
	timer.ObserveDurationVec(metrics.DispatchLatency, "intermediate")

Health and readiness endpoints are provided by health.go in this package;
see that file for MarkSubsystemReady usage. Readiness gates on the
eventbus, persistence, and rpc subsystems and folds in the live
QueriesRunning gauge value.

# Integration Points

This package integrates with:

  - pkg/foreman: records query terminal-state counts and duration
  - pkg/admission: records queue wait time and timeouts
  - pkg/dispatch: records per-phase latency and RPC failures
  - pkg/querymanager: records tracker registrations and status updates by state

AdmissionQueueDepth, RecentlyFinishedSetSize, LateStatusMessagesTotal,
RPCRequestsTotal and RPCRequestDuration are registered but not updated by
any package in this module.
*/
package metrics
